package conflict

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies the faults raised by the detector.
type ErrorType string

const (
	// ErrInputValidation marks a candidate the caller must fix.
	ErrInputValidation ErrorType = "input_validation"
	// ErrConflict marks a blocking overlap, see Result.Err.
	ErrConflict ErrorType = "conflict"
	// ErrDataIntegrity marks persisted data that cannot be interpreted.
	ErrDataIntegrity ErrorType = "data_integrity"
	// ErrConfiguration marks a missing establishment or timezone.
	ErrConfiguration ErrorType = "configuration"
)

// Error is returned for every fault the detector raises itself. Storage
// errors are passed through unchanged and are never wrapped in an Error.
type Error struct {
	Type    ErrorType
	Message string
	// EntityID names the rule, time-off request or establishment involved.
	EntityID string
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.EntityID != "" {
		msg += fmt.Sprintf(" (%s)", e.EntityID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsType reports whether err carries a detector *Error of type t.
func IsType(err error, t ErrorType) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Type == t
}

// HTTPStatus maps an error type to the status class a transport should use.
func HTTPStatus(t ErrorType) int {
	switch t {
	case ErrInputValidation, ErrConflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
