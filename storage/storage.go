package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/staffavail/recurrence"
	"github.com/samber/mo"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
	// ErrCorrupt marks a stored record that can no longer be decoded.
	ErrCorrupt ErrorType = "corrupt"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	// EntityID names the offending record, when there is one.
	EntityID string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsType reports whether err is a storage *Error of type t.
func IsType(err error, t ErrorType) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Type == t
}

// Establishment is a workplace; its IANA timezone drives every date
// calculation for the rules attached to it.
type Establishment struct {
	ID       string
	Name     string
	Timezone string
}

// AvailabilityRule is a persisted recurrence rule of one member at one
// establishment.
type AvailabilityRule struct {
	ID              string
	MembershipID    string
	EstablishmentID string
	Rule            recurrence.Rule
	// AdvisoryConflicts holds the ids of pending time-off requests that
	// overlapped the rule when it was last saved.
	AdvisoryConflicts []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TimeOffStatus is the lifecycle state of a time-off request.
type TimeOffStatus string

const (
	StatusPending           TimeOffStatus = "PENDING"
	StatusApproved          TimeOffStatus = "APPROVED"
	StatusRejected          TimeOffStatus = "REJECTED"
	StatusCancelledByMember TimeOffStatus = "CANCELLED_BY_MEMBER"
	StatusCancelledByAdmin  TimeOffStatus = "CANCELLED_BY_ADMIN"
)

// Valid reports whether s is a known status.
func (s TimeOffStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelledByMember, StatusCancelledByAdmin:
		return true
	}
	return false
}

// TimeOffRequest covers whole calendar days, StartDate and EndDate included.
type TimeOffRequest struct {
	ID           string
	MembershipID string
	StartDate    recurrence.Date
	EndDate      recurrence.Date
	Status       TimeOffStatus
	CreatedAt    time.Time
}

// RuleQuery selects the rules of a member whose validity period overlaps
// [From, To] by calendar date. A zero From or To leaves that side open.
type RuleQuery struct {
	MembershipID string
	From         recurrence.Date
	To           recurrence.Date
	ExcludeID    mo.Option[string]
}

// Matches reports whether r satisfies the query.
func (q RuleQuery) Matches(r AvailabilityRule) bool {
	if r.MembershipID != q.MembershipID {
		return false
	}
	if id, ok := q.ExcludeID.Get(); ok && r.ID == id {
		return false
	}
	if !q.To.IsZero() && r.Rule.EffectiveStart.After(q.To) {
		return false
	}
	if end, ok := r.Rule.EffectiveEnd.Get(); ok && !q.From.IsZero() && end.Before(q.From) {
		return false
	}
	return true
}

// TimeOffQuery selects the requests of a member in one of Statuses (any
// status when empty) whose day range overlaps [From, To].
type TimeOffQuery struct {
	MembershipID string
	Statuses     []TimeOffStatus
	From         recurrence.Date
	To           recurrence.Date
}

// Matches reports whether r satisfies the query.
func (q TimeOffQuery) Matches(r TimeOffRequest) bool {
	if r.MembershipID != q.MembershipID {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, r.Status) {
		return false
	}
	if !q.To.IsZero() && r.StartDate.After(q.To) {
		return false
	}
	if !q.From.IsZero() && r.EndDate.Before(q.From) {
		return false
	}
	return true
}

// EstablishmentStore resolves establishments.
type EstablishmentStore interface {
	// GetEstablishment returns an *Error of type ErrNotFound for unknown ids.
	GetEstablishment(ctx context.Context, id string) (*Establishment, error)
}

// AvailabilityStore lists persisted availability rules.
type AvailabilityStore interface {
	// ListRules returns the matching rules ordered by creation time, then id.
	ListRules(ctx context.Context, q RuleQuery) ([]AvailabilityRule, error)
}

// TimeOffStore lists time-off requests.
type TimeOffStore interface {
	// ListTimeOff returns the matching requests ordered by start date, then id.
	ListTimeOff(ctx context.Context, q TimeOffQuery) ([]TimeOffRequest, error)
}

// Storage is implemented by the storage backends. Please use the error
// types provided.
type Storage interface {
	EstablishmentStore
	AvailabilityStore
	TimeOffStore

	// CreateEstablishment assigns an id when e.ID is empty.
	CreateEstablishment(ctx context.Context, e *Establishment) error

	// GetRule finds a rule by id.
	GetRule(ctx context.Context, id string) (*AvailabilityRule, error)
	// CreateRule assigns an id when r.ID is empty and sets the timestamps.
	CreateRule(ctx context.Context, r *AvailabilityRule) error
	// UpdateRule replaces an existing rule, keeping its CreatedAt.
	UpdateRule(ctx context.Context, r *AvailabilityRule) error
	DeleteRule(ctx context.Context, id string) error

	// CreateTimeOff assigns an id when r.ID is empty. Status defaults to PENDING.
	CreateTimeOff(ctx context.Context, r *TimeOffRequest) error
	SetTimeOffStatus(ctx context.Context, id string, status TimeOffStatus) error
}

// ValidateEstablishment checks the fields every backend requires.
func ValidateEstablishment(e *Establishment) error {
	if e == nil {
		return &Error{Type: ErrInvalidInput, Message: "establishment is nil"}
	}
	if e.Timezone == "" {
		return &Error{Type: ErrInvalidInput, Message: "establishment timezone is required"}
	}
	if _, err := time.LoadLocation(e.Timezone); err != nil {
		return &Error{Type: ErrInvalidInput, Message: "unknown timezone " + e.Timezone, Err: err}
	}
	return nil
}

// ValidateRule checks the structure of r. The rule text is deliberately not
// parsed: stores keep what they are given.
func ValidateRule(r *AvailabilityRule) error {
	if r == nil {
		return &Error{Type: ErrInvalidInput, Message: "rule is nil"}
	}
	if r.MembershipID == "" {
		return &Error{Type: ErrInvalidInput, Message: "membership id is required"}
	}
	if err := r.Rule.Validate(); err != nil {
		return &Error{Type: ErrInvalidInput, Message: "invalid rule", Err: err}
	}
	return nil
}

// ValidateTimeOff checks the day range and status of r.
func ValidateTimeOff(r *TimeOffRequest) error {
	if r == nil {
		return &Error{Type: ErrInvalidInput, Message: "time-off request is nil"}
	}
	if r.MembershipID == "" {
		return &Error{Type: ErrInvalidInput, Message: "membership id is required"}
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return &Error{Type: ErrInvalidInput, Message: "start and end dates are required"}
	}
	if r.EndDate.Before(r.StartDate) {
		return &Error{Type: ErrInvalidInput, Message: fmt.Sprintf("end date %s is before start date %s", r.EndDate, r.StartDate)}
	}
	if r.Status != "" && !r.Status.Valid() {
		return &Error{Type: ErrInvalidInput, Message: "unknown status " + string(r.Status)}
	}
	return nil
}

// SortRules orders rules the way ListRules must return them.
func SortRules(rules []AvailabilityRule) {
	slices.SortFunc(rules, func(a, b AvailabilityRule) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// SortTimeOff orders requests the way ListTimeOff must return them.
func SortTimeOff(reqs []TimeOffRequest) {
	slices.SortFunc(reqs, func(a, b TimeOffRequest) int {
		switch {
		case a.StartDate.Before(b.StartDate):
			return -1
		case a.StartDate.After(b.StartDate):
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}
