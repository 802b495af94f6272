package conflict

import (
	"time"

	"github.com/cyp0633/staffavail/recurrence"
	"github.com/samber/mo"
)

// Candidate is a rule about to be created or updated.
type Candidate struct {
	Rule recurrence.Rule
	// ExcludeID is the id of the rule being updated, so it is not checked
	// against its own stored version.
	ExcludeID mo.Option[string]
}

// BlockingKind tells what a blocking conflict collided with.
type BlockingKind string

const (
	BlockingRule        BlockingKind = "availability_rule"
	BlockingTimeOff     BlockingKind = "time_off"
	BlockingInvalidRule BlockingKind = "invalid_rule"
)

// BlockingConflict describes the first overlap that prevents saving the
// candidate. Intervals are expressed in Location.
type BlockingConflict struct {
	Kind          BlockingKind        `json:"kind"`
	OtherEntityID string              `json:"other_entity_id,omitempty"`
	Message       string              `json:"message"`
	Candidate     recurrence.Interval `json:"candidate"`
	Other         recurrence.Interval `json:"other"`
	Location      *time.Location      `json:"-"`
	// Err is set for BlockingInvalidRule.
	Err error `json:"-"`
}

// Advisory records an overlap with a pending time-off request.
type Advisory struct {
	TimeOffRequestID string `json:"time_off_request_id"`
	Message          string `json:"message"`
}

// Result is the outcome of a conflict check.
type Result struct {
	HasBlockingConflict bool              `json:"has_blocking_conflict"`
	Blocking            *BlockingConflict `json:"blocking,omitempty"`
	Advisories          []Advisory        `json:"advisories,omitempty"`
}

// Err converts a blocking result into an *Error, or returns nil.
func (r Result) Err() error {
	if !r.HasBlockingConflict || r.Blocking == nil {
		return nil
	}
	if r.Blocking.Kind == BlockingInvalidRule {
		return &Error{Type: ErrInputValidation, Message: r.Blocking.Message, Err: r.Blocking.Err}
	}
	return &Error{Type: ErrConflict, Message: r.Blocking.Message, EntityID: r.Blocking.OtherEntityID}
}

// AdvisoryIDs returns the time-off request ids of the advisories, in order.
func (r Result) AdvisoryIDs() []string {
	ids := make([]string, 0, len(r.Advisories))
	for _, a := range r.Advisories {
		ids = append(ids, a.TimeOffRequestID)
	}
	return ids
}
