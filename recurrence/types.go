package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// Kind tells single events apart from recurring rules.
type Kind int

const (
	KindSingle Kind = iota
	KindRecurring
)

// String provides a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindRecurring:
		return "recurring"
	default:
		return "unknown"
	}
}

// ParseKind converts the persisted form produced by Kind.String back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return KindSingle, nil
	case "recurring":
		return KindRecurring, nil
	default:
		return 0, fmt.Errorf("unknown rule kind %q", s)
	}
}

// InferKind guesses the kind of a legacy rule string that was stored without
// a discriminator. New code should always carry an explicit Kind.
func InferKind(text string) Kind {
	if strings.Contains(strings.ToUpper(text), "FREQ=") {
		return KindRecurring
	}
	return KindSingle
}

// Rule is a declarative availability pattern anchored on a validity period.
type Rule struct {
	Kind Kind
	// Text is the RRULE-style description (see Normalize for the grammar).
	Text string
	// DurationMinutes is the length of every occurrence.
	DurationMinutes int
	// EffectiveStart is the first calendar day the rule applies to; it also
	// anchors the recurrence origin.
	EffectiveStart Date
	// EffectiveEnd is the last calendar day (inclusive) the rule applies to.
	EffectiveEnd mo.Option[Date]
}

// Duration returns the occurrence length as a time.Duration.
func (r Rule) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// Validate checks the structural constraints that do not require parsing Text.
func (r Rule) Validate() error {
	if r.DurationMinutes <= 0 {
		return fmt.Errorf("duration must be positive, got %d minutes", r.DurationMinutes)
	}
	if r.EffectiveStart.IsZero() {
		return fmt.Errorf("effective start date is required")
	}
	if end, ok := r.EffectiveEnd.Get(); ok && end.Before(r.EffectiveStart) {
		return fmt.Errorf("effective end date %s is before start date %s", end, r.EffectiveStart)
	}
	return nil
}

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the two intervals share any instant.
// Intervals that merely touch do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}

// In returns the interval with both ends expressed in loc.
func (i Interval) In(loc *time.Location) Interval {
	return Interval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

// UTC returns the interval with both ends expressed in UTC.
func (i Interval) UTC() Interval {
	return i.In(time.UTC)
}

func (i Interval) String() string {
	return fmt.Sprintf("%s to %s", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}
