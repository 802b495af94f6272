package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// Schedule is a rule bound to a location and ready to be expanded. It is
// immutable; the same Schedule can be queried for many windows.
type Schedule struct {
	rule     Rule
	opts     Options
	loc      *time.Location
	origin   time.Time
	duration time.Duration
	// limit is the exclusive upper bound for occurrence starts.
	limit mo.Option[time.Time]
}

// Compile validates and normalizes rule for expansion in loc.
func Compile(rule Rule, loc *time.Location) (*Schedule, error) {
	if loc == nil {
		return nil, errors.New("location is required")
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	opts, err := Normalize(rule.Kind, rule.Text)
	if err != nil {
		return nil, err
	}

	s := &Schedule{
		rule:     rule,
		opts:     opts,
		loc:      loc,
		origin:   rule.EffectiveStart.At(opts.TimeOfDay, loc),
		duration: rule.Duration(),
	}

	var limits []time.Time
	if u, ok := opts.Until.Get(); ok {
		limits = append(limits, u.LocalDate(loc).EndOfDay(loc))
	}
	if end, ok := rule.EffectiveEnd.Get(); ok {
		limits = append(limits, end.EndOfDay(loc))
	}
	if len(limits) > 0 {
		s.limit = mo.Some(earliest(limits))
	}
	return s, nil
}

// Expand compiles rule and returns its occurrences intersecting
// [windowStart, windowEnd).
func Expand(rule Rule, windowStart, windowEnd time.Time, loc *time.Location) ([]Interval, error) {
	s, err := Compile(rule, loc)
	if err != nil {
		return nil, err
	}
	return s.Between(windowStart, windowEnd), nil
}

// Rule returns the rule the schedule was compiled from.
func (s *Schedule) Rule() Rule { return s.rule }

// Options returns the normalized options of the rule.
func (s *Schedule) Options() Options { return s.opts }

// Location returns the timezone occurrences are computed in.
func (s *Schedule) Location() *time.Location { return s.loc }

// Origin returns the local start of the first possible occurrence.
func (s *Schedule) Origin() time.Time { return s.origin }

// Between returns the occurrences intersecting [windowStart, windowEnd),
// ordered by start, in UTC.
func (s *Schedule) Between(windowStart, windowEnd time.Time) []Interval {
	if !windowStart.Before(windowEnd) {
		return nil
	}
	if s.opts.Kind == KindSingle {
		occ, ok := s.single()
		if !ok || !occ.Overlaps(Interval{Start: windowStart, End: windowEnd}) {
			return nil
		}
		return []Interval{occ}
	}

	// Nothing can reach into the window: skip iterating entirely.
	if limit, ok := s.limit.Get(); ok && !limit.Add(s.duration).After(windowStart) {
		return nil
	}
	if !s.origin.Before(windowEnd) {
		return nil
	}

	r, err := rrule.NewRRule(s.opts.rruleOption(s.origin, s.rruleUntil()))
	if err != nil {
		// Normalize already built this rule once; only an impossible origin gets here.
		return nil
	}

	// Starts are enumerated in local time. An occurrence starting up to one
	// duration before the window still reaches into it.
	starts := r.Between(windowStart.Add(-s.duration).In(s.loc), windowEnd.In(s.loc), true)

	out := make([]Interval, 0, len(starts))
	for _, start := range starts {
		occ := Interval{Start: start.UTC(), End: start.Add(s.duration).UTC()}
		// Re-filter in UTC: a DST shift can move a local start across the boundary.
		if occ.Start.Before(windowEnd) && occ.End.After(windowStart) {
			out = append(out, occ)
		}
	}
	return out
}

// single returns the one occurrence of a KindSingle rule.
func (s *Schedule) single() (Interval, bool) {
	occ := Interval{Start: s.origin, End: s.origin.Add(s.duration)}
	if end, ok := s.rule.EffectiveEnd.Get(); ok {
		if bound := end.EndOfDay(s.loc); bound.Before(occ.End) {
			occ.End = bound
		}
	}
	if !occ.Start.Before(occ.End) {
		return Interval{}, false
	}
	return occ.UTC(), true
}

// rruleUntil converts the exclusive start limit into rrule-go's inclusive,
// second-precision UNTIL.
func (s *Schedule) rruleUntil() mo.Option[time.Time] {
	limit, ok := s.limit.Get()
	if !ok {
		return mo.None[time.Time]()
	}
	return mo.Some(limit.Add(-time.Second).In(s.loc))
}

func (s *Schedule) String() string {
	return fmt.Sprintf("%s rule %q from %s in %s", s.opts.Kind, s.rule.Text, s.rule.EffectiveStart, s.loc)
}

func earliest(ts []time.Time) time.Time {
	first := ts[0]
	for _, t := range ts[1:] {
		if t.Before(first) {
			first = t
		}
	}
	return first
}
