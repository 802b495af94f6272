package recurrence

import (
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// Horizon returns the last instant rule can cover in loc, or None when the
// rule repeats forever.
func Horizon(rule Rule, loc *time.Location) (mo.Option[time.Time], error) {
	s, err := Compile(rule, loc)
	if err != nil {
		return mo.None[time.Time](), err
	}
	return s.Horizon(), nil
}

// Horizon returns the last instant the schedule can cover, in UTC. The
// minimum of every bound the rule declares is used:
//   - UNTIL, as the end of that local day
//   - COUNT, as the end of the COUNT-th occurrence
//   - the effective end date, as the end of that local day
//
// A COUNT that yields no occurrence at all contributes no bound, so such a
// rule without UNTIL or end date is reported unbounded.
func (s *Schedule) Horizon() mo.Option[time.Time] {
	if s.opts.Kind == KindSingle {
		occ, ok := s.single()
		if !ok {
			return mo.Some(s.origin.UTC())
		}
		return mo.Some(occ.End)
	}

	var bounds []time.Time
	if u, ok := s.opts.Until.Get(); ok {
		bounds = append(bounds, u.LocalDate(s.loc).EndOfDay(s.loc))
	}
	if end, ok := s.rule.EffectiveEnd.Get(); ok {
		bounds = append(bounds, end.EndOfDay(s.loc))
	}
	if s.opts.Count > 0 {
		if last, ok := s.countBound(bounds); ok {
			bounds = append(bounds, last)
		}
	}
	if len(bounds) == 0 {
		return mo.None[time.Time]()
	}
	return mo.Some(earliest(bounds).UTC())
}

// countBound materializes the first COUNT occurrences and returns the end of
// the last one. It stops early once starts pass an already known bound,
// since the result could no longer be the minimum.
func (s *Schedule) countBound(known []time.Time) (time.Time, bool) {
	r, err := rrule.NewRRule(s.opts.rruleOption(s.origin, mo.None[time.Time]()))
	if err != nil {
		return time.Time{}, false
	}

	var cutoff mo.Option[time.Time]
	if len(known) > 0 {
		cutoff = mo.Some(earliest(known))
	}

	next := r.Iterator()
	var (
		last  time.Time
		found bool
	)
	for n := 0; n < s.opts.Count; n++ {
		start, ok := next()
		if !ok {
			break
		}
		if c, ok := cutoff.Get(); ok && !start.Before(c) {
			return time.Time{}, false
		}
		last, found = start, true
	}
	if !found {
		return time.Time{}, false
	}
	return last.Add(s.duration), true
}
