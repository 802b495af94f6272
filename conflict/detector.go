// Package conflict decides whether a proposed availability rule collides with
// other rules or time-off requests of the same member.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/staffavail/recurrence"
	"github.com/cyp0633/staffavail/storage"
	"golang.org/x/sync/errgroup"
)

// DefaultForecastWindow bounds the check of rules that repeat forever.
const DefaultForecastWindow = 365 * 24 * time.Hour

const localLayout = "2006-01-02 15:04 MST"

// Detector checks candidates against stored data. It holds no state between
// calls and is safe for concurrent use.
type Detector struct {
	establishments storage.EstablishmentStore
	rules          storage.AvailabilityStore
	timeOff        storage.TimeOffStore
	forecastWindow time.Duration
	cache          *recurrence.ScheduleCache
	logger         *slog.Logger
}

// Option represents a configuration option for the Detector
type Option func(*Detector)

// WithLogger sets the logger for the detector
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithForecastWindow sets how far ahead unbounded rules are checked.
// Non-positive values are ignored.
func WithForecastWindow(window time.Duration) Option {
	return func(d *Detector) {
		if window > 0 {
			d.forecastWindow = window
		}
	}
}

// WithScheduleCache reuses compiled schedules of stored rules across checks.
// The caller owns the cache and closes it.
func WithScheduleCache(cache *recurrence.ScheduleCache) Option {
	return func(d *Detector) {
		d.cache = cache
	}
}

// New creates a detector reading from the given stores.
func New(establishments storage.EstablishmentStore, rules storage.AvailabilityStore, timeOff storage.TimeOffStore, opts ...Option) *Detector {
	d := &Detector{
		establishments: establishments,
		rules:          rules,
		timeOff:        timeOff,
		forecastWindow: DefaultForecastWindow,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// NewFromStorage creates a detector backed by a single storage backend.
func NewFromStorage(s storage.Storage, opts ...Option) *Detector {
	return New(s, s, s, opts...)
}

// ForecastWindow returns the window used for unbounded rules.
func (d *Detector) ForecastWindow() time.Duration { return d.forecastWindow }

// CheckForConflicts tests candidate against the other rules and the pending
// or approved time-off of membershipID.
//
// Expected outcomes, including an unparseable candidate rule, are reported in
// the Result. The returned error is a *Error for validation, configuration
// and data integrity faults, including stored rows the backend cannot decode.
// Other storage errors are passed through unchanged.
func (d *Detector) CheckForConflicts(ctx context.Context, candidate Candidate, membershipID, establishmentID string) (Result, error) {
	logger := d.logger.With("membership_id", membershipID, "establishment_id", establishmentID)

	if err := candidate.Rule.Validate(); err != nil {
		return Result{}, &Error{Type: ErrInputValidation, Message: "invalid candidate", Err: err}
	}

	loc, err := ResolveLocation(ctx, d.establishments, establishmentID)
	if err != nil {
		return Result{}, err
	}

	sched, err := recurrence.Compile(candidate.Rule, loc)
	if err != nil {
		logger.Info("candidate rule rejected", "error", err)
		return Result{
			HasBlockingConflict: true,
			Blocking: &BlockingConflict{
				Kind:     BlockingInvalidRule,
				Message:  "candidate rule cannot be parsed",
				Location: loc,
				Err:      err,
			},
		}, nil
	}

	windowStart, windowEnd := d.testWindow(sched)
	from, to := recurrence.DateOf(windowStart, loc), recurrence.DateOf(windowEnd, loc)

	var (
		existing []storage.AvailabilityRule
		timeOff  []storage.TimeOffRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		existing, err = d.rules.ListRules(gctx, storage.RuleQuery{
			MembershipID: membershipID,
			From:         from,
			To:           to,
			ExcludeID:    candidate.ExcludeID,
		})
		return err
	})
	g.Go(func() error {
		var err error
		timeOff, err = d.timeOff.ListTimeOff(gctx, storage.TimeOffQuery{
			MembershipID: membershipID,
			Statuses:     []storage.TimeOffStatus{storage.StatusPending, storage.StatusApproved},
			From:         from,
			To:           to,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, StorageError(logger, err)
	}
	logger.Debug("fetched check inputs",
		"window_start", windowStart, "window_end", windowEnd,
		"rules", len(existing), "time_off", len(timeOff))

	occurrences := sched.Between(windowStart, windowEnd)
	if len(occurrences) == 0 {
		return Result{}, nil
	}

	others := make([]*recurrence.Schedule, 0, len(existing))
	for _, r := range existing {
		s, err := d.cache.Compile(r.Rule, loc)
		if err != nil {
			logger.Error("stored availability rule is corrupt", "rule_id", r.ID, "error", err)
			return Result{}, &Error{
				Type:     ErrDataIntegrity,
				Message:  "stored availability rule cannot be expanded",
				EntityID: r.ID,
				Err:      err,
			}
		}
		others = append(others, s)
	}

	var approved, pending []storage.TimeOffRequest
	for _, req := range timeOff {
		switch req.Status {
		case storage.StatusApproved:
			approved = append(approved, req)
		case storage.StatusPending:
			pending = append(pending, req)
		}
	}

	for _, occ := range occurrences {
		if b := blockingRule(occ, existing, others, loc); b != nil {
			logger.Info("blocking conflict", "kind", b.Kind, "other_id", b.OtherEntityID)
			return Result{HasBlockingConflict: true, Blocking: b}, nil
		}
		if b := blockingTimeOff(occ, approved, loc); b != nil {
			logger.Info("blocking conflict", "kind", b.Kind, "other_id", b.OtherEntityID)
			return Result{HasBlockingConflict: true, Blocking: b}, nil
		}
	}

	return Result{Advisories: advisories(occurrences, pending, loc)}, nil
}

// StorageError turns a storage ErrCorrupt into an ErrDataIntegrity *Error and
// logs it. Other errors are returned unchanged.
func StorageError(logger *slog.Logger, err error) error {
	var serr *storage.Error
	if !errors.As(err, &serr) || serr.Type != storage.ErrCorrupt {
		return err
	}
	logger.Error("stored record is corrupt", "entity_id", serr.EntityID, "error", err)
	return &Error{
		Type:     ErrDataIntegrity,
		Message:  "stored record cannot be decoded",
		EntityID: serr.EntityID,
		Err:      err,
	}
}

// ResolveLocation loads the timezone of an establishment. Every failure except
// a storage fault is reported as an ErrConfiguration *Error.
func ResolveLocation(ctx context.Context, establishments storage.EstablishmentStore, establishmentID string) (*time.Location, error) {
	est, err := establishments.GetEstablishment(ctx, establishmentID)
	if err != nil {
		if storage.IsType(err, storage.ErrNotFound) {
			return nil, &Error{Type: ErrConfiguration, Message: "establishment not found", EntityID: establishmentID, Err: err}
		}
		return nil, err
	}
	if est == nil || est.Timezone == "" {
		return nil, &Error{Type: ErrConfiguration, Message: "establishment has no timezone", EntityID: establishmentID}
	}
	loc, err := time.LoadLocation(est.Timezone)
	if err != nil {
		return nil, &Error{Type: ErrConfiguration, Message: "establishment timezone cannot be loaded", EntityID: establishmentID, Err: err}
	}
	return loc, nil
}

// testWindow spans from local midnight of the effective start to the
// candidate's horizon, or the forecast window when it has none.
func (d *Detector) testWindow(sched *recurrence.Schedule) (time.Time, time.Time) {
	rule := sched.Rule()
	start := rule.EffectiveStart.StartOfDay(sched.Location()).UTC()

	end := start.Add(d.forecastWindow)
	if h, ok := sched.Horizon().Get(); ok {
		end = h
	}
	if !end.After(start) {
		end = start.Add(rule.Duration())
	}
	return start, end
}

func blockingRule(occ recurrence.Interval, rules []storage.AvailabilityRule, schedules []*recurrence.Schedule, loc *time.Location) *BlockingConflict {
	for i, s := range schedules {
		for _, other := range s.Between(occ.Start, occ.End) {
			if !occ.Overlaps(other) {
				continue
			}
			c, o := occ.In(loc), other.In(loc)
			return &BlockingConflict{
				Kind:          BlockingRule,
				OtherEntityID: rules[i].ID,
				Message: fmt.Sprintf("%s to %s overlaps availability rule %s (%s to %s)",
					c.Start.Format(localLayout), c.End.Format(localLayout), rules[i].ID,
					o.Start.Format(localLayout), o.End.Format(localLayout)),
				Candidate: c,
				Other:     o,
				Location:  loc,
			}
		}
	}
	return nil
}

func blockingTimeOff(occ recurrence.Interval, approved []storage.TimeOffRequest, loc *time.Location) *BlockingConflict {
	for _, req := range approved {
		span := recurrence.Span(req.StartDate, req.EndDate, loc)
		if !occ.Overlaps(span) {
			continue
		}
		c := occ.In(loc)
		return &BlockingConflict{
			Kind:          BlockingTimeOff,
			OtherEntityID: req.ID,
			Message: fmt.Sprintf("%s to %s overlaps approved time-off %s (%s to %s)",
				c.Start.Format(localLayout), c.End.Format(localLayout), req.ID, req.StartDate, req.EndDate),
			Candidate: c,
			Other:     span.In(loc),
			Location:  loc,
		}
	}
	return nil
}

// advisories returns one entry per pending request overlapping any occurrence.
func advisories(occurrences []recurrence.Interval, pending []storage.TimeOffRequest, loc *time.Location) []Advisory {
	var out []Advisory
	seen := make(map[string]bool)
	for _, req := range pending {
		if seen[req.ID] {
			continue
		}
		span := recurrence.Span(req.StartDate, req.EndDate, loc)
		for _, occ := range occurrences {
			if occ.Overlaps(span) {
				seen[req.ID] = true
				out = append(out, Advisory{
					TimeOffRequestID: req.ID,
					Message:          fmt.Sprintf("overlaps pending time-off %s (%s to %s)", req.ID, req.StartDate, req.EndDate),
				})
				break
			}
		}
	}
	return out
}

