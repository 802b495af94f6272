// Package availability saves member availability rules after checking them
// for conflicts.
package availability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/staffavail/conflict"
	"github.com/cyp0633/staffavail/recurrence"
	"github.com/cyp0633/staffavail/storage"
	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Service wraps a storage backend with the conflict detector. Writes are
// serialized so two overlapping rules cannot both pass their checks.
type Service struct {
	store    storage.Storage
	detector *conflict.Detector
	logger   *slog.Logger
	now      func() time.Time

	writeMu sync.Mutex
}

// Option represents a configuration option for the Service
type Option func(*config)

type config struct {
	logger         *slog.Logger
	forecastWindow time.Duration
	cache          *recurrence.ScheduleCache
	now            func() time.Time
}

// WithLogger sets the logger for the service and its detector
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithForecastWindow sets how far ahead unbounded rules are checked.
func WithForecastWindow(window time.Duration) Option {
	return func(c *config) {
		c.forecastWindow = window
	}
}

// WithScheduleCache shares a compiled schedule cache with the detector.
func WithScheduleCache(cache *recurrence.ScheduleCache) Option {
	return func(c *config) {
		c.cache = cache
	}
}

// WithClock overrides the time source used for calendar stamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// NewService creates a service on top of store.
func NewService(store storage.Storage, opts ...Option) *Service {
	cfg := &config{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Service{
		store: store,
		detector: conflict.NewFromStorage(store,
			conflict.WithLogger(cfg.logger.With("component", "conflict")),
			conflict.WithForecastWindow(cfg.forecastWindow),
			conflict.WithScheduleCache(cfg.cache)),
		logger: cfg.logger,
		now:    cfg.now,
	}
}

// Check runs the conflict check without saving anything.
func (s *Service) Check(ctx context.Context, r *storage.AvailabilityRule) (conflict.Result, error) {
	if r == nil {
		return conflict.Result{}, &conflict.Error{Type: conflict.ErrInputValidation, Message: "rule is nil"}
	}
	c := conflict.Candidate{Rule: r.Rule}
	if r.ID != "" {
		c.ExcludeID = mo.Some(r.ID)
	}
	return s.detector.CheckForConflicts(ctx, c, r.MembershipID, r.EstablishmentID)
}

// CreateRule checks r and stores it when nothing blocks it. The returned
// Result carries the advisories also recorded in r.AdvisoryConflicts.
func (s *Service) CreateRule(ctx context.Context, r *storage.AvailabilityRule) (conflict.Result, error) {
	if r == nil {
		return conflict.Result{}, &conflict.Error{Type: conflict.ErrInputValidation, Message: "rule is nil"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.detector.CheckForConflicts(ctx, conflict.Candidate{Rule: r.Rule}, r.MembershipID, r.EstablishmentID)
	if err != nil {
		return res, err
	}
	if err := res.Err(); err != nil {
		return res, err
	}

	r.AdvisoryConflicts = res.AdvisoryIDs()
	if err := s.store.CreateRule(ctx, r); err != nil {
		return res, fmt.Errorf("failed to save rule: %w", err)
	}
	s.logger.Info("availability rule created",
		"rule_id", r.ID, "membership_id", r.MembershipID, "advisories", len(r.AdvisoryConflicts))
	return res, nil
}

// UpdateRule checks r against everything except its stored version and
// replaces it. The owner of a rule cannot change.
func (s *Service) UpdateRule(ctx context.Context, r *storage.AvailabilityRule) (conflict.Result, error) {
	if r == nil || r.ID == "" {
		return conflict.Result{}, &conflict.Error{Type: conflict.ErrInputValidation, Message: "rule id is required"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old, err := s.store.GetRule(ctx, r.ID)
	if err != nil {
		return conflict.Result{}, conflict.StorageError(s.logger, err)
	}
	if r.MembershipID == "" {
		r.MembershipID = old.MembershipID
	}
	if r.EstablishmentID == "" {
		r.EstablishmentID = old.EstablishmentID
	}
	if r.MembershipID != old.MembershipID || r.EstablishmentID != old.EstablishmentID {
		return conflict.Result{}, &conflict.Error{
			Type:     conflict.ErrInputValidation,
			Message:  "rule owner cannot change",
			EntityID: r.ID,
		}
	}

	c := conflict.Candidate{Rule: r.Rule, ExcludeID: mo.Some(r.ID)}
	res, err := s.detector.CheckForConflicts(ctx, c, r.MembershipID, r.EstablishmentID)
	if err != nil {
		return res, err
	}
	if err := res.Err(); err != nil {
		return res, err
	}

	r.AdvisoryConflicts = res.AdvisoryIDs()
	if err := s.store.UpdateRule(ctx, r); err != nil {
		return res, fmt.Errorf("failed to update rule: %w", err)
	}
	s.logger.Info("availability rule updated", "rule_id", r.ID, "advisories", len(r.AdvisoryConflicts))
	return res, nil
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.logger.Info("availability rule deleted", "rule_id", id)
	return nil
}

// Preview expands rule in the timezone of establishmentID over the calendar
// days from to to, both included.
func (s *Service) Preview(ctx context.Context, establishmentID string, rule recurrence.Rule, from, to recurrence.Date) ([]recurrence.Interval, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}
	loc, err := conflict.ResolveLocation(ctx, s.store, establishmentID)
	if err != nil {
		return nil, err
	}

	occ, err := recurrence.Expand(rule, from.StartOfDay(loc), to.EndOfDay(loc), loc)
	if err != nil {
		return nil, &conflict.Error{Type: conflict.ErrInputValidation, Message: "rule cannot be expanded", Err: err}
	}
	return occ, nil
}

// ExportRule renders the occurrences of a stored rule between from and to as
// an iCalendar document.
func (s *Service) ExportRule(ctx context.Context, id string, from, to recurrence.Date) (*ical.Calendar, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}
	r, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, conflict.StorageError(s.logger, err)
	}
	loc, err := conflict.ResolveLocation(ctx, s.store, r.EstablishmentID)
	if err != nil {
		return nil, err
	}

	occ, err := recurrence.Expand(r.Rule, from.StartOfDay(loc), to.EndOfDay(loc), loc)
	if err != nil {
		s.logger.Error("stored availability rule is corrupt", "rule_id", id, "error", err)
		return nil, &conflict.Error{Type: conflict.ErrDataIntegrity, Message: "stored availability rule cannot be expanded", EntityID: id, Err: err}
	}
	return recurrence.NewCalendar(id, "Availability "+r.MembershipID, occ, s.now()), nil
}

func checkWindow(from, to recurrence.Date) error {
	if from.IsZero() || to.IsZero() {
		return &conflict.Error{Type: conflict.ErrInputValidation, Message: "window dates are required"}
	}
	if to.Before(from) {
		return &conflict.Error{
			Type:    conflict.ErrInputValidation,
			Message: fmt.Sprintf("window end %s is before start %s", to, from),
		}
	}
	return nil
}

// ImportRules reads VEVENTs from an iCalendar stream and creates one rule per
// event for the member. Import stops at the first event that fails; rules
// created before it are kept.
func (s *Service) ImportRules(ctx context.Context, membershipID, establishmentID string, r io.Reader) ([]storage.AvailabilityRule, error) {
	loc, err := conflict.ResolveLocation(ctx, s.store, establishmentID)
	if err != nil {
		return nil, err
	}
	rules, err := recurrence.ReadRules(r, loc)
	if err != nil {
		return nil, &conflict.Error{Type: conflict.ErrInputValidation, Message: "invalid calendar", Err: err}
	}

	created := make([]storage.AvailabilityRule, 0, len(rules))
	for i, rule := range rules {
		ar := storage.AvailabilityRule{
			MembershipID:    membershipID,
			EstablishmentID: establishmentID,
			Rule:            rule,
		}
		if _, err := s.CreateRule(ctx, &ar); err != nil {
			return created, fmt.Errorf("event %d: %w", i, err)
		}
		created = append(created, ar)
	}
	return created, nil
}
