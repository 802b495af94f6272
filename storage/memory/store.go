// memory based implementation for testing purposes
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cyp0633/staffavail/storage"
	"github.com/google/uuid"
)

// Store implements storage.Storage interface using in-memory maps
type Store struct {
	mu             sync.RWMutex
	establishments map[string]storage.Establishment
	rules          map[string]storage.AvailabilityRule
	timeOff        map[string]storage.TimeOffRequest
}

var _ storage.Storage = (*Store)(nil)

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		establishments: make(map[string]storage.Establishment),
		rules:          make(map[string]storage.AvailabilityRule),
		timeOff:        make(map[string]storage.TimeOffRequest),
	}
}

func cloneRule(r storage.AvailabilityRule) storage.AvailabilityRule {
	r.AdvisoryConflicts = slices.Clone(r.AdvisoryConflicts)
	return r
}

// Establishment operations

func (s *Store) GetEstablishment(_ context.Context, id string) (*storage.Establishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.establishments[id]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "establishment not found",
		}
	}

	return &e, nil
}

func (s *Store) CreateEstablishment(_ context.Context, e *storage.Establishment) error {
	if err := storage.ValidateEstablishment(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := s.establishments[e.ID]; exists {
		return &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "establishment already exists",
		}
	}

	s.establishments[e.ID] = *e
	return nil
}

// Availability rule operations

func (s *Store) GetRule(_ context.Context, id string) (*storage.AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "rule not found",
		}
	}

	r = cloneRule(r)
	return &r, nil
}

func (s *Store) ListRules(_ context.Context, q storage.RuleQuery) ([]storage.AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rules []storage.AvailabilityRule
	for _, r := range s.rules {
		if q.Matches(r) {
			rules = append(rules, cloneRule(r))
		}
	}

	storage.SortRules(rules)
	return rules, nil
}

func (s *Store) CreateRule(_ context.Context, r *storage.AvailabilityRule) error {
	if err := storage.ValidateRule(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.rules[r.ID]; exists {
		return &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "rule already exists",
		}
	}

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = cloneRule(*r)

	return nil
}

func (s *Store) UpdateRule(_ context.Context, r *storage.AvailabilityRule) error {
	if err := storage.ValidateRule(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.rules[r.ID]
	if !exists {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "rule not found",
		}
	}

	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.rules[r.ID] = cloneRule(*r)

	return nil
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "rule not found",
		}
	}

	delete(s.rules, id)
	return nil
}

// Time-off operations

func (s *Store) ListTimeOff(_ context.Context, q storage.TimeOffQuery) ([]storage.TimeOffRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reqs []storage.TimeOffRequest
	for _, r := range s.timeOff {
		if q.Matches(r) {
			reqs = append(reqs, r)
		}
	}

	storage.SortTimeOff(reqs)
	return reqs, nil
}

func (s *Store) CreateTimeOff(_ context.Context, r *storage.TimeOffRequest) error {
	if err := storage.ValidateTimeOff(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.timeOff[r.ID]; exists {
		return &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "time-off request already exists",
		}
	}
	if r.Status == "" {
		r.Status = storage.StatusPending
	}

	r.CreatedAt = time.Now().UTC()
	s.timeOff[r.ID] = *r
	return nil
}

func (s *Store) SetTimeOffStatus(_ context.Context, id string, status storage.TimeOffStatus) error {
	if !status.Valid() {
		return &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "unknown status " + string(status),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.timeOff[id]
	if !exists {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "time-off request not found",
		}
	}

	r.Status = status
	s.timeOff[id] = r
	return nil
}
