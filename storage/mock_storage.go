package storage

import (
	"context"

	"github.com/cyp0633/staffavail/recurrence"
	"github.com/stretchr/testify/mock"
)

// MockStorage implements the Storage interface for testing
type MockStorage struct {
	mock.Mock
}

var _ Storage = (*MockStorage)(nil)

func (m *MockStorage) GetEstablishment(ctx context.Context, id string) (*Establishment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Establishment), args.Error(1)
}

func (m *MockStorage) CreateEstablishment(ctx context.Context, e *Establishment) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockStorage) GetRule(ctx context.Context, id string) (*AvailabilityRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AvailabilityRule), args.Error(1)
}

// ListRules implements the Storage interface
func (m *MockStorage) ListRules(ctx context.Context, q RuleQuery) ([]AvailabilityRule, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]AvailabilityRule), args.Error(1)
}

func (m *MockStorage) CreateRule(ctx context.Context, r *AvailabilityRule) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockStorage) UpdateRule(ctx context.Context, r *AvailabilityRule) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockStorage) DeleteRule(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// ListTimeOff implements the Storage interface
func (m *MockStorage) ListTimeOff(ctx context.Context, q TimeOffQuery) ([]TimeOffRequest, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]TimeOffRequest), args.Error(1)
}

func (m *MockStorage) CreateTimeOff(ctx context.Context, r *TimeOffRequest) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockStorage) SetTimeOffStatus(ctx context.Context, id string, status TimeOffStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

// --- Helper methods for creating test data ---

// NewMockRule creates a rule starting on start with the given text.
func NewMockRule(id, membershipID string, kind recurrence.Kind, text string, minutes int, start string) AvailabilityRule {
	return AvailabilityRule{
		ID:           id,
		MembershipID: membershipID,
		Rule: recurrence.Rule{
			Kind:            kind,
			Text:            text,
			DurationMinutes: minutes,
			EffectiveStart:  recurrence.MustParseDate(start),
		},
	}
}

// NewMockTimeOff creates a request covering start..end inclusive.
func NewMockTimeOff(id, membershipID, start, end string, status TimeOffStatus) TimeOffRequest {
	return TimeOffRequest{
		ID:           id,
		MembershipID: membershipID,
		StartDate:    recurrence.MustParseDate(start),
		EndDate:      recurrence.MustParseDate(end),
		Status:       status,
	}
}

// --- Convenience methods for setting up common test scenarios ---

// SetupEstablishment makes GetEstablishment return an establishment in tz.
func (m *MockStorage) SetupEstablishment(id, tz string) {
	m.On("GetEstablishment", mock.Anything, id).Return(&Establishment{ID: id, Name: id, Timezone: tz}, nil)
}

// SetupRules makes every ListRules call for membershipID return rules.
func (m *MockStorage) SetupRules(membershipID string, rules []AvailabilityRule) {
	m.ExpectedCalls = removeMatchingCalls(m.ExpectedCalls, "ListRules")
	m.On("ListRules", mock.Anything, mock.MatchedBy(func(q RuleQuery) bool {
		return q.MembershipID == membershipID
	})).Return(rules, nil)
}

// SetupTimeOff makes every ListTimeOff call for membershipID return reqs.
func (m *MockStorage) SetupTimeOff(membershipID string, reqs []TimeOffRequest) {
	m.ExpectedCalls = removeMatchingCalls(m.ExpectedCalls, "ListTimeOff")
	m.On("ListTimeOff", mock.Anything, mock.MatchedBy(func(q TimeOffQuery) bool {
		return q.MembershipID == membershipID
	})).Return(reqs, nil)
}

// Helper to remove existing mock calls for a method
func removeMatchingCalls(calls []*mock.Call, method string) []*mock.Call {
	result := make([]*mock.Call, 0, len(calls))
	for _, call := range calls {
		if call.Method == method {
			continue
		}
		result = append(result, call)
	}
	return result
}
