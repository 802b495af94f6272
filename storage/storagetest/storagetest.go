// Package storagetest holds the behaviour every storage.Storage backend must
// share. Backends call Run from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/cyp0633/staffavail/recurrence"
	"github.com/cyp0633/staffavail/storage"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh backend returned by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	t.Run("Establishment", func(t *testing.T) { testEstablishment(t, newStore(t)) })
	t.Run("RuleLifecycle", func(t *testing.T) { testRuleLifecycle(t, newStore(t)) })
	t.Run("ListRules", func(t *testing.T) { testListRules(t, newStore(t)) })
	t.Run("TimeOff", func(t *testing.T) { testTimeOff(t, newStore(t)) })
}

func testEstablishment(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, err := s.GetEstablishment(ctx, "missing")
	assert.True(t, storage.IsType(err, storage.ErrNotFound), "got %v", err)

	e := &storage.Establishment{Name: "Bakery", Timezone: "Europe/Paris"}
	require.NoError(t, s.CreateEstablishment(ctx, e))
	assert.NotEmpty(t, e.ID)

	got, err := s.GetEstablishment(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, *e, *got)

	err = s.CreateEstablishment(ctx, &storage.Establishment{ID: e.ID, Timezone: "UTC"})
	assert.True(t, storage.IsType(err, storage.ErrAlreadyExists), "got %v", err)

	err = s.CreateEstablishment(ctx, &storage.Establishment{Timezone: "Mars/Olympus"})
	assert.True(t, storage.IsType(err, storage.ErrInvalidInput), "got %v", err)
}

func testRuleLifecycle(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	r := storage.NewMockRule("", "m1", recurrence.KindRecurring, "DTSTART:20240902T090000\nRRULE:FREQ=WEEKLY;BYDAY=MO", 240, "2024-09-02")
	r.EstablishmentID = "e1"
	r.Rule.EffectiveEnd = mo.Some(recurrence.MustParseDate("2024-12-31"))
	r.AdvisoryConflicts = []string{"t1"}
	require.NoError(t, s.CreateRule(ctx, &r))
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	got, err := s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Rule, got.Rule)
	assert.Equal(t, []string{"t1"}, got.AdvisoryConflicts)
	assert.Equal(t, "e1", got.EstablishmentID)
	assert.WithinDuration(t, r.CreatedAt, got.CreatedAt, time.Millisecond)

	dup := r
	assert.True(t, storage.IsType(s.CreateRule(ctx, &dup), storage.ErrAlreadyExists))

	// Rule text is stored as given, even when it cannot be parsed.
	broken := storage.NewMockRule("", "m1", recurrence.KindRecurring, "FREQ=SOMETIMES", 60, "2024-09-02")
	require.NoError(t, s.CreateRule(ctx, &broken))

	invalid := storage.NewMockRule("", "m1", recurrence.KindSingle, "", 0, "2024-09-02")
	assert.True(t, storage.IsType(s.CreateRule(ctx, &invalid), storage.ErrInvalidInput))

	created := r.CreatedAt
	r.Rule.DurationMinutes = 120
	r.Rule.EffectiveEnd = mo.None[recurrence.Date]()
	r.AdvisoryConflicts = nil
	require.NoError(t, s.UpdateRule(ctx, &r))
	assert.WithinDuration(t, created, r.CreatedAt, time.Millisecond)

	got, err = s.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, got.Rule.DurationMinutes)
	assert.True(t, got.Rule.EffectiveEnd.IsAbsent())
	assert.Empty(t, got.AdvisoryConflicts)

	missing := storage.NewMockRule("nope", "m1", recurrence.KindSingle, "", 30, "2024-09-02")
	assert.True(t, storage.IsType(s.UpdateRule(ctx, &missing), storage.ErrNotFound))

	require.NoError(t, s.DeleteRule(ctx, r.ID))
	_, err = s.GetRule(ctx, r.ID)
	assert.True(t, storage.IsType(err, storage.ErrNotFound))
	assert.True(t, storage.IsType(s.DeleteRule(ctx, r.ID), storage.ErrNotFound))
}

func testListRules(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	mk := func(id, member, start, end string) {
		r := storage.NewMockRule(id, member, recurrence.KindRecurring, "FREQ=DAILY", 60, start)
		if end != "" {
			r.Rule.EffectiveEnd = mo.Some(recurrence.MustParseDate(end))
		}
		require.NoError(t, s.CreateRule(ctx, &r))
	}
	mk("r-open", "m1", "2024-01-01", "")
	mk("r-past", "m1", "2023-01-01", "2023-12-31")
	mk("r-future", "m1", "2025-06-01", "")
	mk("r-window", "m1", "2024-08-01", "2024-09-15")
	mk("r-other", "m2", "2024-01-01", "")

	ids := func(rules []storage.AvailabilityRule) []string {
		out := []string{}
		for _, r := range rules {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name string
		q    storage.RuleQuery
		want []string
	}{
		{
			name: "window overlap",
			q:    storage.RuleQuery{MembershipID: "m1", From: recurrence.MustParseDate("2024-09-01"), To: recurrence.MustParseDate("2024-12-31")},
			want: []string{"r-open", "r-window"},
		},
		{
			name: "end date is inclusive",
			q:    storage.RuleQuery{MembershipID: "m1", From: recurrence.MustParseDate("2023-12-31"), To: recurrence.MustParseDate("2023-12-31")},
			want: []string{"r-past"},
		},
		{
			name: "exclude id",
			q:    storage.RuleQuery{MembershipID: "m1", From: recurrence.MustParseDate("2024-09-01"), To: recurrence.MustParseDate("2024-12-31"), ExcludeID: mo.Some("r-window")},
			want: []string{"r-open"},
		},
		{
			name: "open ended query",
			q:    storage.RuleQuery{MembershipID: "m1"},
			want: []string{"r-open", "r-past", "r-future", "r-window"},
		},
		{
			name: "other member",
			q:    storage.RuleQuery{MembershipID: "m3"},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRules(ctx, tt.q)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(got))
		})
	}
}

func testTimeOff(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	pending := storage.NewMockTimeOff("", "m1", "2024-09-02", "2024-09-06", "")
	require.NoError(t, s.CreateTimeOff(ctx, &pending))
	assert.NotEmpty(t, pending.ID)
	assert.Equal(t, storage.StatusPending, pending.Status)

	approved := storage.NewMockTimeOff("t-approved", "m1", "2024-10-01", "2024-10-01", storage.StatusApproved)
	require.NoError(t, s.CreateTimeOff(ctx, &approved))
	rejected := storage.NewMockTimeOff("t-rejected", "m1", "2024-09-03", "2024-09-03", storage.StatusRejected)
	require.NoError(t, s.CreateTimeOff(ctx, &rejected))

	bad := storage.NewMockTimeOff("", "m1", "2024-09-06", "2024-09-02", "")
	assert.True(t, storage.IsType(s.CreateTimeOff(ctx, &bad), storage.ErrInvalidInput))
	dup := approved
	assert.True(t, storage.IsType(s.CreateTimeOff(ctx, &dup), storage.ErrAlreadyExists))

	active := []storage.TimeOffStatus{storage.StatusPending, storage.StatusApproved}
	got, err := s.ListTimeOff(ctx, storage.TimeOffQuery{
		MembershipID: "m1",
		Statuses:     active,
		From:         recurrence.MustParseDate("2024-09-06"),
		To:           recurrence.MustParseDate("2024-10-01"),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, pending.ID, got[0].ID)
	assert.Equal(t, recurrence.MustParseDate("2024-09-06"), got[0].EndDate)
	assert.Equal(t, "t-approved", got[1].ID)

	got, err = s.ListTimeOff(ctx, storage.TimeOffQuery{MembershipID: "m1", From: recurrence.MustParseDate("2024-09-03"), To: recurrence.MustParseDate("2024-09-03")})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.SetTimeOffStatus(ctx, pending.ID, storage.StatusCancelledByMember))
	got, err = s.ListTimeOff(ctx, storage.TimeOffQuery{MembershipID: "m1", Statuses: active})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t-approved", got[0].ID)

	assert.True(t, storage.IsType(s.SetTimeOffStatus(ctx, "missing", storage.StatusApproved), storage.ErrNotFound))
	assert.True(t, storage.IsType(s.SetTimeOffStatus(ctx, pending.ID, "LOST"), storage.ErrInvalidInput))
}
