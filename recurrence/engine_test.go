package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func starts(occ []Interval) []string {
	out := make([]string, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.Start.Format(time.RFC3339))
	}
	return out
}

func TestExpand(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	tests := []struct {
		name       string
		rule       Rule
		loc        *time.Location
		start, end string
		want       []string
	}{
		{
			name: "single event inside window",
			rule: Rule{Kind: KindSingle, Text: "DTSTART:20240101T090000", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-09-02T08:00:00Z", end: "2024-09-02T10:00:00Z",
			want: []string{"2024-09-02T09:00:00Z"},
		},
		{
			name: "single event touching window end",
			rule: Rule{Kind: KindSingle, Text: "DTSTART:20240101T090000", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-09-02T08:00:00Z", end: "2024-09-02T09:00:00Z",
			want: []string{},
		},
		{
			name: "single event touching window start",
			rule: Rule{Kind: KindSingle, Text: "DTSTART:20240101T090000", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-09-02T10:00:00Z", end: "2024-09-02T11:00:00Z",
			want: []string{},
		},
		{
			name: "single event without time starts at midnight",
			rule: Rule{Kind: KindSingle, DurationMinutes: 30, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  paris,
			start: "2024-09-01T00:00:00Z", end: "2024-09-03T00:00:00Z",
			want: []string{"2024-09-01T22:00:00Z"},
		},
		{
			name: "daily across spring DST change keeps wall clock",
			rule: Rule{Kind: KindRecurring, Text: "DTSTART:20240329T090000\nRRULE:FREQ=DAILY", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-03-29")},
			loc:  paris,
			start: "2024-03-29T00:00:00Z", end: "2024-04-02T00:00:00Z",
			want: []string{
				"2024-03-29T08:00:00Z",
				"2024-03-30T08:00:00Z",
				"2024-03-31T07:00:00Z",
				"2024-04-01T07:00:00Z",
			},
		},
		{
			name: "weekly by day with count",
			rule: Rule{Kind: KindRecurring, Text: "DTSTART:20240902T100000\nRRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=3", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-09-01T00:00:00Z", end: "2024-10-01T00:00:00Z",
			want: []string{"2024-09-02T10:00:00Z", "2024-09-04T10:00:00Z", "2024-09-09T10:00:00Z"},
		},
		{
			name: "occurrence starting before the window is included",
			rule: Rule{Kind: KindRecurring, Text: "DTSTART:20240902T090000\nRRULE:FREQ=DAILY", DurationMinutes: 240, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-09-03T10:00:00Z", end: "2024-09-03T11:00:00Z",
			want: []string{"2024-09-03T09:00:00Z"},
		},
		{
			name: "effective end caps occurrences",
			rule: Rule{Kind: KindRecurring, Text: "FREQ=DAILY", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02"), EffectiveEnd: mo.Some(MustParseDate("2024-09-04"))},
			loc:  time.UTC,
			start: "2024-09-01T00:00:00Z", end: "2024-10-01T00:00:00Z",
			want: []string{"2024-09-02T00:00:00Z", "2024-09-03T00:00:00Z", "2024-09-04T00:00:00Z"},
		},
		{
			name: "until is inclusive of its day",
			rule: Rule{Kind: KindRecurring, Text: "DTSTART:20240902T180000\nRRULE:FREQ=DAILY;UNTIL=20240905", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-09-01T00:00:00Z", end: "2024-10-01T00:00:00Z",
			want: []string{"2024-09-02T18:00:00Z", "2024-09-03T18:00:00Z", "2024-09-04T18:00:00Z", "2024-09-05T18:00:00Z"},
		},
		{
			name: "window after until",
			rule: Rule{Kind: KindRecurring, Text: "DTSTART:20240902T180000\nRRULE:FREQ=DAILY;UNTIL=20240905", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-10-01T00:00:00Z", end: "2024-10-31T00:00:00Z",
			want: []string{},
		},
		{
			name: "window after effective end",
			rule: Rule{Kind: KindRecurring, Text: "DTSTART:20240902T180000\nRRULE:FREQ=DAILY", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02"), EffectiveEnd: mo.Some(MustParseDate("2024-09-05"))},
			loc:  time.UTC,
			start: "2024-10-01T00:00:00Z", end: "2024-10-31T00:00:00Z",
			want: []string{},
		},
		{
			name: "interval skips days",
			rule: Rule{Kind: KindRecurring, Text: "DTSTART:20240902T090000\nRRULE:FREQ=DAILY;INTERVAL=2", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-09-02T00:00:00Z", end: "2024-09-08T00:00:00Z",
			want: []string{"2024-09-02T09:00:00Z", "2024-09-04T09:00:00Z", "2024-09-06T09:00:00Z"},
		},
		{
			name: "monthly day 31 skips short months",
			rule: Rule{Kind: KindRecurring, Text: "FREQ=MONTHLY;BYMONTHDAY=31", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-01-01")},
			loc:  time.UTC,
			start: "2024-01-01T00:00:00Z", end: "2024-06-01T00:00:00Z",
			want: []string{"2024-01-31T00:00:00Z", "2024-03-31T00:00:00Z", "2024-05-31T00:00:00Z"},
		},
		{
			name: "window before effective start",
			rule: Rule{Kind: KindRecurring, Text: "FREQ=DAILY", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2024-08-01T00:00:00Z", end: "2024-09-01T00:00:00Z",
			want: []string{},
		},
		{
			name: "far window of an unbounded rule",
			rule: Rule{Kind: KindRecurring, Text: "DTSTART:20240902T090000\nRRULE:FREQ=WEEKLY;BYDAY=TU", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
			loc:  time.UTC,
			start: "2030-01-01T00:00:00Z", end: "2030-01-15T00:00:00Z",
			want: []string{"2030-01-01T09:00:00Z", "2030-01-08T09:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.rule, mustTime(t, tt.start), mustTime(t, tt.end), tt.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, starts(got))
			for _, occ := range got {
				assert.Equal(t, time.UTC, occ.Start.Location())
				assert.Equal(t, tt.rule.Duration(), occ.End.Sub(occ.Start))
			}
		})
	}
}

func TestBetween_WindowPastLimit(t *testing.T) {
	rules := []Rule{
		{Kind: KindRecurring, Text: "DTSTART:20240902T180000\nRRULE:FREQ=DAILY;UNTIL=20240905", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")},
		{Kind: KindRecurring, Text: "DTSTART:20240902T180000\nRRULE:FREQ=DAILY", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02"), EffectiveEnd: mo.Some(MustParseDate("2024-09-05"))},
	}
	for _, rule := range rules {
		s, err := Compile(rule, time.UTC)
		require.NoError(t, err)
		// nil rather than an empty slice: the rule is never iterated.
		assert.Nil(t, s.Between(mustTime(t, "2024-10-01T00:00:00Z"), mustTime(t, "2024-10-31T00:00:00Z")))
		assert.NotNil(t, s.Between(mustTime(t, "2024-09-05T00:00:00Z"), mustTime(t, "2024-10-31T00:00:00Z")))
	}
}

func TestExpand_SingleClippedToEffectiveEnd(t *testing.T) {
	rule := Rule{
		Kind:            KindSingle,
		Text:            "DTSTART:20240902T230000",
		DurationMinutes: 120,
		EffectiveStart:  MustParseDate("2024-09-02"),
		EffectiveEnd:    mo.Some(MustParseDate("2024-09-02")),
	}
	got, err := Expand(rule, mustTime(t, "2024-09-02T00:00:00Z"), mustTime(t, "2024-09-04T00:00:00Z"), time.UTC)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(mustTime(t, "2024-09-02T23:00:00Z")))
	assert.True(t, got[0].End.Equal(mustTime(t, "2024-09-03T00:00:00Z")), "end clipped to midnight, got %s", got[0].End)
}

func TestExpand_Idempotent(t *testing.T) {
	rule := Rule{Kind: KindRecurring, Text: "DTSTART:20240902T090000\nRRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR", DurationMinutes: 90, EffectiveStart: MustParseDate("2024-09-02")}
	ws, we := mustTime(t, "2024-09-01T00:00:00Z"), mustTime(t, "2024-12-01T00:00:00Z")

	s, err := Compile(rule, time.UTC)
	require.NoError(t, err)
	first := s.Between(ws, we)
	second := s.Between(ws, we)
	assert.Equal(t, starts(first), starts(second))
	assert.NotEmpty(t, first)

	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].Start.Before(first[i].Start), "occurrences must be ordered")
	}
}

func TestExpand_EmptyWindow(t *testing.T) {
	rule := Rule{Kind: KindRecurring, Text: "FREQ=DAILY", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")}
	ts := mustTime(t, "2024-09-03T00:00:00Z")

	got, err := Expand(rule, ts, ts, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Expand(rule, ts, ts.Add(-time.Hour), time.UTC)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCompile_Errors(t *testing.T) {
	valid := Rule{Kind: KindRecurring, Text: "FREQ=DAILY", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")}

	_, err := Compile(valid, nil)
	assert.Error(t, err)

	tests := []struct {
		name    string
		mutate  func(r *Rule)
		invalid bool
	}{
		{"zero duration", func(r *Rule) { r.DurationMinutes = 0 }, false},
		{"negative duration", func(r *Rule) { r.DurationMinutes = -5 }, false},
		{"missing start", func(r *Rule) { r.EffectiveStart = Date{} }, false},
		{"end before start", func(r *Rule) { r.EffectiveEnd = mo.Some(MustParseDate("2024-09-01")) }, false},
		{"malformed text", func(r *Rule) { r.Text = "FREQ=SOMETIMES" }, true},
		{"kind mismatch", func(r *Rule) { r.Kind = KindSingle }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			_, err := Compile(r, time.UTC)
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidRule))
		})
	}
}

func TestSchedule_Accessors(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	rule := Rule{Kind: KindRecurring, Text: "DTSTART:20200101T073000\nRRULE:FREQ=DAILY", DurationMinutes: 60, EffectiveStart: MustParseDate("2024-09-02")}
	s, err := Compile(rule, paris)
	require.NoError(t, err)

	assert.Equal(t, rule, s.Rule())
	assert.Equal(t, paris, s.Location())
	// The DTSTART date is ignored; the origin is anchored on the effective start.
	assert.True(t, s.Origin().Equal(mustTime(t, "2024-09-02T05:30:00Z")))
	assert.Contains(t, s.String(), "recurring")
}

func TestInterval_Overlaps(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 9, 2, h, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"disjoint", Interval{at(9), at(10)}, Interval{at(11), at(12)}, false},
		{"touching", Interval{at(9), at(10)}, Interval{at(10), at(11)}, false},
		{"partial", Interval{at(9), at(11)}, Interval{at(10), at(12)}, true},
		{"contained", Interval{at(9), at(13)}, Interval{at(10), at(11)}, true},
		{"identical", Interval{at(9), at(10)}, Interval{at(9), at(10)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}
