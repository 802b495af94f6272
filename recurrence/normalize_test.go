package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func TestNormalize_Defaults(t *testing.T) {
	opts, err := Normalize(KindRecurring, "FREQ=WEEKLY")
	require.NoError(t, err)

	assert.Equal(t, KindRecurring, opts.Kind)
	assert.Equal(t, rrule.WEEKLY, opts.Freq)
	assert.Equal(t, 1, opts.Interval)
	assert.Equal(t, rrule.MO, opts.Wkst)
	assert.Equal(t, 0, opts.Count)
	assert.True(t, opts.Until.IsAbsent())
	assert.Equal(t, Clock{}, opts.TimeOfDay)
}

func TestNormalize_Accepted(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		text      string
		timeOfDay Clock
		freq      rrule.Frequency
		interval  int
		count     int
	}{
		{
			name:      "DTSTART line with RRULE line",
			kind:      KindRecurring,
			text:      "DTSTART:20240902T090000\nRRULE:FREQ=WEEKLY;BYDAY=MO,WE",
			timeOfDay: Clock{Hour: 9},
			freq:      rrule.WEEKLY,
			interval:  1,
		},
		{
			name:      "CRLF line endings and TZID parameter",
			kind:      KindRecurring,
			text:      "DTSTART;TZID=Europe/Paris:20240902T133000\r\nRRULE:FREQ=DAILY;INTERVAL=2",
			timeOfDay: Clock{Hour: 13, Minute: 30},
			freq:      rrule.DAILY,
			interval:  2,
		},
		{
			name:      "inline DTSTART with COUNT",
			kind:      KindRecurring,
			text:      "DTSTART=20240902T174500Z;FREQ=MONTHLY;BYMONTHDAY=2;COUNT=4",
			timeOfDay: Clock{Hour: 17, Minute: 45},
			freq:      rrule.MONTHLY,
			interval:  1,
			count:     4,
		},
		{
			name:     "lowercase values",
			kind:     KindRecurring,
			text:     "freq=daily;byday=mo,tu",
			freq:     rrule.DAILY,
			interval: 1,
		},
		{
			name:      "single event with start time",
			kind:      KindSingle,
			text:      "DTSTART:20240101T081500",
			timeOfDay: Clock{Hour: 8, Minute: 15},
		},
		{
			name:      "single event with bare time",
			kind:      KindSingle,
			text:      "DTSTART:T2200",
			timeOfDay: Clock{Hour: 22},
		},
		{
			name: "single event without text",
			kind: KindSingle,
			text: "",
		},
		{
			name: "single event with date-only DTSTART",
			kind: KindSingle,
			text: "DTSTART:20240101",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := Normalize(tt.kind, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, opts.Kind)
			assert.Equal(t, tt.timeOfDay, opts.TimeOfDay)
			if tt.kind == KindRecurring {
				assert.Equal(t, tt.freq, opts.Freq)
				assert.Equal(t, tt.interval, opts.Interval)
				assert.Equal(t, tt.count, opts.Count)
			}
		})
	}
}

func TestNormalize_Until(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	opts, err := Normalize(KindRecurring, "FREQ=DAILY;UNTIL=20240910")
	require.NoError(t, err)
	u, ok := opts.Until.Get()
	require.True(t, ok)
	assert.Equal(t, MustParseDate("2024-09-10"), u.LocalDate(paris))

	// 23:30 UTC is already the next day in Paris.
	opts, err = Normalize(KindRecurring, "FREQ=DAILY;UNTIL=20240910T233000Z")
	require.NoError(t, err)
	u, ok = opts.Until.Get()
	require.True(t, ok)
	assert.Equal(t, MustParseDate("2024-09-11"), u.LocalDate(paris))
	assert.Equal(t, MustParseDate("2024-09-10"), u.LocalDate(time.UTC))
}

func TestNormalize_Rejected(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		text string
	}{
		{"recurring without FREQ", KindRecurring, "DTSTART:20240902T090000"},
		{"typo in FREQ key", KindRecurring, "FRQ=DAILY"},
		{"single with FREQ", KindSingle, "DTSTART:20240902T090000\nRRULE:FREQ=DAILY"},
		{"single with UNTIL", KindSingle, "UNTIL=20240902"},
		{"unsupported frequency", KindRecurring, "FREQ=HOURLY"},
		{"yearly is out of scope", KindRecurring, "FREQ=YEARLY"},
		{"unknown frequency", KindRecurring, "FREQ=FORTNIGHTLY"},
		{"unknown property", KindRecurring, "FREQ=DAILY;FOO=BAR"},
		{"malformed part", KindRecurring, "FREQ=DAILY;BYDAY"},
		{"empty value", KindRecurring, "FREQ="},
		{"bad weekday", KindRecurring, "FREQ=WEEKLY;BYDAY=XX"},
		{"negative interval", KindRecurring, "FREQ=DAILY;INTERVAL=-1"},
		{"negative count", KindRecurring, "FREQ=DAILY;COUNT=-3"},
		{"zero interval", KindRecurring, "FREQ=DAILY;INTERVAL=0"},
		{"zero count", KindRecurring, "FREQ=DAILY;COUNT=0"},
		{"month day out of range", KindRecurring, "FREQ=MONTHLY;BYMONTHDAY=40"},
		{"bad DTSTART time", KindRecurring, "DTSTART:20240902T256000\nRRULE:FREQ=DAILY"},
		{"bad DTSTART date", KindSingle, "DTSTART:2024-09-02"},
		{"duplicate DTSTART", KindSingle, "DTSTART:20240902T090000\nDTSTART:20240902T100000"},
		{"bad UNTIL", KindRecurring, "FREQ=DAILY;UNTIL=tomorrow"},
		{"EXDATE is not supported", KindRecurring, "RRULE:FREQ=DAILY\nEXDATE:20240903"},
		{"unknown kind", Kind(7), "FREQ=DAILY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.kind, tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRule))

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.text, perr.Text)
		})
	}
}

func TestNormalize_DoesNotAlias(t *testing.T) {
	opts, err := Normalize(KindRecurring, "FREQ=WEEKLY;BYDAY=MO,TU")
	require.NoError(t, err)

	ro := opts.rruleOption(time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC), mo.None[time.Time]())
	ro.Byweekday[0] = rrule.SU

	again := opts.rruleOption(time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC), mo.None[time.Time]())
	assert.Equal(t, rrule.MO, again.Byweekday[0])
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindRecurring, InferKind("DTSTART:20240101T090000\nRRULE:FREQ=DAILY"))
	assert.Equal(t, KindSingle, InferKind("DTSTART:20240101T090000"))

	for _, k := range []Kind{KindSingle, KindRecurring} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("weekly")
	assert.Error(t, err)
}
