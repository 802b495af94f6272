package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

// ErrInvalidRule is matched by every *ParseError via errors.Is.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// ParseError reports a rule string that cannot be normalized.
type ParseError struct {
	Text   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid rule %q: %s: %v", e.Text, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid rule %q: %s", e.Text, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrInvalidRule }

// UntilBound is the UNTIL value of a rule. Date-only and local date-time
// values float with the establishment timezone; values with a trailing Z are
// absolute and only get a calendar date once a location is known.
type UntilBound struct {
	Date    Date
	Instant mo.Option[time.Time]
}

// LocalDate returns the calendar day the bound refers to in loc.
func (u UntilBound) LocalDate(loc *time.Location) Date {
	if t, ok := u.Instant.Get(); ok {
		return DateOf(t, loc)
	}
	return u.Date
}

// Options is the fully-defaulted form of a rule string. Every field has a
// concrete value after Normalize; nothing is left for the iterator to guess.
type Options struct {
	Kind      Kind
	TimeOfDay Clock

	// The fields below are only meaningful for KindRecurring.
	Freq     rrule.Frequency
	Interval int
	Wkst     rrule.Weekday
	Count    int
	Until    mo.Option[UntilBound]

	by rrule.ROption
}

var supportedFreqs = map[rrule.Frequency]bool{
	rrule.DAILY:   true,
	rrule.WEEKLY:  true,
	rrule.MONTHLY: true,
}

// Normalize parses text according to kind.
//
// Accepted input is a subset of RFC 5545:
//
//	DTSTART:20240902T090000
//	DTSTART;TZID=Europe/Paris:20240902T090000\nRRULE:FREQ=WEEKLY;BYDAY=MO,WE
//	DTSTART=20240902T090000;FREQ=DAILY;COUNT=10
//	FREQ=MONTHLY;BYMONTHDAY=1;UNTIL=20241231
//
// The date part of DTSTART is ignored: occurrences are anchored on the rule's
// effective start date. Only its time of day is kept, defaulting to midnight.
func Normalize(kind Kind, text string) (Options, error) {
	opts := Options{Kind: kind, Interval: 1, Wkst: rrule.MO}
	fail := func(reason string, err error) (Options, error) {
		return Options{}, &ParseError{Text: text, Reason: reason, Err: err}
	}

	var (
		parts      []string
		sawDTStart bool
	)
	setTimeOfDay := func(value string) error {
		if sawDTStart {
			return errors.New("duplicate DTSTART")
		}
		sawDTStart = true
		c, err := parseTimeOfDay(value)
		if err != nil {
			return err
		}
		opts.TimeOfDay = c
		return nil
	}

	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n"), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "DTSTART:"), strings.HasPrefix(upper, "DTSTART;"):
			// Parameters such as TZID are ignored; the value follows the last colon.
			if err := setTimeOfDay(line[strings.LastIndex(line, ":")+1:]); err != nil {
				return fail("bad DTSTART", err)
			}
			continue
		case strings.HasPrefix(upper, "EXDATE"), strings.HasPrefix(upper, "RDATE"), strings.HasPrefix(upper, "EXRULE"):
			return fail("unsupported property", errors.New(line))
		case strings.HasPrefix(upper, "RRULE:"):
			line = line[len("RRULE:"):]
		}

		for _, part := range strings.Split(line, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, value, ok := strings.Cut(part, "=")
			if !ok || value == "" {
				return fail("malformed property", errors.New(part))
			}
			key = strings.ToUpper(strings.TrimSpace(key))
			value = strings.ToUpper(strings.TrimSpace(value))
			switch key {
			case "DTSTART":
				if err := setTimeOfDay(value); err != nil {
					return fail("bad DTSTART", err)
				}
			case "UNTIL":
				u, err := parseUntil(value)
				if err != nil {
					return fail("bad UNTIL", err)
				}
				opts.Until = mo.Some(u)
			default:
				parts = append(parts, key+"="+value)
			}
		}
	}

	if kind == KindSingle {
		if len(parts) > 0 || opts.Until.IsPresent() {
			return fail("single event must not carry recurrence properties", nil)
		}
		return opts, nil
	}
	if kind != KindRecurring {
		return fail(fmt.Sprintf("unknown rule kind %d", kind), nil)
	}
	if !hasPart(parts, "FREQ") {
		return fail("recurring rule requires FREQ", nil)
	}

	ro, err := rrule.StrToROption(strings.Join(parts, ";"))
	if err != nil {
		return fail("cannot parse recurrence", err)
	}
	if !supportedFreqs[ro.Freq] {
		return fail("unsupported frequency "+ro.Freq.String(), nil)
	}
	// rrule-go reports an absent INTERVAL or COUNT as 0.
	if hasPart(parts, "INTERVAL") {
		if ro.Interval <= 0 {
			return fail("INTERVAL must be positive", nil)
		}
		opts.Interval = ro.Interval
	}
	if hasPart(parts, "COUNT") && ro.Count <= 0 {
		return fail("COUNT must be positive", nil)
	}
	opts.Freq = ro.Freq
	opts.Wkst = ro.Wkst
	opts.Count = ro.Count
	opts.by = *ro

	// Let rrule-go check the BY* ranges against a fixed origin.
	if _, err := rrule.NewRRule(opts.rruleOption(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), mo.None[time.Time]())); err != nil {
		return fail("value out of range", err)
	}
	return opts, nil
}

// rruleOption builds the rrule-go option set for an anchored origin. BY*
// slices are copied so the returned value never aliases opts.
func (o Options) rruleOption(dtstart time.Time, until mo.Option[time.Time]) rrule.ROption {
	return rrule.ROption{
		Freq:       o.Freq,
		Dtstart:    dtstart,
		Interval:   o.Interval,
		Wkst:       o.Wkst,
		Count:      o.Count,
		Until:      until.OrEmpty(),
		Bysetpos:   clone(o.by.Bysetpos),
		Bymonth:    clone(o.by.Bymonth),
		Bymonthday: clone(o.by.Bymonthday),
		Byyearday:  clone(o.by.Byyearday),
		Byweekno:   clone(o.by.Byweekno),
		Byweekday:  clone(o.by.Byweekday),
		Byhour:     clone(o.by.Byhour),
		Byminute:   clone(o.by.Byminute),
		Bysecond:   clone(o.by.Bysecond),
		Byeaster:   clone(o.by.Byeaster),
	}
}

func clone[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func hasPart(parts []string, key string) bool {
	for _, p := range parts {
		if strings.HasPrefix(p, key+"=") {
			return true
		}
	}
	return false
}

// parseTimeOfDay extracts the wall-clock part of a DTSTART value. Accepted
// forms: 20240902, 20240902T0900, 20240902T090000, T090000, with an
// optional trailing Z that is ignored.
func parseTimeOfDay(value string) (Clock, error) {
	value = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(value)), "Z")
	datePart, timePart, hasTime := strings.Cut(value, "T")
	if datePart != "" {
		if _, err := time.Parse("20060102", datePart); err != nil {
			return Clock{}, fmt.Errorf("bad date %q", datePart)
		}
	}
	if !hasTime {
		if datePart == "" {
			return Clock{}, errors.New("empty value")
		}
		return Clock{}, nil
	}
	if len(timePart) != 4 && len(timePart) != 6 {
		return Clock{}, fmt.Errorf("bad time %q", timePart)
	}
	fields := make([]int, 3)
	for i := 0; i*2 < len(timePart); i++ {
		n, err := strconv.Atoi(timePart[i*2 : i*2+2])
		if err != nil {
			return Clock{}, fmt.Errorf("bad time %q", timePart)
		}
		fields[i] = n
	}
	c := Clock{Hour: fields[0], Minute: fields[1], Second: fields[2]}
	if c.Hour > 23 || c.Minute > 59 || c.Second > 59 {
		return Clock{}, fmt.Errorf("time %q out of range", timePart)
	}
	return c, nil
}

func parseUntil(value string) (UntilBound, error) {
	switch {
	case len(value) == len(rrule.DateFormat):
		t, err := time.Parse(rrule.DateFormat, value)
		if err != nil {
			return UntilBound{}, err
		}
		return UntilBound{Date: DateOf(t, time.UTC)}, nil
	case len(value) == len(rrule.LocalDateTimeFormat):
		t, err := time.Parse(rrule.LocalDateTimeFormat, value)
		if err != nil {
			return UntilBound{}, err
		}
		return UntilBound{Date: DateOf(t, time.UTC)}, nil
	default:
		t, err := time.Parse(rrule.DateTimeFormat, value)
		if err != nil {
			return UntilBound{}, err
		}
		return UntilBound{Date: DateOf(t, time.UTC), Instant: mo.Some(t)}, nil
	}
}
