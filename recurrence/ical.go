package recurrence

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const prodID = "-//staffavail//Availability Export//EN"

// RuleFromComponent converts a VEVENT into a Rule. DTSTART supplies the
// effective start date and wall-clock start in loc, DTEND or DURATION the
// occurrence length, and an RRULE property makes the rule recurring.
func RuleFromComponent(comp *ical.Component, loc *time.Location) (Rule, error) {
	if comp == nil || comp.Name != ical.CompEvent {
		return Rule{}, errors.New("component is not a VEVENT")
	}

	start, err := comp.Props.DateTime(ical.PropDateTimeStart, loc)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to read DTSTART: %w", err)
	}
	if start.IsZero() {
		return Rule{}, errors.New("VEVENT has no DTSTART")
	}
	start = start.In(loc)

	var duration time.Duration
	if end, err := comp.Props.DateTime(ical.PropDateTimeEnd, loc); err == nil && !end.IsZero() {
		duration = end.Sub(start)
	} else if prop := comp.Props.Get(ical.PropDuration); prop != nil {
		if duration, err = prop.Duration(); err != nil {
			return Rule{}, fmt.Errorf("failed to read DURATION: %w", err)
		}
	} else {
		// All-day event without an end lasts one day.
		duration = 24 * time.Hour
	}
	if duration < time.Minute {
		return Rule{}, fmt.Errorf("event lasts %s, need at least one minute", duration)
	}

	rule := Rule{
		Kind:            KindSingle,
		Text:            "DTSTART:" + start.Format("20060102T150405"),
		DurationMinutes: int(duration / time.Minute),
		EffectiveStart:  DateOf(start, loc),
	}
	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil && prop.Value != "" {
		rule.Kind = KindRecurring
		rule.Text += "\nRRULE:" + strings.TrimPrefix(prop.Value, "RRULE:")
	}

	// Fail early rather than storing a rule nobody can expand.
	if _, err := Normalize(rule.Kind, rule.Text); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// NewCalendar renders occurrences as a VCALENDAR with one VEVENT each, so a
// rule's expansion can be inspected in any calendar client.
func NewCalendar(uidPrefix, summary string, occurrences []Interval, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	for _, occ := range occurrences {
		event := ical.NewComponent(ical.CompEvent)
		event.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%s", uidPrefix, occ.Start.UTC().Format("20060102T150405Z")))
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		event.Props.SetDateTime(ical.PropDateTimeStart, occ.Start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, occ.End.UTC())
		if summary != "" {
			event.Props.SetText(ical.PropSummary, summary)
		}
		cal.Children = append(cal.Children, event)
	}
	return cal
}

// WriteCalendar encodes cal as an iCalendar stream.
func WriteCalendar(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// ReadRules decodes an iCalendar stream and converts each of its VEVENTs
// with RuleFromComponent.
func ReadRules(r io.Reader, loc *time.Location) ([]Rule, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}

	events := cal.Events()
	if len(events) == 0 {
		return nil, errors.New("no events found in calendar")
	}
	rules := make([]Rule, 0, len(events))
	for i := range events {
		rule, err := RuleFromComponent(events[i].Component, loc)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
