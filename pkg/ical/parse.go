package ical

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// ParseInvite decodes an iCalendar document and extracts its first VEVENT.
// METHOD is read from the calendar, falling back to the event component,
// defaulting to REQUEST.
func ParseInvite(data []byte) (*Invite, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	var comp *ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			comp = child
			break
		}
	}
	if comp == nil {
		return nil, fmt.Errorf("no VEVENT component found")
	}

	inv := &Invite{}

	inv.Method = propValue(cal.Props, ical.PropMethod)
	if inv.Method == "" {
		inv.Method = propValue(comp.Props, ical.PropMethod)
	}
	if inv.Method == "" {
		inv.Method = MethodRequest
	}
	inv.Method = strings.ToUpper(inv.Method)

	inv.UID = propValue(comp.Props, ical.PropUID)
	inv.Title = propValue(comp.Props, ical.PropSummary)
	inv.Description = propValue(comp.Props, ical.PropDescription)
	inv.Location = propValue(comp.Props, ical.PropLocation)

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, fmt.Errorf("missing DTSTART")
	}
	start, allDay, err := parseDateTimeProp(dtstart)
	if err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}
	inv.Start = start
	inv.AllDay = allDay

	if dtend := comp.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		end, _, err := parseDateTimeProp(dtend)
		if err != nil {
			return nil, fmt.Errorf("invalid DTEND: %w", err)
		}
		inv.End = end
	} else if allDay {
		inv.End = start.AddDate(0, 0, 1)
	} else {
		inv.End = start.Add(time.Hour)
	}

	if org := comp.Props.Get(ical.PropOrganizer); org != nil {
		inv.Organizer = normalizeEmail(org.Value)
	}

	seen := map[string]bool{}
	for _, att := range comp.Props.Values(ical.PropAttendee) {
		email := normalizeEmail(att.Value)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		inv.Attendees = append(inv.Attendees, email)
	}

	if rr := comp.Props.Get(ical.PropRecurrenceRule); rr != nil {
		inv.RRule = rr.Value
	}

	if seq := propValue(comp.Props, ical.PropSequence); seq != "" {
		if n, err := strconv.Atoi(seq); err == nil {
			inv.Sequence = n
		}
	}

	return inv, nil
}

func propValue(props ical.Props, name string) string {
	if p := props.Get(name); p != nil {
		return p.Value
	}
	return ""
}

func normalizeEmail(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.Index(strings.ToLower(v), "mailto:"); i == 0 {
		v = v[len("mailto:"):]
	}
	return strings.ToLower(v)
}

func parseDateTimeProp(prop *ical.Prop) (time.Time, bool, error) {
	if strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE") {
		t, err := time.Parse("20060102", strings.TrimSpace(prop.Value))
		return t.UTC(), true, err
	}
	return ParseDateTime(prop.Value, prop.Params.Get("TZID"))
}

// ParseDateTime parses the iCalendar DATE and DATE-TIME forms. Floating
// local times resolve against tzid (host zoneinfo) when given, else UTC.
func ParseDateTime(value, tzid string) (time.Time, bool, error) {
	s := strings.TrimSpace(value)

	if len(s) == 8 {
		t, err := time.Parse("20060102", s)
		return t.UTC(), true, err
	}
	if len(s) == 16 && strings.HasSuffix(s, "Z") {
		t, err := time.Parse("20060102T150405Z", s)
		return t.UTC(), false, err
	}
	if len(s) == 15 {
		loc := time.UTC
		if tzid != "" {
			if l, err := time.LoadLocation(tzid); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("20060102T150405", s, loc)
		return t.UTC(), false, err
	}

	t, err := time.Parse(time.RFC3339, s)
	return t.UTC(), false, err
}
