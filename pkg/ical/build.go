package ical

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-ical"
)

const (
	dateFormat     = "20060102"
	dateTimeFormat = "20060102T150405Z"
)

// BuildRequest serializes a METHOD:REQUEST document inviting the event's
// attendees. Attendee lines carry PARTSTAT=NEEDS-ACTION and RSVP=TRUE.
func BuildRequest(prodID string, inv *Invite, organizerName string) ([]byte, error) {
	cal := newCalendar(prodID, MethodRequest)

	comp := eventComponent(inv)

	if inv.Organizer != "" {
		org := &ical.Prop{Name: ical.PropOrganizer, Value: "mailto:" + inv.Organizer}
		if organizerName != "" {
			org.Params = ical.Params{"CN": []string{organizerName}}
		}
		comp.Props.Set(org)
	}

	for _, attendee := range inv.Attendees {
		att := &ical.Prop{Name: ical.PropAttendee, Value: "mailto:" + attendee}
		att.Params = ical.Params{
			ical.ParamParticipationStatus: []string{PartStatNeedsAction},
			"RSVP":                        []string{"TRUE"},
		}
		comp.Props.Add(att)
	}

	comp.Props.Set(&ical.Prop{Name: ical.PropSequence, Value: strconv.Itoa(inv.Sequence)})

	cal.Children = append(cal.Children, comp)
	return encode(cal)
}

// BuildReply serializes a METHOD:REPLY document answering a stored invite.
// UID, DTSTART and DTEND are echoed; the single attendee line carries the
// given participation status.
func BuildReply(prodID string, inv *Invite, attendee, partStat string) ([]byte, error) {
	cal := newCalendar(prodID, MethodReply)

	comp := eventComponent(inv)

	if inv.Organizer != "" {
		comp.Props.Set(&ical.Prop{Name: ical.PropOrganizer, Value: "mailto:" + inv.Organizer})
	}

	att := &ical.Prop{Name: ical.PropAttendee, Value: "mailto:" + attendee}
	att.Params = ical.Params{ical.ParamParticipationStatus: []string{partStat}}
	comp.Props.Add(att)

	cal.Children = append(cal.Children, comp)
	return encode(cal)
}

// BuildFeed serializes a read-only calendar feed. Attendee lines carry no
// participation status.
func BuildFeed(prodID string, invites []*Invite) ([]byte, error) {
	cal := newCalendar(prodID, "")

	for _, inv := range invites {
		comp := eventComponent(inv)
		for _, attendee := range inv.Attendees {
			comp.Props.Add(&ical.Prop{Name: ical.PropAttendee, Value: "mailto:" + attendee})
		}
		cal.Children = append(cal.Children, comp)
	}

	return encode(cal)
}

// PartStatForResponse maps an invite response to its PARTSTAT value.
func PartStatForResponse(response string) (string, error) {
	switch response {
	case "accepted":
		return PartStatAccepted, nil
	case "declined":
		return PartStatDeclined, nil
	case "tentative":
		return PartStatTentative, nil
	}
	return "", fmt.Errorf("unknown response %q", response)
}

func newCalendar(prodID, method string) *ical.Calendar {
	cal := &ical.Calendar{
		Component: &ical.Component{
			Name:  ical.CompCalendar,
			Props: ical.Props{},
		},
	}
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if method != "" {
		cal.Props.SetText(ical.PropMethod, method)
	}
	return cal
}

func eventComponent(inv *Invite) *ical.Component {
	comp := &ical.Component{
		Name:  ical.CompEvent,
		Props: make(ical.Props),
	}

	comp.Props.Set(&ical.Prop{Name: ical.PropUID, Value: inv.UID})

	stamp := inv.DTStamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	comp.Props.Set(&ical.Prop{Name: ical.PropDateTimeStamp, Value: stamp.UTC().Format(dateTimeFormat)})

	if inv.AllDay {
		// Storage already holds the exclusive end date the wire form wants.
		dtstart := &ical.Prop{Name: ical.PropDateTimeStart, Value: inv.Start.UTC().Format(dateFormat)}
		dtstart.Params = ical.Params{ical.ParamValue: []string{"DATE"}}
		comp.Props.Set(dtstart)

		dtend := &ical.Prop{Name: ical.PropDateTimeEnd, Value: inv.End.UTC().Format(dateFormat)}
		dtend.Params = ical.Params{ical.ParamValue: []string{"DATE"}}
		comp.Props.Set(dtend)
	} else {
		comp.Props.Set(&ical.Prop{Name: ical.PropDateTimeStart, Value: inv.Start.UTC().Format(dateTimeFormat)})
		comp.Props.Set(&ical.Prop{Name: ical.PropDateTimeEnd, Value: inv.End.UTC().Format(dateTimeFormat)})
	}

	if inv.Title != "" {
		comp.Props.Set(&ical.Prop{Name: ical.PropSummary, Value: inv.Title})
	}
	if inv.Description != "" {
		comp.Props.Set(&ical.Prop{Name: ical.PropDescription, Value: inv.Description})
	}
	if inv.Location != "" {
		comp.Props.Set(&ical.Prop{Name: ical.PropLocation, Value: inv.Location})
	}
	if inv.RRule != "" {
		comp.Props.Set(&ical.Prop{Name: ical.PropRecurrenceRule, Value: inv.RRule})
	}

	return comp
}

func encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
