package ical

import (
	"strings"
	"testing"
	"time"
)

const sampleRequest = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Example//Mail//EN\r\n" +
	"METHOD:REQUEST\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:abc-123@example.com\r\n" +
	"DTSTAMP:20250105T090000Z\r\n" +
	"DTSTART:20250110T140000Z\r\n" +
	"DTEND:20250110T150000Z\r\n" +
	"SUMMARY:Planning sync\r\n" +
	"LOCATION:Room 4\r\n" +
	"SEQUENCE:2\r\n" +
	"ORGANIZER;CN=Alice:mailto:Alice@Example.com\r\n" +
	"ATTENDEE:mailto:bob@example.com\r\n" +
	"ATTENDEE:mailto:BOB@example.com\r\n" +
	"ATTENDEE:mailto:carol@example.com\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseInviteRequest(t *testing.T) {
	inv, err := ParseInvite([]byte(sampleRequest))
	if err != nil {
		t.Fatalf("ParseInvite: %v", err)
	}
	if inv.Method != MethodRequest {
		t.Errorf("method = %q, want REQUEST", inv.Method)
	}
	if inv.UID != "abc-123@example.com" {
		t.Errorf("uid = %q", inv.UID)
	}
	if inv.Title != "Planning sync" {
		t.Errorf("title = %q", inv.Title)
	}
	if inv.Location != "Room 4" {
		t.Errorf("location = %q", inv.Location)
	}
	if inv.Organizer != "alice@example.com" {
		t.Errorf("organizer = %q", inv.Organizer)
	}
	if len(inv.Attendees) != 2 {
		t.Fatalf("attendees = %v, want deduped pair", inv.Attendees)
	}
	if inv.Attendees[0] != "bob@example.com" || inv.Attendees[1] != "carol@example.com" {
		t.Errorf("attendees = %v", inv.Attendees)
	}
	if inv.Sequence != 2 {
		t.Errorf("sequence = %d, want 2", inv.Sequence)
	}
	wantStart := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	if !inv.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", inv.Start, wantStart)
	}
	if !inv.End.Equal(wantStart.Add(time.Hour)) {
		t.Errorf("end = %v", inv.End)
	}
	if inv.AllDay {
		t.Error("all-day should be false")
	}
}

func TestParseInviteDefaults(t *testing.T) {
	doc := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//Example//Mail//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:x\r\n" +
		"DTSTAMP:20250105T090000Z\r\n" +
		"DTSTART;VALUE=DATE:20250110\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	inv, err := ParseInvite([]byte(doc))
	if err != nil {
		t.Fatalf("ParseInvite: %v", err)
	}
	if inv.Method != MethodRequest {
		t.Errorf("method = %q, want default REQUEST", inv.Method)
	}
	if !inv.AllDay {
		t.Fatal("VALUE=DATE should mark the event all-day")
	}
	wantStart := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	if !inv.Start.Equal(wantStart) {
		t.Errorf("start = %v", inv.Start)
	}
	// Missing DTEND on an all-day event spans one day.
	if !inv.End.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Errorf("end = %v", inv.End)
	}
}

func TestParseInviteMissingDTStart(t *testing.T) {
	doc := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//Example//Mail//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:x\r\n" +
		"DTSTAMP:20250105T090000Z\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	if _, err := ParseInvite([]byte(doc)); err == nil {
		t.Fatal("expected error for missing DTSTART")
	}
}

func TestParseDateTimeForms(t *testing.T) {
	cases := []struct {
		value  string
		tzid   string
		want   time.Time
		allDay bool
	}{
		{"20250110", "", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), true},
		{"20250110T140000Z", "", time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC), false},
		{"20250110T140000", "", time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC), false},
		{"2025-01-10T14:00:00Z", "", time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		got, allDay, err := ParseDateTime(tc.value, tc.tzid)
		if err != nil {
			t.Errorf("ParseDateTime(%q): %v", tc.value, err)
			continue
		}
		if !got.Equal(tc.want) || allDay != tc.allDay {
			t.Errorf("ParseDateTime(%q) = (%v, %v), want (%v, %v)", tc.value, got, allDay, tc.want, tc.allDay)
		}
	}
}

func TestBuildRequest(t *testing.T) {
	inv := &Invite{
		UID:       "evt_1@caldave.local",
		Title:     "Kickoff",
		Start:     time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC),
		Organizer: "agent@caldave.local",
		Attendees: []string{"bob@example.com"},
		Sequence:  1,
		DTStamp:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	out, err := BuildRequest("-//CalDave//CalDave 1.0.0//EN", inv, "Agent")
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	doc := string(out)

	for _, want := range []string{
		"METHOD:REQUEST",
		"UID:evt_1@caldave.local",
		"SUMMARY:Kickoff",
		"DTSTART:20250203T090000Z",
		"DTEND:20250203T100000Z",
		"SEQUENCE:1",
		"mailto:agent@caldave.local",
		"mailto:bob@example.com",
		"PARTSTAT=NEEDS-ACTION",
		"RSVP=TRUE",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("request missing %q:\n%s", want, doc)
		}
	}
}

func TestBuildRequestAllDay(t *testing.T) {
	inv := &Invite{
		UID:    "evt_2@caldave.local",
		Title:  "Offsite",
		AllDay: true,
		Start:  time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		// Exclusive end: covers the 10th and 11th.
		End:       time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		Attendees: []string{"bob@example.com"},
	}

	out, err := BuildRequest("-//CalDave//CalDave 1.0.0//EN", inv, "")
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	doc := string(out)
	if !strings.Contains(doc, "DTSTART;VALUE=DATE:20250310") {
		t.Errorf("missing all-day DTSTART:\n%s", doc)
	}
	if !strings.Contains(doc, "DTEND;VALUE=DATE:20250312") {
		t.Errorf("missing all-day DTEND:\n%s", doc)
	}
}

func TestBuildReply(t *testing.T) {
	inv := &Invite{
		UID:       "abc-123@example.com",
		Title:     "Planning sync",
		Start:     time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC),
		Organizer: "alice@example.com",
	}

	out, err := BuildReply("-//CalDave//CalDave 1.0.0//EN", inv, "agent@caldave.local", PartStatAccepted)
	if err != nil {
		t.Fatalf("BuildReply: %v", err)
	}
	doc := string(out)

	for _, want := range []string{
		"METHOD:REPLY",
		"UID:abc-123@example.com",
		"DTSTART:20250110T140000Z",
		"PARTSTAT=ACCEPTED",
		"mailto:agent@caldave.local",
		"mailto:alice@example.com",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("reply missing %q:\n%s", want, doc)
		}
	}
}

func TestBuildFeedOmitsMethod(t *testing.T) {
	out, err := BuildFeed("-//CalDave//CalDave 1.0.0//EN", []*Invite{{
		UID:   "evt_1",
		Title: "Standup",
		Start: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 10, 9, 15, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("BuildFeed: %v", err)
	}
	doc := string(out)
	if strings.Contains(doc, "METHOD:") {
		t.Error("feed must not carry a METHOD")
	}
	if !strings.Contains(doc, "SUMMARY:Standup") {
		t.Error("feed missing event summary")
	}
}

func TestPartStatForResponse(t *testing.T) {
	if _, err := PartStatForResponse("maybe"); err == nil {
		t.Error("expected error for unknown response")
	}
	got, err := PartStatForResponse("declined")
	if err != nil || got != PartStatDeclined {
		t.Errorf("declined = (%q, %v)", got, err)
	}
}
