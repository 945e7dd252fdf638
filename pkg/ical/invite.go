// Package ical translates between CalDave's event model and RFC 5545
// iCalendar documents: parsing inbound iTIP messages, building outbound
// METHOD:REQUEST / METHOD:REPLY documents and the read-only feed.
package ical

import "time"

// iTIP methods (RFC 5546).
const (
	MethodPublish = "PUBLISH"
	MethodRequest = "REQUEST"
	MethodReply   = "REPLY"
	MethodCancel  = "CANCEL"
)

// Participation status values.
const (
	PartStatNeedsAction = "NEEDS-ACTION"
	PartStatAccepted    = "ACCEPTED"
	PartStatDeclined    = "DECLINED"
	PartStatTentative   = "TENTATIVE"
)

// Invite is the normalized form of a single VEVENT as it crosses the
// iCalendar boundary in either direction. For all-day events Start and End
// are midnight UTC with End exclusive, matching storage form.
type Invite struct {
	Method      string
	UID         string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Organizer   string
	Attendees   []string
	RRule       string
	Sequence    int
	DTStamp     time.Time
}
