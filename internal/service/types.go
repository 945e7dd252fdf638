package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caldave/caldave/internal/storage"
)

// Field size caps.
const (
	MaxTitleLen       = 500
	MaxLocationLen    = 500
	MaxDescriptionLen = 64 * 1024
	MaxMetadataLen    = 16 * 1024
)

// Listing limits.
const (
	DefaultListLimit     = 50
	MaxListLimit         = 200
	DefaultUpcomingLimit = 5
	MaxUpcomingLimit     = 50
)

type CreateEventInput struct {
	Title       string         `json:"title"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	AllDay      bool           `json:"all_day"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	Location    string         `json:"location"`
	Status      string         `json:"status"`
	Attendees   []string       `json:"attendees"`
	Recurrence  string         `json:"recurrence"`
}

// UpdateEventInput uses pointers so absent and zero-valued fields can be
// told apart.
type UpdateEventInput struct {
	Title       *string        `json:"title"`
	Start       *string        `json:"start"`
	End         *string        `json:"end"`
	AllDay      *bool          `json:"all_day"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	Location    *string        `json:"location"`
	Status      *string        `json:"status"`
	Attendees   *[]string      `json:"attendees"`
	Recurrence  *string        `json:"recurrence"`
}

type ListOptions struct {
	StartFrom *time.Time
	StartTo   *time.Time
	Status    string
	Limit     int
	Offset    int
}

type EventResult struct {
	Event            *storage.Event
	InstancesCreated int
}

type UpcomingResult struct {
	Events []*storage.Event
	// NextEventStartsIn is an ISO 8601 duration until the first event,
	// rounded to seconds. Empty when no event is upcoming.
	NextEventStartsIn string
}

func validateSizes(title, description, location string, metadata map[string]any) error {
	if title == "" {
		return badRequest("title is required")
	}
	if len(title) > MaxTitleLen {
		return badRequest("title exceeds %d characters", MaxTitleLen)
	}
	if len(location) > MaxLocationLen {
		return badRequest("location exceeds %d characters", MaxLocationLen)
	}
	if len(description) > MaxDescriptionLen {
		return badRequest("description exceeds %d bytes", MaxDescriptionLen)
	}
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return badRequest("metadata is not serializable: %v", err)
		}
		if len(b) > MaxMetadataLen {
			return badRequest("metadata exceeds %d bytes", MaxMetadataLen)
		}
	}
	return nil
}

func validateAttendees(attendees []string) error {
	seen := map[string]bool{}
	for _, a := range attendees {
		if a == "" {
			return badRequest("attendee must not be empty")
		}
		if seen[a] {
			return badRequest("duplicate attendee %q", a)
		}
		seen[a] = true
	}
	return nil
}

const dateLayout = "2006-01-02"

// normalizeTimes converts the wire time form into storage instants. For
// all-day events both values must be YYYY-MM-DD with start <= end; the
// stored end is midnight UTC of the day after the inclusive end date.
func normalizeTimes(start, end string, allDay bool) (time.Time, time.Time, error) {
	if allDay {
		st, err := time.Parse(dateLayout, start)
		if err != nil {
			return time.Time{}, time.Time{}, badRequest("all-day start must be YYYY-MM-DD: %q", start)
		}
		et, err := time.Parse(dateLayout, end)
		if err != nil {
			return time.Time{}, time.Time{}, badRequest("all-day end must be YYYY-MM-DD: %q", end)
		}
		if et.Before(st) {
			return time.Time{}, time.Time{}, badRequest("end date is before start date")
		}
		return st.UTC(), et.AddDate(0, 0, 1).UTC(), nil
	}

	st, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, badRequest("start must be RFC 3339: %q", start)
	}
	et, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, badRequest("end must be RFC 3339: %q", end)
	}
	if et.Before(st) {
		return time.Time{}, time.Time{}, badRequest("end is before start")
	}
	return st.UTC(), et.UTC(), nil
}

// ISODuration renders a duration as ISO 8601, rounded to seconds.
func ISODuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		d = 0
	}
	if d == 0 {
		return "PT0S"
	}

	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	seconds := int((d - time.Duration(minutes)*time.Minute) / time.Second)

	out := "P"
	if days > 0 {
		out += fmt.Sprintf("%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		out += "T"
		if hours > 0 {
			out += fmt.Sprintf("%dH", hours)
		}
		if minutes > 0 {
			out += fmt.Sprintf("%dM", minutes)
		}
		if seconds > 0 {
			out += fmt.Sprintf("%dS", seconds)
		}
	}
	return out
}
