package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Event statuses.
const (
	StatusConfirmed = "confirmed"
	StatusTentative = "tentative"
	StatusCancelled = "cancelled"
	StatusRecurring = "recurring" // sentinel for recurring parents, hidden from listings
)

// Event sources.
const (
	SourceAPI          = "api"
	SourceInboundEmail = "inbound_email"
)

// MetadataHorizonKey is the reserved metadata key on recurring parents
// holding the exclusive instant through which instances exist.
const MetadataHorizonKey = "_materialized_until"

// MetadataRespondedKey records the agent's response on an inbound recurring
// parent; while absent, new instances are materialized as tentative.
const MetadataRespondedKey = "_responded"

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	Secure   bool   `json:"secure"`
}

type Calendar struct {
	ID            string
	DisplayName   string
	Timezone      string
	PrimaryEmail  string
	FeedToken     string
	InboundToken  string
	InboundAPIKey string
	SMTP          *SMTPConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Event is the single polymorphic row described by the data model: a
// singleton, a recurring parent, or a materialized instance. Optional
// string fields use "" for NULL; Attendees and Metadata use nil.
type Event struct {
	ID             string
	CalendarID     string
	Title          string
	Description    string
	Metadata       map[string]any
	Location       string
	AllDay         bool
	StartTime      time.Time
	EndTime        time.Time
	Status         string
	Source         string
	Recurrence     string
	Attendees      []string
	OrganizerEmail string
	ICalUID        string
	ICalSequence   int
	ParentEventID  string
	OccurrenceDate string // YYYY-MM-DD, set iff ParentEventID is set
	IsException    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (e *Event) IsParent() bool    { return e.Recurrence != "" && e.ParentEventID == "" }
func (e *Event) IsInstance() bool  { return e.ParentEventID != "" }
func (e *Event) IsSingleton() bool { return e.Recurrence == "" && e.ParentEventID == "" }

// HorizonTime reads the materialization horizon from parent metadata.
// Returns the zero time when unset or unparsable.
func (e *Event) HorizonTime() time.Time {
	v, ok := e.Metadata[MetadataHorizonKey]
	if !ok {
		return time.Time{}
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// SetHorizon writes the materialization horizon into parent metadata.
func (e *Event) SetHorizon(t time.Time) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata[MetadataHorizonKey] = t.UTC().Format(time.RFC3339)
}

type EventFilter struct {
	StartFrom       *time.Time
	StartTo         *time.Time
	Status          string
	ExcludeStatuses []string
	Limit           int
	Offset          int
}

type Store interface {
	Close()

	// InTx runs fn with a Store bound to a single transaction. Nested
	// calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(Store) error) error

	CreateCalendar(ctx context.Context, c *Calendar) error
	GetCalendarByID(ctx context.Context, id string) (*Calendar, error)
	FindCalendarByEmailLocalPart(ctx context.Context, localPart string) (*Calendar, error)
	FindCalendarByInboundToken(ctx context.Context, token string) (*Calendar, error)

	InsertEvent(ctx context.Context, e *Event) error
	// InsertInstances batch-inserts materialized instances, skipping rows
	// that collide on (parent_event_id, occurrence_date). Returns the
	// number of rows actually created.
	InsertInstances(ctx context.Context, events []*Event) (int, error)
	GetEvent(ctx context.Context, id string) (*Event, error)
	// ListEvents never returns recurring-parent sentinels.
	ListEvents(ctx context.Context, calendarID string, f EventFilter) ([]*Event, error)
	ListInstances(ctx context.Context, parentID string) ([]*Event, error)
	ListRecurringParents(ctx context.Context) ([]*Event, error)
	UpdateEvent(ctx context.Context, e *Event) error
	// SetEventInviteIdentity persists the outbound iCal UID and sequence
	// without touching any other column, so it cannot overwrite a
	// concurrent edit of the row.
	SetEventInviteIdentity(ctx context.Context, id, icalUID string, sequence int) error
	// DeleteEvent removes the row; instances cascade with their parent.
	DeleteEvent(ctx context.Context, id string) error
	DeleteNonExceptionInstances(ctx context.Context, parentID string) (int, error)
	DeleteInstancesAfter(ctx context.Context, parentID, occurrenceDate string) (int, error)
	CancelExceptionInstancesAfter(ctx context.Context, parentID, occurrenceDate string) (int, error)
	// FindEventByUID returns (nil, nil) when no row matches.
	FindEventByUID(ctx context.Context, calendarID, icalUID string) (*Event, error)
}
