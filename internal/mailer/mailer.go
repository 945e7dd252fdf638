// Package mailer sends outbound iTIP mail: METHOD:REQUEST invitations
// to attendees and METHOD:REPLY responses to inbound organizers. Sends
// are fire-and-forget; the calling request never waits on a transport.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/storage"
	"github.com/caldave/caldave/pkg/ical"
)

const sendTimeout = 30 * time.Second

type Config struct {
	ProdID      string
	EmailDomain string
	// Process-wide HTTP mail provider, used when a calendar has no SMTP
	// account of its own.
	APIURL   string
	APIToken string
	// DefaultFrom is the envelope sender for the HTTP provider.
	DefaultFrom string
}

type Mailer struct {
	store  storage.Store
	cfg    Config
	api    *apiTransport
	logger zerolog.Logger
}

func New(store storage.Store, cfg Config, logger zerolog.Logger) *Mailer {
	m := &Mailer{store: store, cfg: cfg, logger: logger}
	if cfg.APIURL != "" && cfg.APIToken != "" {
		m.api = newAPITransport(cfg.APIURL, cfg.APIToken)
	}
	return m
}

// SendRequest emits a METHOD:REQUEST for the event to its attendees.
// The first successful send fixes the event's iCal UID; later sends bump
// the sequence number.
func (m *Mailer) SendRequest(cal *storage.Calendar, event *storage.Event) {
	if len(event.Attendees) == 0 {
		return
	}
	// The caller keeps using its row after returning; the goroutine works
	// on a snapshot so neither side sees the other's writes.
	snapshot := copyEvent(event)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := m.sendRequest(ctx, cal, snapshot); err != nil {
			m.logger.Error().Err(err).
				Str("event_id", snapshot.ID).
				Str("calendar_id", cal.ID).
				Msg("invite send failed")
		}
	}()
}

func (m *Mailer) sendRequest(ctx context.Context, cal *storage.Calendar, event *storage.Event) error {
	uid := event.ICalUID
	seq := event.ICalSequence
	if uid == "" {
		uid = fmt.Sprintf("%s@%s", event.ID, m.cfg.EmailDomain)
	} else {
		seq++
	}

	inv := inviteFromEvent(event)
	inv.UID = uid
	inv.Sequence = seq
	inv.Method = ical.MethodRequest
	inv.Organizer = cal.PrimaryEmail

	body, err := ical.BuildRequest(m.cfg.ProdID, inv, cal.DisplayName)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	subject := "Invitation: " + event.Title
	if err := m.deliver(ctx, cal, event.Attendees, subject, ical.MethodRequest, body); err != nil {
		return err
	}

	// Persist the identity only once the invite went out. A failed send
	// keeps the sequence untouched so the retry reuses it.
	if err := m.store.SetEventInviteIdentity(ctx, event.ID, uid, seq); err != nil {
		return fmt.Errorf("persist invite identity: %w", err)
	}
	return nil
}

// SendReply emits a METHOD:REPLY to the stored organizer, carrying the
// calendar's participation status for the given response.
func (m *Mailer) SendReply(cal *storage.Calendar, event *storage.Event, response string) {
	if event.OrganizerEmail == "" {
		return
	}
	snapshot := copyEvent(event)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := m.sendReply(ctx, cal, snapshot, response); err != nil {
			m.logger.Error().Err(err).
				Str("event_id", snapshot.ID).
				Str("calendar_id", cal.ID).
				Msg("reply send failed")
		}
	}()
}

func (m *Mailer) sendReply(ctx context.Context, cal *storage.Calendar, event *storage.Event, response string) error {
	partStat, err := ical.PartStatForResponse(response)
	if err != nil {
		return err
	}

	inv := inviteFromEvent(event)
	inv.Method = ical.MethodReply
	inv.Organizer = event.OrganizerEmail

	body, err := ical.BuildReply(m.cfg.ProdID, inv, cal.PrimaryEmail, partStat)
	if err != nil {
		return fmt.Errorf("build reply: %w", err)
	}

	subject := fmt.Sprintf("%s: %s", partStatSubject(response), event.Title)
	return m.deliver(ctx, cal, []string{event.OrganizerEmail}, subject, ical.MethodReply, body)
}

// deliver picks the transport: the calendar's own SMTP account wins,
// the process-wide HTTP provider is the fallback, and with neither
// configured the send is skipped with a logged reason.
func (m *Mailer) deliver(ctx context.Context, cal *storage.Calendar, to []string, subject, method string, body []byte) error {
	switch {
	case cal.SMTP != nil && cal.SMTP.Host != "":
		return sendSMTP(ctx, cal.SMTP, to, subject, method, body)
	case m.api != nil:
		from := m.cfg.DefaultFrom
		if from == "" {
			from = cal.PrimaryEmail
		}
		return m.api.send(ctx, from, to, subject, method, body)
	default:
		m.logger.Info().
			Str("calendar_id", cal.ID).
			Str("reason", "no_transport").
			Msg("outbound mail skipped")
		return nil
	}
}

func copyEvent(e *storage.Event) *storage.Event {
	c := *e
	c.Attendees = append([]string(nil), e.Attendees...)
	return &c
}

func inviteFromEvent(event *storage.Event) *ical.Invite {
	return &ical.Invite{
		UID:         event.ICalUID,
		Title:       event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start:       event.StartTime,
		End:         event.EndTime,
		AllDay:      event.AllDay,
		Attendees:   append([]string(nil), event.Attendees...),
		RRule:       event.Recurrence,
		Sequence:    event.ICalSequence,
		DTStamp:     time.Now().UTC(),
	}
}

func partStatSubject(response string) string {
	switch response {
	case "accepted":
		return "Accepted"
	case "declined":
		return "Declined"
	default:
		return "Tentative"
	}
}
