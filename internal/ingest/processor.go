package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/ids"
	"github.com/caldave/caldave/internal/recurrence"
	"github.com/caldave/caldave/internal/storage"
	"github.com/caldave/caldave/pkg/ical"
)

// Processing outcomes. Webhook replies always carry one of these with
// HTTP 200 so the provider does not retry.
const (
	StatusCreated   = "created"
	StatusUpdated   = "updated"
	StatusCancelled = "cancelled"
	StatusIgnored   = "ignored"
)

type Result struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func ignored(reason string) Result {
	return Result{Status: StatusIgnored, Reason: reason}
}

type Processor struct {
	store   storage.Store
	engine  *recurrence.Engine
	fetcher *Fetcher
	logger  zerolog.Logger
}

func NewProcessor(store storage.Store, engine *recurrence.Engine, fetcher *Fetcher, logger zerolog.Logger) *Processor {
	return &Processor{store: store, engine: engine, fetcher: fetcher, logger: logger}
}

// ProcessPayload resolves the iCal content of a normalized payload and
// runs the METHOD dispatch. Every failure maps to an ignored result.
func (p *Processor) ProcessPayload(ctx context.Context, cal *storage.Calendar, payload *Payload) Result {
	att, bodyFallback := payload.SelectICal()

	var data []byte
	switch {
	case att != nil && att.Content != "":
		data = DecodeContent(att.Content)
	case att != nil && att.FetchURL != "":
		b, err := p.fetcher.Fetch(ctx, att.FetchURL, cal.InboundAPIKey)
		if err != nil {
			p.logger.Error().Err(err).Str("calendar_id", cal.ID).Msg("attachment fetch failed")
			return ignored("attachment fetch failed")
		}
		data = b
	case bodyFallback:
		data = []byte(payload.TextBody)
	default:
		return ignored("no calendar attachment")
	}

	return p.Process(ctx, cal, data, payload.Subject)
}

// Process parses one iTIP message and applies it to the calendar.
func (p *Processor) Process(ctx context.Context, cal *storage.Calendar, data []byte, subject string) Result {
	inv, err := ical.ParseInvite(data)
	if err != nil {
		p.logger.Warn().Err(err).Str("calendar_id", cal.ID).Msg("unparseable inbound ical")
		return ignored("unparseable ical content")
	}

	title := inv.Title
	if title == "" {
		title = subject
	}
	if title == "" {
		title = "Untitled"
	}

	var existing *storage.Event
	if inv.UID != "" {
		existing, err = p.store.FindEventByUID(ctx, cal.ID, inv.UID)
		if err != nil {
			p.logger.Error().Err(err).Str("calendar_id", cal.ID).Msg("uid lookup failed")
			return ignored("internal error")
		}
	}

	var res Result
	switch inv.Method {
	case ical.MethodCancel:
		res, err = p.applyCancel(ctx, existing)
	case ical.MethodRequest, ical.MethodPublish:
		if existing == nil {
			res, err = p.createFromInvite(ctx, cal, inv, title)
		} else {
			res, err = p.updateFromInvite(ctx, existing, inv, title)
		}
	default:
		return ignored(fmt.Sprintf("unsupported method %s", inv.Method))
	}
	if err != nil {
		p.logger.Error().Err(err).
			Str("calendar_id", cal.ID).
			Str("method", inv.Method).
			Str("uid", inv.UID).
			Msg("inbound processing failed")
		return ignored("internal error")
	}
	return res
}

// applyCancel marks the matched event cancelled. On a recurring parent
// the non-exception instances are cancelled with it; cancelling the
// parent's sentinel status also stops further horizon extension.
func (p *Processor) applyCancel(ctx context.Context, existing *storage.Event) (Result, error) {
	if existing == nil {
		return ignored("no event with that uid"), nil
	}

	if !existing.IsParent() {
		existing.Status = storage.StatusCancelled
		if err := p.store.UpdateEvent(ctx, existing); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusCancelled, EventID: existing.ID}, nil
	}

	err := p.store.InTx(ctx, func(st storage.Store) error {
		existing.Status = storage.StatusCancelled
		if err := st.UpdateEvent(ctx, existing); err != nil {
			return err
		}
		instances, err := st.ListInstances(ctx, existing.ID)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			if inst.IsException {
				continue
			}
			inst.Status = storage.StatusCancelled
			if err := st.UpdateEvent(ctx, inst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusCancelled, EventID: existing.ID}, nil
}

func (p *Processor) createFromInvite(ctx context.Context, cal *storage.Calendar, inv *ical.Invite, title string) (Result, error) {
	event := &storage.Event{
		ID:             ids.NewEventID(),
		CalendarID:     cal.ID,
		Title:          title,
		Description:    inv.Description,
		Location:       inv.Location,
		AllDay:         inv.AllDay,
		StartTime:      inv.Start,
		EndTime:        inv.End,
		Status:         storage.StatusTentative,
		Source:         storage.SourceInboundEmail,
		Attendees:      inv.Attendees,
		OrganizerEmail: inv.Organizer,
		ICalUID:        inv.UID,
		ICalSequence:   inv.Sequence,
	}

	if inv.RRule != "" {
		if err := p.engine.ValidateRule(inv.RRule, inv.Start); err != nil {
			// Invalid or empty-window rules degrade to a singleton.
			p.logger.Warn().Err(err).Str("calendar_id", cal.ID).Msg("inbound rrule rejected")
		} else {
			event.Recurrence = inv.RRule
			event.Status = storage.StatusRecurring
			now := time.Now().UTC()
			horizon := now.Add(p.engine.Config().Window())
			err := p.store.InTx(ctx, func(st storage.Store) error {
				if err := st.InsertEvent(ctx, event); err != nil {
					return err
				}
				if _, err := p.engine.Materialize(ctx, st, event, now, horizon); err != nil {
					return err
				}
				event.SetHorizon(horizon)
				return st.UpdateEvent(ctx, event)
			})
			if err != nil {
				return Result{}, err
			}
			return Result{Status: StatusCreated, EventID: event.ID}, nil
		}
	}

	if err := p.store.InsertEvent(ctx, event); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusCreated, EventID: event.ID}, nil
}

// updateFromInvite reconciles a repeated REQUEST/PUBLISH for a known
// UID. A timing change on a plain event drops the status back to
// tentative so the agent re-confirms; a structural change on a series
// rematerializes it.
func (p *Processor) updateFromInvite(ctx context.Context, existing *storage.Event, inv *ical.Invite, title string) (Result, error) {
	recurring := existing.IsParent() || inv.RRule != ""

	timesChanged := !existing.StartTime.Equal(inv.Start) || !existing.EndTime.Equal(inv.End)
	ruleChanged := inv.RRule != "" && inv.RRule != existing.Recurrence

	existing.Title = title
	existing.Description = inv.Description
	existing.Location = inv.Location
	existing.AllDay = inv.AllDay
	existing.StartTime = inv.Start
	existing.EndTime = inv.End
	if len(inv.Attendees) > 0 {
		existing.Attendees = inv.Attendees
	}
	if inv.Organizer != "" {
		existing.OrganizerEmail = inv.Organizer
	}
	if inv.Sequence > existing.ICalSequence {
		existing.ICalSequence = inv.Sequence
	}

	if !recurring {
		if timesChanged {
			existing.Status = storage.StatusTentative
		}
		if err := p.store.UpdateEvent(ctx, existing); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusUpdated, EventID: existing.ID}, nil
	}

	if inv.RRule != "" {
		if err := p.engine.ValidateRule(inv.RRule, inv.Start); err != nil {
			return ignored("invalid recurrence rule"), nil
		}
		existing.Recurrence = inv.RRule
	}
	existing.Status = storage.StatusRecurring

	if timesChanged || ruleChanged {
		if _, err := p.engine.Rematerialize(ctx, existing); err != nil {
			return Result{}, err
		}
	} else if err := p.store.UpdateEvent(ctx, existing); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusUpdated, EventID: existing.ID}, nil
}
