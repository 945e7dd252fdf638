// Package service implements the event lifecycle: create with recurrence
// materialization, the three-case patch dispatch, the three deletion
// modes, invite responses and listings.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/ids"
	"github.com/caldave/caldave/internal/recurrence"
	"github.com/caldave/caldave/internal/storage"
)

// InviteSender is the outbound mail boundary. Implementations must not
// block: they are invoked after the database state is committed and own
// their failure logging.
type InviteSender interface {
	SendRequest(cal *storage.Calendar, event *storage.Event)
	SendReply(cal *storage.Calendar, event *storage.Event, response string)
}

type EventService struct {
	store  storage.Store
	engine *recurrence.Engine
	mailer InviteSender
	logger zerolog.Logger
}

func NewEventService(store storage.Store, engine *recurrence.Engine, mailer InviteSender, logger zerolog.Logger) *EventService {
	return &EventService{store: store, engine: engine, mailer: mailer, logger: logger}
}

func (s *EventService) Create(ctx context.Context, calendarID string, in CreateEventInput) (*EventResult, error) {
	cal, err := s.store.GetCalendarByID(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	if err := validateSizes(in.Title, in.Description, in.Location, in.Metadata); err != nil {
		return nil, err
	}
	if err := validateAttendees(in.Attendees); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = storage.StatusConfirmed
	}
	switch status {
	case storage.StatusConfirmed, storage.StatusTentative, storage.StatusCancelled:
	default:
		return nil, badRequest("invalid status %q", status)
	}

	startTime, endTime, err := normalizeTimes(in.Start, in.End, in.AllDay)
	if err != nil {
		return nil, err
	}

	event := &storage.Event{
		ID:          ids.NewEventID(),
		CalendarID:  calendarID,
		Title:       in.Title,
		Description: in.Description,
		Metadata:    in.Metadata,
		Location:    in.Location,
		AllDay:      in.AllDay,
		StartTime:   startTime,
		EndTime:     endTime,
		Status:      status,
		Source:      storage.SourceAPI,
		Attendees:   in.Attendees,
	}

	result := &EventResult{Event: event}

	if in.Recurrence != "" {
		if err := s.engine.ValidateRule(in.Recurrence, startTime); err != nil {
			return nil, badRequest("%v", err)
		}
		event.Recurrence = in.Recurrence
		event.Status = storage.StatusRecurring

		now := time.Now().UTC()
		horizon := now.Add(s.engine.Config().Window())
		err = s.store.InTx(ctx, func(st storage.Store) error {
			if err := st.InsertEvent(ctx, event); err != nil {
				return err
			}
			n, err := s.engine.Materialize(ctx, st, event, now, horizon)
			if err != nil {
				return err
			}
			result.InstancesCreated = n
			event.SetHorizon(horizon)
			return st.UpdateEvent(ctx, event)
		})
		if err != nil {
			return nil, fmt.Errorf("create recurring event: %w", err)
		}
	} else {
		if err := s.store.InsertEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("create event: %w", err)
		}
	}

	if s.mailer != nil && len(event.Attendees) > 0 {
		s.mailer.SendRequest(cal, event)
	}

	return result, nil
}

// Get returns the event, scoped to the calendar.
func (s *EventService) Get(ctx context.Context, calendarID, eventID string) (*storage.Event, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.CalendarID != calendarID {
		return nil, storage.ErrNotFound
	}
	return event, nil
}

func (s *EventService) List(ctx context.Context, calendarID string, opts ListOptions) ([]*storage.Event, error) {
	if _, err := s.store.GetCalendarByID(ctx, calendarID); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	return s.store.ListEvents(ctx, calendarID, storage.EventFilter{
		StartFrom: opts.StartFrom,
		StartTo:   opts.StartTo,
		Status:    opts.Status,
		Limit:     limit,
		Offset:    opts.Offset,
	})
}

func (s *EventService) Upcoming(ctx context.Context, calendarID string, limit int) (*UpcomingResult, error) {
	if _, err := s.store.GetCalendarByID(ctx, calendarID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	if limit > MaxUpcomingLimit {
		limit = MaxUpcomingLimit
	}

	now := time.Now().UTC()
	events, err := s.store.ListEvents(ctx, calendarID, storage.EventFilter{
		StartFrom:       &now,
		ExcludeStatuses: []string{storage.StatusCancelled},
		Limit:           limit,
	})
	if err != nil {
		return nil, err
	}

	result := &UpcomingResult{Events: events}
	if len(events) > 0 {
		result.NextEventStartsIn = ISODuration(events[0].StartTime.Sub(now))
	}
	return result, nil
}
