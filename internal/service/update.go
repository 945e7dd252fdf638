package service

import (
	"context"
	"fmt"
	"time"

	"github.com/caldave/caldave/internal/storage"
)

// Update dispatches a PATCH on the row kind: instance, recurring parent,
// or singleton.
func (s *EventService) Update(ctx context.Context, calendarID, eventID string, in UpdateEventInput) (*EventResult, error) {
	cal, err := s.store.GetCalendarByID(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	event, err := s.Get(ctx, calendarID, eventID)
	if err != nil {
		return nil, err
	}

	var result *EventResult
	switch {
	case event.IsInstance():
		result, err = s.updateInstance(ctx, event, in)
	case event.IsParent():
		result, err = s.updateParent(ctx, event, in)
	default:
		result, err = s.updateSingleton(ctx, event, in)
	}
	if err != nil {
		return nil, err
	}

	if s.mailer != nil && len(result.Event.Attendees) > 0 && !result.Event.IsParent() {
		s.mailer.SendRequest(cal, result.Event)
	}

	return result, nil
}

// updateInstance applies the patch and marks the row as an exception in
// the same write, so later propagation and rematerialization skip it.
func (s *EventService) updateInstance(ctx context.Context, event *storage.Event, in UpdateEventInput) (*EventResult, error) {
	if in.Recurrence != nil {
		return nil, badRequest("cannot set recurrence on an instance")
	}
	if in.Status != nil {
		switch *in.Status {
		case storage.StatusConfirmed, storage.StatusTentative, storage.StatusCancelled:
		default:
			return nil, badRequest("invalid status %q", *in.Status)
		}
	}

	if err := applyFieldPatch(event, in); err != nil {
		return nil, err
	}
	if err := applyTimePatch(event, in); err != nil {
		return nil, err
	}
	event.IsException = true

	if err := s.store.UpdateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("update instance %s: %w", event.ID, err)
	}
	return &EventResult{Event: event}, nil
}

// updateParent patches the template row. Rule or timing changes trigger a
// rematerialization; otherwise the template fields are propagated to all
// non-exception instances. Metadata and all_day are never propagated.
func (s *EventService) updateParent(ctx context.Context, parent *storage.Event, in UpdateEventInput) (*EventResult, error) {
	if in.Status != nil {
		return nil, badRequest("cannot change status of a recurring parent")
	}

	rematerializeNeeded := in.Recurrence != nil || in.Start != nil || in.End != nil || in.AllDay != nil

	if err := applyFieldPatch(parent, in); err != nil {
		return nil, err
	}
	if err := applyTimePatch(parent, in); err != nil {
		return nil, err
	}
	if in.Recurrence != nil {
		if *in.Recurrence == "" {
			return nil, badRequest("recurrence must not be empty on a recurring parent")
		}
		parent.Recurrence = *in.Recurrence
	}
	if rematerializeNeeded {
		if err := s.engine.ValidateRule(parent.Recurrence, parent.StartTime); err != nil {
			return nil, badRequest("%v", err)
		}
		created, err := s.engine.Rematerialize(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("rematerialize %s: %w", parent.ID, err)
		}
		return &EventResult{Event: parent, InstancesCreated: created}, nil
	}

	err := s.store.InTx(ctx, func(st storage.Store) error {
		if err := st.UpdateEvent(ctx, parent); err != nil {
			return err
		}
		instances, err := st.ListInstances(ctx, parent.ID)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			if inst.IsException {
				continue
			}
			if in.Title != nil {
				inst.Title = *in.Title
			}
			if in.Description != nil {
				inst.Description = *in.Description
			}
			if in.Location != nil {
				inst.Location = *in.Location
			}
			if in.Attendees != nil {
				inst.Attendees = *in.Attendees
			}
			if err := st.UpdateEvent(ctx, inst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("propagate template of %s: %w", parent.ID, err)
	}
	return &EventResult{Event: parent}, nil
}

func (s *EventService) updateSingleton(ctx context.Context, event *storage.Event, in UpdateEventInput) (*EventResult, error) {
	if in.Recurrence != nil {
		return nil, badRequest("cannot add recurrence to an existing event")
	}
	if in.Status != nil {
		switch *in.Status {
		case storage.StatusConfirmed, storage.StatusTentative, storage.StatusCancelled:
		default:
			return nil, badRequest("invalid status %q", *in.Status)
		}
	}

	if err := applyFieldPatch(event, in); err != nil {
		return nil, err
	}
	if err := applyTimePatch(event, in); err != nil {
		return nil, err
	}

	if err := s.store.UpdateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("update event %s: %w", event.ID, err)
	}
	return &EventResult{Event: event}, nil
}

// applyFieldPatch applies the non-structural fields common to all three
// cases, enforcing the create-time size caps.
func applyFieldPatch(event *storage.Event, in UpdateEventInput) error {
	title := event.Title
	if in.Title != nil {
		title = *in.Title
	}
	description := event.Description
	if in.Description != nil {
		description = *in.Description
	}
	location := event.Location
	if in.Location != nil {
		location = *in.Location
	}
	metadata := event.Metadata
	if in.Metadata != nil {
		metadata = in.Metadata
		if event.IsParent() {
			metadata = withReservedMetadata(event.Metadata, in.Metadata)
		}
	}
	if err := validateSizes(title, description, location, metadata); err != nil {
		return err
	}
	if in.Attendees != nil {
		if err := validateAttendees(*in.Attendees); err != nil {
			return err
		}
		event.Attendees = *in.Attendees
	}

	event.Title = title
	event.Description = description
	event.Location = location
	event.Metadata = metadata
	if in.Status != nil && !event.IsParent() {
		event.Status = *in.Status
	}
	return nil
}

// withReservedMetadata lets a metadata patch replace the user-visible
// keys while the parent's bookkeeping keys survive.
func withReservedMetadata(old, patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch)+2)
	for k, v := range patch {
		out[k] = v
	}
	for _, key := range []string{storage.MetadataHorizonKey, storage.MetadataRespondedKey} {
		if v, ok := old[key]; ok {
			out[key] = v
		}
	}
	return out
}

// applyTimePatch recomputes start/end when any of start, end or all_day
// is supplied. Switching the all-day flag requires both bounds so the
// date-vs-instant wire form is unambiguous.
func applyTimePatch(event *storage.Event, in UpdateEventInput) error {
	if in.Start == nil && in.End == nil && in.AllDay == nil {
		return nil
	}

	allDay := event.AllDay
	if in.AllDay != nil {
		allDay = *in.AllDay
	}
	if in.AllDay != nil && allDay != event.AllDay && (in.Start == nil || in.End == nil) {
		return badRequest("changing all_day requires start and end")
	}

	start := wireStart(event, allDay)
	if in.Start != nil {
		start = *in.Start
	}
	end := wireEnd(event, allDay)
	if in.End != nil {
		end = *in.End
	}

	startTime, endTime, err := normalizeTimes(start, end, allDay)
	if err != nil {
		return err
	}
	event.AllDay = allDay
	event.StartTime = startTime
	event.EndTime = endTime
	return nil
}

func wireStart(event *storage.Event, allDay bool) string {
	if allDay {
		return event.StartTime.UTC().Format(dateLayout)
	}
	return event.StartTime.UTC().Format(time.RFC3339)
}

func wireEnd(event *storage.Event, allDay bool) string {
	if allDay {
		// Stored end is exclusive; the wire form is the inclusive date.
		return event.EndTime.UTC().AddDate(0, 0, -1).Format(dateLayout)
	}
	return event.EndTime.UTC().Format(time.RFC3339)
}
