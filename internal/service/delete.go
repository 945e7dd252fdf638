package service

import (
	"context"
	"fmt"

	"github.com/caldave/caldave/internal/recurrence"
	"github.com/caldave/caldave/internal/storage"
)

// Deletion modes.
const (
	DeleteModeSingle = "single"
	DeleteModeFuture = "future"
	DeleteModeAll    = "all"
)

// Delete removes or cancels an event. Singletons are hard-deleted under
// any mode. Instances honor the mode: single cancels the one row as an
// exception, future truncates the series from the occurrence onward, all
// removes the whole series. A parent only accepts mode=all.
func (s *EventService) Delete(ctx context.Context, calendarID, eventID, mode string) error {
	switch mode {
	case "":
		mode = DeleteModeSingle
	case DeleteModeSingle, DeleteModeFuture, DeleteModeAll:
	default:
		return badRequest("invalid delete mode %q", mode)
	}

	event, err := s.Get(ctx, calendarID, eventID)
	if err != nil {
		return err
	}

	switch {
	case event.IsParent():
		if mode != DeleteModeAll {
			return badRequest("recurring parent can only be deleted with mode=all")
		}
		return s.deleteSeries(ctx, event.ID)
	case event.IsInstance():
		switch mode {
		case DeleteModeSingle:
			return s.cancelInstance(ctx, event)
		case DeleteModeFuture:
			return s.deleteFuture(ctx, event)
		default:
			return s.deleteSeries(ctx, event.ParentEventID)
		}
	default:
		return s.store.DeleteEvent(ctx, event.ID)
	}
}

// cancelInstance soft-deletes a single occurrence. The exception flag
// keeps the cancellation alive across rematerializations.
func (s *EventService) cancelInstance(ctx context.Context, event *storage.Event) error {
	event.Status = storage.StatusCancelled
	event.IsException = true
	return s.store.UpdateEvent(ctx, event)
}

// deleteFuture ends the series at the day before this occurrence. Later
// non-exception instances are removed, later exceptions are cancelled in
// place, and the parent's rule gets an UNTIL so extensions never bring
// the tail back.
func (s *EventService) deleteFuture(ctx context.Context, event *storage.Event) error {
	parent, err := s.store.GetEvent(ctx, event.ParentEventID)
	if err != nil {
		return fmt.Errorf("load parent %s: %w", event.ParentEventID, err)
	}

	amended, err := recurrence.AmendRuleUntil(parent.Recurrence, event.OccurrenceDate)
	if err != nil {
		return badRequest("%v", err)
	}

	return s.store.InTx(ctx, func(st storage.Store) error {
		event.Status = storage.StatusCancelled
		event.IsException = true
		if err := st.UpdateEvent(ctx, event); err != nil {
			return err
		}
		if _, err := st.DeleteInstancesAfter(ctx, parent.ID, event.OccurrenceDate); err != nil {
			return err
		}
		if _, err := st.CancelExceptionInstancesAfter(ctx, parent.ID, event.OccurrenceDate); err != nil {
			return err
		}
		parent.Recurrence = amended
		return st.UpdateEvent(ctx, parent)
	})
}

// deleteSeries removes the parent; the schema cascades the instances.
func (s *EventService) deleteSeries(ctx context.Context, parentID string) error {
	return s.store.DeleteEvent(ctx, parentID)
}
