package service

import (
	"context"
	"fmt"
	"time"

	"github.com/caldave/caldave/internal/storage"
)

// Invite responses.
const (
	ResponseAccepted  = "accepted"
	ResponseDeclined  = "declined"
	ResponseTentative = "tentative"
)

func statusForResponse(response string) (string, error) {
	switch response {
	case ResponseAccepted:
		return storage.StatusConfirmed, nil
	case ResponseDeclined:
		return storage.StatusCancelled, nil
	case ResponseTentative:
		return storage.StatusTentative, nil
	default:
		return "", badRequest("invalid response %q", response)
	}
}

// Respond records the agent's answer to an invite. On a recurring parent
// the response is stamped into the template and applied to every
// non-exception instance; singletons and individual instances just take
// the mapped status. A REPLY goes out when an organizer is known.
func (s *EventService) Respond(ctx context.Context, calendarID, eventID, response string) (*storage.Event, error) {
	status, err := statusForResponse(response)
	if err != nil {
		return nil, err
	}

	cal, err := s.store.GetCalendarByID(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	event, err := s.Get(ctx, calendarID, eventID)
	if err != nil {
		return nil, err
	}

	if event.IsParent() {
		if event.Metadata == nil {
			event.Metadata = map[string]any{}
		}
		event.Metadata[storage.MetadataRespondedKey] = time.Now().UTC().Format(time.RFC3339)
		err = s.store.InTx(ctx, func(st storage.Store) error {
			if err := st.UpdateEvent(ctx, event); err != nil {
				return err
			}
			instances, err := st.ListInstances(ctx, event.ID)
			if err != nil {
				return err
			}
			for _, inst := range instances {
				if inst.IsException {
					continue
				}
				inst.Status = status
				if err := st.UpdateEvent(ctx, inst); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("respond to series %s: %w", event.ID, err)
		}
	} else {
		event.Status = status
		if err := s.store.UpdateEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("respond to event %s: %w", event.ID, err)
		}
	}

	if s.mailer != nil && event.OrganizerEmail != "" {
		s.mailer.SendReply(cal, event, response)
	}

	return event, nil
}
