// Package feed renders a calendar as a read-only iCalendar document,
// authenticated by the calendar's feed token.
package feed

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/caldave/caldave/internal/storage"
	"github.com/caldave/caldave/pkg/ical"
)

// ErrBadToken means the presented feed token does not match.
var ErrBadToken = errors.New("feed token mismatch")

type Service struct {
	store  storage.Store
	prodID string
}

func NewService(store storage.Store, prodID string) *Service {
	return &Service{store: store, prodID: prodID}
}

// Render returns the calendar's feed: every non-cancelled event ordered
// by start time, recurring template rows excluded.
func (s *Service) Render(ctx context.Context, calendarID, token string) ([]byte, error) {
	cal, err := s.store.GetCalendarByID(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(cal.FeedToken), []byte(token)) != 1 {
		return nil, ErrBadToken
	}

	events, err := s.store.ListEvents(ctx, calendarID, storage.EventFilter{
		ExcludeStatuses: []string{storage.StatusCancelled},
	})
	if err != nil {
		return nil, fmt.Errorf("list feed events: %w", err)
	}

	invites := make([]*ical.Invite, 0, len(events))
	now := time.Now().UTC()
	for _, e := range events {
		uid := e.ICalUID
		if uid == "" {
			uid = e.ID
		}
		invites = append(invites, &ical.Invite{
			UID:         uid,
			Title:       e.Title,
			Description: e.Description,
			Location:    e.Location,
			Start:       e.StartTime,
			End:         e.EndTime,
			AllDay:      e.AllDay,
			Attendees:   e.Attendees,
			DTStamp:     now,
		})
	}

	return ical.BuildFeed(s.prodID, invites)
}
