package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/caldave/caldave/internal/storage"
)

const eventColumns = `
    id, calendar_id, title, COALESCE(description, ''), COALESCE(metadata, ''),
    COALESCE(location, ''), all_day, start_time, end_time, status, source,
    COALESCE(recurrence, ''), COALESCE(attendees, ''), COALESCE(organizer_email, ''),
    COALESCE(ical_uid, ''), ical_sequence, COALESCE(parent_event_id, ''),
    COALESCE(occurrence_date, ''), is_exception, created_at, updated_at`

const insertEventSQL = `
    INSERT INTO events (
        id, calendar_id, title, description, metadata, location, all_day,
        start_time, end_time, status, source, recurrence, attendees,
        organizer_email, ical_uid, ical_sequence, parent_event_id,
        occurrence_date, is_exception, created_at, updated_at
    ) VALUES (
        $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
        $16, $17, $18, $19, $20, $21
    )`

func eventArgs(e *storage.Event) ([]any, error) {
	metadata, err := encodeJSONMap(e.Metadata)
	if err != nil {
		return nil, err
	}
	attendees, err := encodeAttendees(e.Attendees)
	if err != nil {
		return nil, err
	}
	return []any{
		e.ID, e.CalendarID, e.Title, nullStr(e.Description), metadata,
		nullStr(e.Location), e.AllDay, e.StartTime.UTC(), e.EndTime.UTC(),
		e.Status, e.Source, nullStr(e.Recurrence), attendees,
		nullStr(e.OrganizerEmail), nullStr(e.ICalUID), e.ICalSequence,
		nullStr(e.ParentEventID), nullStr(e.OccurrenceDate), e.IsException,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) InsertEvent(ctx context.Context, e *storage.Event) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	args, err := eventArgs(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, insertEventSQL, args...)
	return err
}

func (s *Store) InsertInstances(ctx context.Context, events []*storage.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	created := 0
	now := time.Now().UTC()
	for _, e := range events {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		args, err := eventArgs(e)
		if err != nil {
			return created, err
		}
		tag, err := s.db.Exec(ctx, insertEventSQL+`
            ON CONFLICT (parent_event_id, occurrence_date) WHERE parent_event_id IS NOT NULL
            DO NOTHING`, args...)
		if err != nil {
			return created, err
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*storage.Event, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return e, err
}

func (s *Store) FindEventByUID(ctx context.Context, calendarID, icalUID string) (*storage.Event, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+eventColumns+` FROM events
        WHERE calendar_id = $1 AND ical_uid = $2
    `, calendarID, icalUID)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *Store) ListEvents(ctx context.Context, calendarID string, f storage.EventFilter) ([]*storage.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE calendar_id = $1 AND status <> 'recurring'`
	args := []any{calendarID}

	if f.StartFrom != nil {
		args = append(args, f.StartFrom.UTC())
		query += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if f.StartTo != nil {
		args = append(args, f.StartTo.UTC())
		query += fmt.Sprintf(" AND start_time <= $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	for _, st := range f.ExcludeStatuses {
		args = append(args, st)
		query += fmt.Sprintf(" AND status <> $%d", len(args))
	}

	query += " ORDER BY start_time ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListInstances(ctx context.Context, parentID string) ([]*storage.Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+eventColumns+` FROM events
        WHERE parent_event_id = $1
        ORDER BY occurrence_date ASC
    `, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecurringParents(ctx context.Context) ([]*storage.Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT ` + eventColumns + ` FROM events
        WHERE recurrence IS NOT NULL AND parent_event_id IS NULL
        ORDER BY created_at ASC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) UpdateEvent(ctx context.Context, e *storage.Event) error {
	e.UpdatedAt = time.Now().UTC()
	metadata, err := encodeJSONMap(e.Metadata)
	if err != nil {
		return err
	}
	attendees, err := encodeAttendees(e.Attendees)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE events SET
            title = $2, description = $3, metadata = $4, location = $5,
            all_day = $6, start_time = $7, end_time = $8, status = $9,
            recurrence = $10, attendees = $11, organizer_email = $12,
            ical_uid = $13, ical_sequence = $14, is_exception = $15,
            updated_at = $16
        WHERE id = $1
    `, e.ID, e.Title, nullStr(e.Description), metadata, nullStr(e.Location),
		e.AllDay, e.StartTime.UTC(), e.EndTime.UTC(), e.Status,
		nullStr(e.Recurrence), attendees, nullStr(e.OrganizerEmail),
		nullStr(e.ICalUID), e.ICalSequence, e.IsException, e.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SetEventInviteIdentity(ctx context.Context, id, icalUID string, sequence int) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE events SET ical_uid = $2, ical_sequence = $3, updated_at = now()
        WHERE id = $1
    `, id, nullStr(icalUID), sequence)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteNonExceptionInstances(ctx context.Context, parentID string) (int, error) {
	tag, err := s.db.Exec(ctx, `
        DELETE FROM events WHERE parent_event_id = $1 AND NOT is_exception
    `, parentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteInstancesAfter(ctx context.Context, parentID, occurrenceDate string) (int, error) {
	tag, err := s.db.Exec(ctx, `
        DELETE FROM events
        WHERE parent_event_id = $1 AND NOT is_exception AND occurrence_date > $2
    `, parentID, occurrenceDate)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CancelExceptionInstancesAfter(ctx context.Context, parentID, occurrenceDate string) (int, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE events SET status = 'cancelled', updated_at = now()
        WHERE parent_event_id = $1 AND is_exception AND occurrence_date > $2
    `, parentID, occurrenceDate)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanEvent(row pgx.Row) (*storage.Event, error) {
	var e storage.Event
	var metadata, attendees string
	err := row.Scan(&e.ID, &e.CalendarID, &e.Title, &e.Description, &metadata,
		&e.Location, &e.AllDay, &e.StartTime, &e.EndTime, &e.Status, &e.Source,
		&e.Recurrence, &attendees, &e.OrganizerEmail, &e.ICalUID,
		&e.ICalSequence, &e.ParentEventID, &e.OccurrenceDate, &e.IsException,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeEventJSON(&e, metadata, attendees); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEvents(rows pgx.Rows) ([]*storage.Event, error) {
	var out []*storage.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeEventJSON(e *storage.Event, metadata, attendees string) error {
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return fmt.Errorf("decode metadata for %s: %w", e.ID, err)
		}
	}
	if attendees != "" {
		if err := json.Unmarshal([]byte(attendees), &e.Attendees); err != nil {
			return fmt.Errorf("decode attendees for %s: %w", e.ID, err)
		}
	}
	return nil
}

func encodeJSONMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func encodeAttendees(a []string) (any, error) {
	if len(a) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode attendees: %w", err)
	}
	return string(b), nil
}
