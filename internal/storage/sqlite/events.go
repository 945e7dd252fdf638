package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func eventArgs(e *storage.Event) ([]any, error) {
	var metadata, attendees any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(b)
	}
	if len(e.Attendees) > 0 {
		b, err := json.Marshal(e.Attendees)
		if err != nil {
			return nil, fmt.Errorf("encode attendees: %w", err)
		}
		attendees = string(b)
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
	_, err = s.q.ExecContext(ctx, insertEventSQL, args...)
	return err
}

func (s *Store) InsertInstances(ctx context.Context, events []*storage.Event) (int, error) {
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
		// Instances carry no ical_uid, so a bare DO NOTHING only ever
		// absorbs (parent_event_id, occurrence_date) collisions here.
		res, err := s.q.ExecContext(ctx, insertEventSQL+` ON CONFLICT DO NOTHING`, args...)
		if err != nil {
			return created, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return created, err
		}
		created += int(n)
	}
	return created, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*storage.Event, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEventRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return e, err
}

func (s *Store) FindEventByUID(ctx context.Context, calendarID, icalUID string) (*storage.Event, error) {
	row := s.q.QueryRowContext(ctx, `
        SELECT `+eventColumns+` FROM events
        WHERE calendar_id = ? AND ical_uid = ?
    `, calendarID, icalUID)
	e, err := scanEventRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *Store) ListEvents(ctx context.Context, calendarID string, f storage.EventFilter) ([]*storage.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE calendar_id = ? AND status <> 'recurring'`
	args := []any{calendarID}

	if f.StartFrom != nil {
		query += " AND start_time >= ?"
		args = append(args, f.StartFrom.UTC())
	}
	if f.StartTo != nil {
		query += " AND start_time <= ?"
		args = append(args, f.StartTo.UTC())
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	for _, st := range f.ExcludeStatuses {
		query += " AND status <> ?"
		args = append(args, st)
	}

	query += " ORDER BY start_time ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventRows(rows)
}

func (s *Store) ListInstances(ctx context.Context, parentID string) ([]*storage.Event, error) {
	rows, err := s.q.QueryContext(ctx, `
        SELECT `+eventColumns+` FROM events
        WHERE parent_event_id = ?
        ORDER BY occurrence_date ASC
    `, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventRows(rows)
}

func (s *Store) ListRecurringParents(ctx context.Context) ([]*storage.Event, error) {
	rows, err := s.q.QueryContext(ctx, `
        SELECT ` + eventColumns + ` FROM events
        WHERE recurrence IS NOT NULL AND parent_event_id IS NULL
        ORDER BY created_at ASC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventRows(rows)
}

func (s *Store) UpdateEvent(ctx context.Context, e *storage.Event) error {
	e.UpdatedAt = time.Now().UTC()
	var metadata, attendees any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(b)
	}
	if len(e.Attendees) > 0 {
		b, err := json.Marshal(e.Attendees)
		if err != nil {
			return fmt.Errorf("encode attendees: %w", err)
		}
		attendees = string(b)
	}
	res, err := s.q.ExecContext(ctx, `
        UPDATE events SET
            title = ?, description = ?, metadata = ?, location = ?,
            all_day = ?, start_time = ?, end_time = ?, status = ?,
            recurrence = ?, attendees = ?, organizer_email = ?,
            ical_uid = ?, ical_sequence = ?, is_exception = ?, updated_at = ?
        WHERE id = ?
    `, e.Title, nullStr(e.Description), metadata, nullStr(e.Location),
		e.AllDay, e.StartTime.UTC(), e.EndTime.UTC(), e.Status,
		nullStr(e.Recurrence), attendees, nullStr(e.OrganizerEmail),
		nullStr(e.ICalUID), e.ICalSequence, e.IsException, e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SetEventInviteIdentity(ctx context.Context, id, icalUID string, sequence int) error {
	res, err := s.q.ExecContext(ctx, `
        UPDATE events SET ical_uid = ?, ical_sequence = ?, updated_at = ?
        WHERE id = ?
    `, nullStr(icalUID), sequence, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteNonExceptionInstances(ctx context.Context, parentID string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
        DELETE FROM events WHERE parent_event_id = ? AND NOT is_exception
    `, parentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) DeleteInstancesAfter(ctx context.Context, parentID, occurrenceDate string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
        DELETE FROM events
        WHERE parent_event_id = ? AND NOT is_exception AND occurrence_date > ?
    `, parentID, occurrenceDate)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) CancelExceptionInstancesAfter(ctx context.Context, parentID, occurrenceDate string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
        UPDATE events SET status = 'cancelled', updated_at = ?
        WHERE parent_event_id = ? AND is_exception AND occurrence_date > ?
    `, time.Now().UTC(), parentID, occurrenceDate)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventRow(row rowScanner) (*storage.Event, error) {
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
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", e.ID, err)
		}
	}
	if attendees != "" {
		if err := json.Unmarshal([]byte(attendees), &e.Attendees); err != nil {
			return nil, fmt.Errorf("decode attendees for %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func scanEventRows(rows *sql.Rows) ([]*storage.Event, error) {
	var out []*storage.Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
