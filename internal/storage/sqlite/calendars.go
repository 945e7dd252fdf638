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

const calendarColumns = `
    id, display_name, timezone, primary_email, feed_token, inbound_token,
    COALESCE(inbound_api_key, ''), COALESCE(smtp_config, ''), created_at, updated_at`

func (s *Store) CreateCalendar(ctx context.Context, c *storage.Calendar) error {
	if c.ID == "" {
		return fmt.Errorf("calendar id required")
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	var smtpJSON any
	if c.SMTP != nil {
		b, err := json.Marshal(c.SMTP)
		if err != nil {
			return fmt.Errorf("encode smtp config: %w", err)
		}
		smtpJSON = string(b)
	}

	_, err := s.q.ExecContext(ctx, `
        INSERT INTO calendars (
            id, display_name, timezone, primary_email, feed_token, inbound_token,
            inbound_api_key, smtp_config, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, c.ID, c.DisplayName, c.Timezone, c.PrimaryEmail, c.FeedToken, c.InboundToken,
		nullStr(c.InboundAPIKey), smtpJSON, now, now)
	return err
}

func (s *Store) GetCalendarByID(ctx context.Context, id string) (*storage.Calendar, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id)
	return scanCalendar(row)
}

func (s *Store) FindCalendarByEmailLocalPart(ctx context.Context, localPart string) (*storage.Calendar, error) {
	row := s.q.QueryRowContext(ctx, `
        SELECT `+calendarColumns+`
        FROM calendars
        WHERE lower(substr(primary_email, 1, instr(primary_email, '@') - 1)) = lower(?)
    `, localPart)
	return scanCalendar(row)
}

func (s *Store) FindCalendarByInboundToken(ctx context.Context, token string) (*storage.Calendar, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE inbound_token = ?`, token)
	return scanCalendar(row)
}

func scanCalendar(row *sql.Row) (*storage.Calendar, error) {
	var c storage.Calendar
	var smtpJSON string
	err := row.Scan(&c.ID, &c.DisplayName, &c.Timezone, &c.PrimaryEmail, &c.FeedToken,
		&c.InboundToken, &c.InboundAPIKey, &smtpJSON, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if smtpJSON != "" {
		var smtp storage.SMTPConfig
		if err := json.Unmarshal([]byte(smtpJSON), &smtp); err == nil {
			c.SMTP = &smtp
		}
	}
	return &c, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
