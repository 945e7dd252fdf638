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

	smtpJSON, err := encodeSMTP(c.SMTP)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
        INSERT INTO calendars (
            id, display_name, timezone, primary_email, feed_token, inbound_token,
            inbound_api_key, smtp_config, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
    `, c.ID, c.DisplayName, c.Timezone, c.PrimaryEmail, c.FeedToken, c.InboundToken,
		nullStr(c.InboundAPIKey), smtpJSON, now)
	return err
}

func (s *Store) GetCalendarByID(ctx context.Context, id string) (*storage.Calendar, error) {
	row := s.db.QueryRow(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE id = $1`, id)
	return scanCalendar(row)
}

func (s *Store) FindCalendarByEmailLocalPart(ctx context.Context, localPart string) (*storage.Calendar, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+calendarColumns+`
        FROM calendars
        WHERE lower(split_part(primary_email, '@', 1)) = lower($1)
    `, localPart)
	return scanCalendar(row)
}

func (s *Store) FindCalendarByInboundToken(ctx context.Context, token string) (*storage.Calendar, error) {
	row := s.db.QueryRow(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE inbound_token = $1`, token)
	return scanCalendar(row)
}

func scanCalendar(row pgx.Row) (*storage.Calendar, error) {
	var c storage.Calendar
	var smtpJSON string
	err := row.Scan(&c.ID, &c.DisplayName, &c.Timezone, &c.PrimaryEmail, &c.FeedToken,
		&c.InboundToken, &c.InboundAPIKey, &smtpJSON, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
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

func encodeSMTP(smtp *storage.SMTPConfig) (any, error) {
	if smtp == nil {
		return nil, nil
	}
	b, err := json.Marshal(smtp)
	if err != nil {
		return nil, fmt.Errorf("encode smtp config: %w", err)
	}
	return string(b), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
