package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/caldave/caldave/internal/ids"
	"github.com/caldave/caldave/internal/storage"
)

type createCalendarInput struct {
	DisplayName   string              `json:"display_name"`
	Timezone      string              `json:"timezone"`
	PrimaryEmail  string              `json:"primary_email"`
	InboundAPIKey string              `json:"inbound_api_key"`
	SMTP          *storage.SMTPConfig `json:"smtp"`
}

type calendarPayload struct {
	ID           string              `json:"id"`
	DisplayName  string              `json:"display_name"`
	Timezone     string              `json:"timezone"`
	PrimaryEmail string              `json:"primary_email"`
	FeedToken    string              `json:"feed_token"`
	InboundToken string              `json:"inbound_token"`
	SMTP         *storage.SMTPConfig `json:"smtp,omitempty"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at"`
}

func calendarJSON(c *storage.Calendar) calendarPayload {
	return calendarPayload{
		ID:           c.ID,
		DisplayName:  c.DisplayName,
		Timezone:     c.Timezone,
		PrimaryEmail: c.PrimaryEmail,
		FeedToken:    c.FeedToken,
		InboundToken: c.InboundToken,
		SMTP:         c.SMTP,
		CreatedAt:    c.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:    c.UpdatedAt.UTC().Format(timeLayout),
	}
}

func (h *Handlers) HandleCreateCalendar(w http.ResponseWriter, r *http.Request) {
	var in createCalendarInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(in.PrimaryEmail))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "primary_email must be an address")
		return
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}

	cal := &storage.Calendar{
		ID:            ids.NewCalendarID(),
		DisplayName:   in.DisplayName,
		Timezone:      tz,
		PrimaryEmail:  email,
		FeedToken:     ids.NewFeedToken(),
		InboundToken:  ids.NewInboundToken(),
		InboundAPIKey: in.InboundAPIKey,
		SMTP:          in.SMTP,
	}
	if err := h.store.CreateCalendar(r.Context(), cal); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, calendarJSON(cal))
}

func (h *Handlers) HandleGetCalendar(w http.ResponseWriter, r *http.Request) {
	cal, err := h.store.GetCalendarByID(r.Context(), chi.URLParam(r, "calendarID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calendarJSON(cal))
}
