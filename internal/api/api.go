// Package api implements the JSON HTTP surface: calendar and event
// CRUD, invite responses, inbound mail webhooks and the iCal feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/feed"
	"github.com/caldave/caldave/internal/ingest"
	"github.com/caldave/caldave/internal/service"
	"github.com/caldave/caldave/internal/storage"
)

type Handlers struct {
	store           storage.Store
	events          *service.EventService
	processor       *ingest.Processor
	feeds           *feed.Service
	maxWebhookBytes int64
	logger          zerolog.Logger
}

func NewHandlers(store storage.Store, events *service.EventService, processor *ingest.Processor, feeds *feed.Service, maxWebhookBytes int64, logger zerolog.Logger) *Handlers {
	if maxWebhookBytes <= 0 {
		maxWebhookBytes = 10 << 20
	}
	return &Handlers{
		store:           store,
		events:          events,
		processor:       processor,
		feeds:           feeds,
		maxWebhookBytes: maxWebhookBytes,
		logger:          logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service and storage errors onto HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case service.IsBadRequest(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
