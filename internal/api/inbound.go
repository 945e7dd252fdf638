package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caldave/caldave/internal/ingest"
	"github.com/caldave/caldave/internal/storage"
)

// Inbound webhooks always answer 200: a non-2xx reply would make the
// mail provider retry a payload we will never handle differently.

// HandleInboundDomain receives mail for the whole domain; the calendar
// is picked by the local part of the To address.
func (h *Handlers) HandleInboundDomain(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r)
	if !ok {
		return
	}

	local := payload.ToLocalPart()
	if local == "" {
		writeJSON(w, http.StatusOK, ingest.Result{Status: ingest.StatusIgnored, Reason: "missing recipient"})
		return
	}
	cal, err := h.store.FindCalendarByEmailLocalPart(r.Context(), local)
	if err != nil {
		h.inboundLookupMiss(w, err, "no calendar for recipient")
		return
	}
	writeJSON(w, http.StatusOK, h.processor.ProcessPayload(r.Context(), cal, payload))
}

// HandleInboundToken receives mail routed by per-calendar token.
func (h *Handlers) HandleInboundToken(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readPayload(w, r)
	if !ok {
		return
	}

	cal, err := h.store.FindCalendarByInboundToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.inboundLookupMiss(w, err, "unknown inbound token")
		return
	}
	writeJSON(w, http.StatusOK, h.processor.ProcessPayload(r.Context(), cal, payload))
}

func (h *Handlers) readPayload(w http.ResponseWriter, r *http.Request) (*ingest.Payload, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusOK, ingest.Result{Status: ingest.StatusIgnored, Reason: "unreadable body"})
		return nil, false
	}
	payload, err := ingest.ParsePayload(body)
	if err != nil {
		writeJSON(w, http.StatusOK, ingest.Result{Status: ingest.StatusIgnored, Reason: "unparseable payload"})
		return nil, false
	}
	return payload, true
}

func (h *Handlers) inboundLookupMiss(w http.ResponseWriter, err error, reason string) {
	if !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error().Err(err).Msg("inbound calendar lookup failed")
		reason = "internal error"
	}
	writeJSON(w, http.StatusOK, ingest.Result{Status: ingest.StatusIgnored, Reason: reason})
}
