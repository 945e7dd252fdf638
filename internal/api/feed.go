package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/caldave/caldave/internal/feed"
)

// HandleFeed serves GET /feeds/{calendarID}.ics?token=...
func (h *Handlers) HandleFeed(w http.ResponseWriter, r *http.Request) {
	calendarID := strings.TrimSuffix(chi.URLParam(r, "calendarFile"), ".ics")
	token := r.URL.Query().Get("token")

	body, err := h.feeds.Render(r.Context(), calendarID, token)
	if err != nil {
		if errors.Is(err, feed.ErrBadToken) {
			writeError(w, http.StatusUnauthorized, "invalid feed token")
			return
		}
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
