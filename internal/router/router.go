// Package router wires the HTTP routes and the request log middleware.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/api"
)

func New(h *api.Handlers, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.HandleHealth)

	r.Route("/calendars", func(r chi.Router) {
		r.Post("/", h.HandleCreateCalendar)
		r.Route("/{calendarID}", func(r chi.Router) {
			r.Get("/", h.HandleGetCalendar)
			r.Route("/events", func(r chi.Router) {
				r.Post("/", h.HandleCreateEvent)
				r.Get("/", h.HandleListEvents)
				r.Get("/upcoming", h.HandleUpcomingEvents)
				r.Route("/{eventID}", func(r chi.Router) {
					r.Get("/", h.HandleGetEvent)
					r.Patch("/", h.HandleUpdateEvent)
					r.Delete("/", h.HandleDeleteEvent)
					r.Post("/respond", h.HandleRespond)
				})
			})
		})
	})

	r.Post("/inbound", h.HandleInboundDomain)
	r.Post("/inbound/{token}", h.HandleInboundToken)

	r.Get("/feeds/{calendarFile}", h.HandleFeed)

	return r
}
