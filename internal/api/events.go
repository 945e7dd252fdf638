package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caldave/caldave/internal/service"
	"github.com/caldave/caldave/internal/storage"
)

const (
	timeLayout = time.RFC3339
	dateLayout = "2006-01-02"
)

type eventPayload struct {
	ID             string         `json:"id"`
	CalendarID     string         `json:"calendar_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Location       string         `json:"location,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Start          string         `json:"start"`
	End            string         `json:"end"`
	AllDay         bool           `json:"all_day"`
	Status         string         `json:"status"`
	Source         string         `json:"source"`
	Attendees      []string       `json:"attendees,omitempty"`
	OrganizerEmail string         `json:"organizer_email,omitempty"`
	Recurrence     string         `json:"recurrence,omitempty"`
	ParentEventID  string         `json:"parent_event_id,omitempty"`
	OccurrenceDate string         `json:"occurrence_date,omitempty"`
	IsException    bool           `json:"is_exception,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// eventJSON renders the wire form: all-day events carry inclusive
// calendar dates, timed events RFC 3339 instants.
func eventJSON(e *storage.Event) eventPayload {
	p := eventPayload{
		ID:             e.ID,
		CalendarID:     e.CalendarID,
		Title:          e.Title,
		Description:    e.Description,
		Location:       e.Location,
		Metadata:       e.Metadata,
		AllDay:         e.AllDay,
		Status:         e.Status,
		Source:         e.Source,
		Attendees:      e.Attendees,
		OrganizerEmail: e.OrganizerEmail,
		Recurrence:     e.Recurrence,
		ParentEventID:  e.ParentEventID,
		OccurrenceDate: e.OccurrenceDate,
		IsException:    e.IsException,
		CreatedAt:      e.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:      e.UpdatedAt.UTC().Format(timeLayout),
	}
	if e.AllDay {
		p.Start = e.StartTime.UTC().Format(dateLayout)
		p.End = e.EndTime.UTC().AddDate(0, 0, -1).Format(dateLayout)
	} else {
		p.Start = e.StartTime.UTC().Format(timeLayout)
		p.End = e.EndTime.UTC().Format(timeLayout)
	}
	return p
}

func eventListJSON(events []*storage.Event) []eventPayload {
	out := make([]eventPayload, 0, len(events))
	for _, e := range events {
		out = append(out, eventJSON(e))
	}
	return out
}

func (h *Handlers) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in service.CreateEventInput
	if !decodeBody(w, r, &in) {
		return
	}

	res, err := h.events.Create(r.Context(), chi.URLParam(r, "calendarID"), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"event":             eventJSON(res.Event),
		"instances_created": res.InstancesCreated,
	})
}

func (h *Handlers) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.Get(r.Context(), chi.URLParam(r, "calendarID"), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventJSON(event))
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := service.ListOptions{
		Status: q.Get("status"),
		Limit:  intParam(q.Get("limit")),
		Offset: intParam(q.Get("offset")),
	}
	if v := q.Get("start_from"); v != "" {
		t, err := time.Parse(timeLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_from must be RFC 3339")
			return
		}
		opts.StartFrom = &t
	}
	if v := q.Get("start_to"); v != "" {
		t, err := time.Parse(timeLayout, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_to must be RFC 3339")
			return
		}
		opts.StartTo = &t
	}

	events, err := h.events.List(r.Context(), chi.URLParam(r, "calendarID"), opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": eventListJSON(events)})
}

func (h *Handlers) HandleUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	res, err := h.events.Upcoming(r.Context(), chi.URLParam(r, "calendarID"), intParam(r.URL.Query().Get("limit")))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	body := map[string]any{"events": eventListJSON(res.Events)}
	if res.NextEventStartsIn != "" {
		body["next_event_starts_in"] = res.NextEventStartsIn
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) HandleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateEventInput
	if !decodeBody(w, r, &in) {
		return
	}

	res, err := h.events.Update(r.Context(), chi.URLParam(r, "calendarID"), chi.URLParam(r, "eventID"), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event":             eventJSON(res.Event),
		"instances_created": res.InstancesCreated,
	})
}

func (h *Handlers) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	err := h.events.Delete(r.Context(), chi.URLParam(r, "calendarID"), chi.URLParam(r, "eventID"), mode)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handlers) HandleRespond(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Response string `json:"response"`
	}
	if !decodeBody(w, r, &in) {
		return
	}

	event, err := h.events.Respond(r.Context(), chi.URLParam(r, "calendarID"), chi.URLParam(r, "eventID"), in.Response)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventJSON(event))
}

func intParam(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
