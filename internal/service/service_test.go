package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/ids"
	"github.com/caldave/caldave/internal/recurrence"
	"github.com/caldave/caldave/internal/storage"
	"github.com/caldave/caldave/internal/storage/sqlite"
)

func newTestService(t *testing.T) (*EventService, storage.Store, *storage.Calendar) {
	t.Helper()
	st, err := sqlite.New(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(st.Close)

	cal := &storage.Calendar{
		ID:           ids.NewCalendarID(),
		DisplayName:  "Agent",
		Timezone:     "UTC",
		PrimaryEmail: "agent@caldave.local",
		FeedToken:    ids.NewFeedToken(),
		InboundToken: ids.NewInboundToken(),
	}
	if err := st.CreateCalendar(context.Background(), cal); err != nil {
		t.Fatalf("create calendar: %v", err)
	}

	engine := recurrence.NewEngine(st, recurrence.DefaultConfig(), zerolog.Nop())
	svc := NewEventService(st, engine, nil, zerolog.Nop())
	return svc, st, cal
}

func strptr(s string) *string { return &s }

func TestCreateSingleton(t *testing.T) {
	svc, _, cal := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, cal.ID, CreateEventInput{
		Title: "Dentist",
		Start: "2025-07-01T10:00:00Z",
		End:   "2025-07-01T10:30:00Z",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e := res.Event
	if e.Status != storage.StatusConfirmed {
		t.Errorf("status = %q, want confirmed default", e.Status)
	}
	if e.Source != storage.SourceAPI {
		t.Errorf("source = %q", e.Source)
	}
	if res.InstancesCreated != 0 {
		t.Errorf("instances_created = %d for a singleton", res.InstancesCreated)
	}

	got, err := svc.Get(ctx, cal.ID, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StartTime.Equal(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", got.StartTime)
	}
}

func TestCreateAllDayStoresExclusiveEnd(t *testing.T) {
	svc, _, cal := newTestService(t)

	res, err := svc.Create(context.Background(), cal.ID, CreateEventInput{
		Title:  "Conference",
		Start:  "2025-07-01",
		End:    "2025-07-02",
		AllDay: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e := res.Event
	if !e.StartTime.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", e.StartTime)
	}
	// Inclusive July 2 on the wire is exclusive July 3 in storage.
	if !e.EndTime.Equal(time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v, want exclusive 2025-07-03", e.EndTime)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, cal := newTestService(t)
	ctx := context.Background()

	cases := []CreateEventInput{
		{Title: "", Start: "2025-07-01T10:00:00Z", End: "2025-07-01T11:00:00Z"},
		{Title: "x", Start: "2025-07-01T10:00:00Z", End: "2025-07-01T09:00:00Z"},
		{Title: "x", Start: "not-a-time", End: "2025-07-01T11:00:00Z"},
		{Title: "x", Start: "2025-07-01T10:00:00Z", End: "2025-07-01T11:00:00Z", Status: "recurring"},
		{Title: "x", Start: "2025-07-01T10:00:00Z", End: "2025-07-01T11:00:00Z", Attendees: []string{"a@b.c", "a@b.c"}},
		{Title: "x", Start: "2025-07-01T10:00:00Z", End: "2025-07-01T11:00:00Z", Recurrence: "FREQ=SECONDLY"},
		{Title: strings.Repeat("x", MaxTitleLen+1), Start: "2025-07-01T10:00:00Z", End: "2025-07-01T11:00:00Z"},
	}
	for i, in := range cases {
		if _, err := svc.Create(ctx, cal.ID, in); !IsBadRequest(err) {
			t.Errorf("case %d: err = %v, want bad request", i, err)
		}
	}

	if _, err := svc.Create(ctx, "cal_missing", CreateEventInput{Title: "x", Start: "2025-07-01T10:00:00Z", End: "2025-07-01T11:00:00Z"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown calendar err = %v, want not found", err)
	}
}

func TestCreateRecurringMaterializes(t *testing.T) {
	svc, st, cal := newTestService(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	res, err := svc.Create(ctx, cal.ID, CreateEventInput{
		Title:      "Standup",
		Start:      start.Format(time.RFC3339),
		End:        start.Add(15 * time.Minute).Format(time.RFC3339),
		Recurrence: "FREQ=DAILY;COUNT=10",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	parent := res.Event
	if parent.Status != storage.StatusRecurring {
		t.Errorf("parent status = %q, want recurring sentinel", parent.Status)
	}
	if res.InstancesCreated != 10 {
		t.Errorf("instances_created = %d, want 10", res.InstancesCreated)
	}
	if parent.HorizonTime().IsZero() {
		t.Error("horizon not recorded")
	}

	instances, err := st.ListInstances(ctx, parent.ID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(instances) != 10 {
		t.Fatalf("got %d instances", len(instances))
	}

	// The parent sentinel row never shows up in listings.
	listed, err := svc.List(ctx, cal.ID, ListOptions{Limit: MaxListLimit})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, e := range listed {
		if e.ID == parent.ID {
			t.Fatal("recurring parent leaked into the listing")
		}
	}
	if len(listed) != 10 {
		t.Errorf("listed %d events, want the 10 instances", len(listed))
	}
}

func TestUpdateInstanceBecomesException(t *testing.T) {
	svc, st, cal := newTestService(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	res, err := svc.Create(ctx, cal.ID, CreateEventInput{
		Title:      "Standup",
		Start:      start.Format(time.RFC3339),
		End:        start.Add(15 * time.Minute).Format(time.RFC3339),
		Recurrence: "FREQ=DAILY;COUNT=5",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	instances, _ := st.ListInstances(ctx, res.Event.ID)
	target := instances[1]

	up, err := svc.Update(ctx, cal.ID, target.ID, UpdateEventInput{Title: strptr("Moved standup")})
	if err != nil {
		t.Fatalf("update instance: %v", err)
	}
	if !up.Event.IsException {
		t.Error("patched instance not marked exception")
	}

	// Recurrence cannot be set on an instance.
	if _, err := svc.Update(ctx, cal.ID, target.ID, UpdateEventInput{Recurrence: strptr("FREQ=WEEKLY")}); !IsBadRequest(err) {
		t.Errorf("err = %v, want bad request", err)
	}

	// Template propagation must skip the exception.
	if _, err := svc.Update(ctx, cal.ID, res.Event.ID, UpdateEventInput{Title: strptr("Daily sync")}); err != nil {
		t.Fatalf("update parent: %v", err)
	}
	after, _ := st.ListInstances(ctx, res.Event.ID)
	for _, inst := range after {
		want := "Daily sync"
		if inst.ID == target.ID {
			want = "Moved standup"
		}
		if inst.Title != want {
			t.Errorf("instance %s title = %q, want %q", inst.ID, inst.Title, want)
		}
	}
}

func TestUpdateParentRuleRematerializes(t *testing.T) {
	svc, st, cal := newTestService(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	res, err := svc.Create(ctx, cal.ID, CreateEventInput{
		Title:      "Standup",
		Start:      start.Format(time.RFC3339),
		End:        start.Add(15 * time.Minute).Format(time.RFC3339),
		Recurrence: "FREQ=DAILY;COUNT=10",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	up, err := svc.Update(ctx, cal.ID, res.Event.ID, UpdateEventInput{Recurrence: strptr("FREQ=DAILY;COUNT=3")})
	if err != nil {
		t.Fatalf("update parent rule: %v", err)
	}
	if up.InstancesCreated != 3 {
		t.Errorf("instances_created = %d, want 3", up.InstancesCreated)
	}
	instances, _ := st.ListInstances(ctx, res.Event.ID)
	if len(instances) != 3 {
		t.Errorf("got %d instances after rematerialize, want 3", len(instances))
	}

	// Status is not patchable on the parent sentinel.
	if _, err := svc.Update(ctx, cal.ID, res.Event.ID, UpdateEventInput{Status: strptr("cancelled")}); !IsBadRequest(err) {
		t.Errorf("err = %v, want bad request", err)
	}
}

func TestUpdateParentMetadataKeepsBookkeeping(t *testing.T) {
	svc, _, cal := newTestService(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	res, err := svc.Create(ctx, cal.ID, CreateEventInput{
		Title:      "Standup",
		Start:      start.Format(time.RFC3339),
		End:        start.Add(15 * time.Minute).Format(time.RFC3339),
		Recurrence: "FREQ=DAILY;COUNT=10",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	parent := res.Event

	// Stamp the responded marker alongside the horizon.
	if _, err := svc.Respond(ctx, cal.ID, parent.ID, ResponseAccepted); err != nil {
		t.Fatalf("respond: %v", err)
	}

	// A metadata-only patch does not rematerialize, and must not erase
	// the parent's bookkeeping keys.
	up, err := svc.Update(ctx, cal.ID, parent.ID, UpdateEventInput{
		Metadata: map[string]any{"owner": "agent-7"},
	})
	if err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	if up.InstancesCreated != 0 {
		t.Errorf("instances_created = %d for a metadata patch", up.InstancesCreated)
	}

	got, err := svc.Get(ctx, cal.ID, parent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata["owner"] != "agent-7" {
		t.Errorf("metadata = %v, patch lost", got.Metadata)
	}
	if got.HorizonTime().IsZero() {
		t.Error("horizon erased by metadata patch")
	}
	if _, ok := got.Metadata[storage.MetadataRespondedKey]; !ok {
		t.Error("responded marker erased by metadata patch")
	}
}

func TestDeleteModes(t *testing.T) {
	svc, st, cal := newTestService(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	res, err := svc.Create(ctx, cal.ID, CreateEventInput{
		Title:      "Standup",
		Start:      start.Format(time.RFC3339),
		End:        start.Add(15 * time.Minute).Format(time.RFC3339),
		Recurrence: "FREQ=DAILY;COUNT=10",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	parent := res.Event
	instances, _ := st.ListInstances(ctx, parent.ID)

	// single: the occurrence is cancelled in place as an exception.
	if err := svc.Delete(ctx, cal.ID, instances[0].ID, DeleteModeSingle); err != nil {
		t.Fatalf("delete single: %v", err)
	}
	got, err := st.GetEvent(ctx, instances[0].ID)
	if err != nil {
		t.Fatalf("get cancelled instance: %v", err)
	}
	if got.Status != storage.StatusCancelled || !got.IsException {
		t.Errorf("cancelled instance = (%q, exception=%v)", got.Status, got.IsException)
	}

	// Parent refuses anything but mode=all.
	if err := svc.Delete(ctx, cal.ID, parent.ID, DeleteModeSingle); err == nil {
		t.Error("parent delete with mode=single accepted")
	}

	// future: truncate from the fifth occurrence.
	cut := instances[4]
	if err := svc.Delete(ctx, cal.ID, cut.ID, DeleteModeFuture); err != nil {
		t.Fatalf("delete future: %v", err)
	}
	after, _ := st.ListInstances(ctx, parent.ID)
	for _, inst := range after {
		if inst.OccurrenceDate > cut.OccurrenceDate {
			t.Errorf("instance %s past the cut survived", inst.OccurrenceDate)
		}
	}
	cutRow, _ := st.GetEvent(ctx, cut.ID)
	if cutRow.Status != storage.StatusCancelled {
		t.Errorf("cut occurrence status = %q", cutRow.Status)
	}
	parentRow, _ := st.GetEvent(ctx, parent.ID)
	if !strings.Contains(parentRow.Recurrence, "UNTIL=") || strings.Contains(parentRow.Recurrence, "COUNT=") {
		t.Errorf("rule not amended: %q", parentRow.Recurrence)
	}

	// all: the series disappears, instances cascade.
	if err := svc.Delete(ctx, cal.ID, after[0].ID, DeleteModeAll); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if _, err := st.GetEvent(ctx, parent.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("parent still present: %v", err)
	}
	remaining, _ := st.ListInstances(ctx, parent.ID)
	if len(remaining) != 0 {
		t.Errorf("%d instances survived the cascade", len(remaining))
	}
}

func TestDeleteSingletonAnyMode(t *testing.T) {
	svc, st, cal := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, cal.ID, CreateEventInput{
		Title: "Dentist",
		Start: "2025-07-01T10:00:00Z",
		End:   "2025-07-01T10:30:00Z",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, cal.ID, res.Event.ID, DeleteModeFuture); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetEvent(ctx, res.Event.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("singleton still present: %v", err)
	}
}

func TestRespondSingleton(t *testing.T) {
	svc, st, cal := newTestService(t)
	ctx := context.Background()

	event := &storage.Event{
		ID:             ids.NewEventID(),
		CalendarID:     cal.ID,
		Title:          "Planning sync",
		StartTime:      time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2025, 7, 1, 11, 0, 0, 0, time.UTC),
		Status:         storage.StatusTentative,
		Source:         storage.SourceInboundEmail,
		OrganizerEmail: "alice@example.com",
		ICalUID:        "abc@example.com",
	}
	if err := st.InsertEvent(ctx, event); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := svc.Respond(ctx, cal.ID, event.ID, ResponseAccepted)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got.Status != storage.StatusConfirmed {
		t.Errorf("status = %q, want confirmed", got.Status)
	}

	if _, err := svc.Respond(ctx, cal.ID, event.ID, "maybe"); !IsBadRequest(err) {
		t.Errorf("err = %v, want bad request", err)
	}
}

func TestRespondSeriesFlipsInstances(t *testing.T) {
	svc, st, cal := newTestService(t)
	ctx := context.Background()

	engine := recurrence.NewEngine(st, recurrence.DefaultConfig(), zerolog.Nop())
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	parent := &storage.Event{
		ID:             ids.NewEventID(),
		CalendarID:     cal.ID,
		Title:          "Weekly review",
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		Status:         storage.StatusRecurring,
		Source:         storage.SourceInboundEmail,
		Recurrence:     "FREQ=WEEKLY;COUNT=4",
		OrganizerEmail: "alice@example.com",
		ICalUID:        "series@example.com",
	}
	if err := st.InsertEvent(ctx, parent); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	if _, err := engine.Rematerialize(ctx, parent); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	before, _ := st.ListInstances(ctx, parent.ID)
	for _, inst := range before {
		if inst.Status != storage.StatusTentative {
			t.Fatalf("precondition: instance status = %q", inst.Status)
		}
	}

	if _, err := svc.Respond(ctx, cal.ID, parent.ID, ResponseAccepted); err != nil {
		t.Fatalf("respond: %v", err)
	}

	after, _ := st.ListInstances(ctx, parent.ID)
	for _, inst := range after {
		if inst.Status != storage.StatusConfirmed {
			t.Errorf("instance status = %q, want confirmed", inst.Status)
		}
	}

	parentRow, _ := st.GetEvent(ctx, parent.ID)
	if _, ok := parentRow.Metadata[storage.MetadataRespondedKey]; !ok {
		t.Error("responded marker missing from parent metadata")
	}
}

func TestUpcoming(t *testing.T) {
	svc, _, cal := newTestService(t)
	ctx := context.Background()

	soon := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	later := soon.Add(24 * time.Hour)
	for _, start := range []time.Time{later, soon} {
		if _, err := svc.Create(ctx, cal.ID, CreateEventInput{
			Title: "Meeting",
			Start: start.Format(time.RFC3339),
			End:   start.Add(time.Hour).Format(time.RFC3339),
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// A cancelled event never counts as upcoming.
	if _, err := svc.Create(ctx, cal.ID, CreateEventInput{
		Title:  "Ghost",
		Start:  soon.Add(-time.Hour).Format(time.RFC3339),
		End:    soon.Format(time.RFC3339),
		Status: storage.StatusCancelled,
	}); err != nil {
		t.Fatalf("create cancelled: %v", err)
	}

	res, err := svc.Upcoming(ctx, cal.ID, 10)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("got %d upcoming events, want 2", len(res.Events))
	}
	if !res.Events[0].StartTime.Equal(soon) {
		t.Errorf("first upcoming = %v, want %v", res.Events[0].StartTime, soon)
	}
	if res.NextEventStartsIn == "" || !strings.HasPrefix(res.NextEventStartsIn, "P") {
		t.Errorf("next_event_starts_in = %q", res.NextEventStartsIn)
	}
}

func TestISODuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "PT0S"},
		{-time.Minute, "PT0S"},
		{90 * time.Second, "PT1M30S"},
		{26*time.Hour + 5*time.Minute, "P1DT2H5M"},
		{72 * time.Hour, "P3D"},
	}
	for _, tc := range cases {
		if got := ISODuration(tc.d); got != tc.want {
			t.Errorf("ISODuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
