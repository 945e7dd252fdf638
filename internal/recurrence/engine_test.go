package recurrence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/ids"
	"github.com/caldave/caldave/internal/storage"
	"github.com/caldave/caldave/internal/storage/sqlite"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := sqlite.New(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func seedCalendar(t *testing.T, st storage.Store) *storage.Calendar {
	t.Helper()
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
	return cal
}

func seedParent(t *testing.T, st storage.Store, calendarID, rule string, start time.Time) *storage.Event {
	t.Helper()
	parent := &storage.Event{
		ID:         ids.NewEventID(),
		CalendarID: calendarID,
		Title:      "Standup",
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     storage.StatusRecurring,
		Source:     storage.SourceAPI,
		Recurrence: rule,
	}
	if err := st.InsertEvent(context.Background(), parent); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	return parent
}

func TestValidateRule(t *testing.T) {
	st := newTestStore(t)
	engine := NewEngine(st, DefaultConfig(), zerolog.Nop())

	dtstart := time.Now().UTC()
	if err := engine.ValidateRule("FREQ=DAILY", dtstart); err != nil {
		t.Errorf("daily rule rejected: %v", err)
	}

	// A rule whose UNTIL predates dtstart yields nothing in the window.
	if err := engine.ValidateRule("FREQ=DAILY;UNTIL=20200101T000000Z", dtstart); err == nil {
		t.Error("expected error for a rule with no occurrences in the window")
	}

	small := DefaultConfig()
	small.MaxInstancesPerWindow = 5
	tight := NewEngine(st, small, zerolog.Nop())
	if err := tight.ValidateRule("FREQ=DAILY", dtstart); err == nil {
		t.Error("expected error when the rule exceeds the instance cap")
	}
}

func TestMaterializeIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	cal := seedCalendar(t, st)
	engine := NewEngine(st, DefaultConfig(), zerolog.Nop())

	start := time.Now().UTC().Truncate(time.Hour)
	parent := seedParent(t, st, cal.ID, "FREQ=DAILY", start)

	ctx := context.Background()
	n, err := engine.Materialize(ctx, st, parent, start, start.AddDate(0, 0, 9))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if n != 10 {
		t.Fatalf("created %d instances, want 10", n)
	}

	n, err = engine.Materialize(ctx, st, parent, start, start.AddDate(0, 0, 9))
	if err != nil {
		t.Fatalf("second materialize: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass created %d instances, want 0", n)
	}

	instances, err := st.ListInstances(ctx, parent.ID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(instances) != 10 {
		t.Fatalf("got %d instance rows, want 10", len(instances))
	}
	for _, inst := range instances {
		if inst.Status != storage.StatusConfirmed {
			t.Errorf("instance %s status = %q, want confirmed", inst.ID, inst.Status)
		}
		if inst.EndTime.Sub(inst.StartTime) != 30*time.Minute {
			t.Errorf("instance %s duration mismatch", inst.ID)
		}
	}
}

func TestMaterializeInboundInstancesAreTentative(t *testing.T) {
	st := newTestStore(t)
	cal := seedCalendar(t, st)
	engine := NewEngine(st, DefaultConfig(), zerolog.Nop())

	start := time.Now().UTC().Truncate(time.Hour)
	parent := seedParent(t, st, cal.ID, "FREQ=DAILY", start)
	parent.Source = storage.SourceInboundEmail
	if err := st.UpdateEvent(context.Background(), parent); err != nil {
		t.Fatalf("update parent: %v", err)
	}

	if _, err := engine.Materialize(context.Background(), st, parent, start, start.AddDate(0, 0, 2)); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	instances, err := st.ListInstances(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	for _, inst := range instances {
		if inst.Status != storage.StatusTentative {
			t.Errorf("inbound instance status = %q, want tentative", inst.Status)
		}
	}
}

func TestRematerializePreservesExceptions(t *testing.T) {
	st := newTestStore(t)
	cal := seedCalendar(t, st)
	engine := NewEngine(st, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Hour)
	parent := seedParent(t, st, cal.ID, "FREQ=DAILY", start)
	if _, err := engine.Materialize(ctx, st, parent, start, start.AddDate(0, 0, 5)); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	instances, err := st.ListInstances(ctx, parent.ID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	exc := instances[2]
	exc.Title = "Moved standup"
	exc.IsException = true
	if err := st.UpdateEvent(ctx, exc); err != nil {
		t.Fatalf("mark exception: %v", err)
	}

	if _, err := engine.Rematerialize(ctx, parent); err != nil {
		t.Fatalf("rematerialize: %v", err)
	}

	after, err := st.ListInstances(ctx, parent.ID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	found := false
	seen := map[string]int{}
	for _, inst := range after {
		seen[inst.OccurrenceDate]++
		if inst.ID == exc.ID {
			found = true
			if inst.Title != "Moved standup" {
				t.Errorf("exception title overwritten: %q", inst.Title)
			}
			if !inst.IsException {
				t.Error("exception flag cleared")
			}
		}
	}
	if !found {
		t.Fatal("exception row deleted by rematerialize")
	}
	for date, n := range seen {
		if n > 1 {
			t.Errorf("occurrence %s has %d rows", date, n)
		}
	}
	if parent.HorizonTime().IsZero() {
		t.Error("horizon not recorded on parent")
	}
}

func TestExtendHorizon(t *testing.T) {
	st := newTestStore(t)
	cal := seedCalendar(t, st)
	engine := NewEngine(st, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Hour)
	parent := seedParent(t, st, cal.ID, "FREQ=DAILY", start)

	first := time.Now().UTC().AddDate(0, 0, 10)
	n, err := engine.ExtendHorizon(ctx, parent, first)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if n == 0 {
		t.Fatal("no instances created on first extension")
	}

	// Asking for a horizon we already cover is a no-op.
	n, err = engine.ExtendHorizon(ctx, parent, first.AddDate(0, 0, -3))
	if err != nil {
		t.Fatalf("no-op extend: %v", err)
	}
	if n != 0 {
		t.Errorf("no-op extension created %d instances", n)
	}

	n, err = engine.ExtendHorizon(ctx, parent, first.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("second extend: %v", err)
	}
	if n == 0 {
		t.Error("no instances created when pushing the horizon out")
	}
}

func TestExtendAllHorizonsSkipsFreshParents(t *testing.T) {
	st := newTestStore(t)
	cal := seedCalendar(t, st)
	engine := NewEngine(st, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Hour)
	parent := seedParent(t, st, cal.ID, "FREQ=DAILY", start)

	// Fresh horizon at the full window: nothing to do.
	parent.SetHorizon(time.Now().UTC().Add(DefaultConfig().Window()))
	if err := st.UpdateEvent(ctx, parent); err != nil {
		t.Fatalf("update parent: %v", err)
	}
	n, err := engine.ExtendAllHorizons(ctx)
	if err != nil {
		t.Fatalf("extend all: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh parent extended: %d instances", n)
	}

	// An aging horizon inside the threshold gets picked up.
	parent.SetHorizon(time.Now().UTC().AddDate(0, 0, 30))
	if err := st.UpdateEvent(ctx, parent); err != nil {
		t.Fatalf("update parent: %v", err)
	}
	n, err = engine.ExtendAllHorizons(ctx)
	if err != nil {
		t.Fatalf("extend all: %v", err)
	}
	if n == 0 {
		t.Error("aging parent not extended")
	}
}
