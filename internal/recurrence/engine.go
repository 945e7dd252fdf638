// Package recurrence materializes recurring events into persistent
// instance rows over a rolling horizon.
package recurrence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/caldave/caldave/internal/ids"
	"github.com/caldave/caldave/internal/storage"
)

// Defaults for the materialization contract.
const (
	DefaultWindowDays            = 90
	DefaultExtendThresholdDays   = 60
	DefaultExtendInterval        = 24 * time.Hour
	DefaultMaxInstancesPerWindow = 1000
)

type Config struct {
	WindowDays            int
	ExtendThresholdDays   int
	ExtendInterval        time.Duration
	MaxInstancesPerWindow int
}

func DefaultConfig() Config {
	return Config{
		WindowDays:            DefaultWindowDays,
		ExtendThresholdDays:   DefaultExtendThresholdDays,
		ExtendInterval:        DefaultExtendInterval,
		MaxInstancesPerWindow: DefaultMaxInstancesPerWindow,
	}
}

func (c Config) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

type Engine struct {
	store  storage.Store
	cfg    Config
	logger zerolog.Logger
}

func NewEngine(store storage.Store, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.WindowDays <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{store: store, cfg: cfg, logger: logger}
}

func (e *Engine) Config() Config { return e.cfg }

// ValidateRule checks a rule against the materialization contract: the
// window bound is applied first, then the occurrence count must be in
// (0, MaxInstancesPerWindow].
func (e *Engine) ValidateRule(rule string, dtstart time.Time) error {
	occs, err := Expand(rule, dtstart, dtstart, dtstart.Add(e.cfg.Window()))
	if err != nil {
		return err
	}
	if len(occs) == 0 {
		return fmt.Errorf("recurrence rule generates no instances in the next %d days", e.cfg.WindowDays)
	}
	if len(occs) > e.cfg.MaxInstancesPerWindow {
		return fmt.Errorf("recurrence rule generates %d instances in a %d-day window, exceeding the %d cap",
			len(occs), e.cfg.WindowDays, e.cfg.MaxInstancesPerWindow)
	}
	return nil
}

// Materialize creates instance rows for the parent's occurrences in
// [from, to]. Existing (parent, occurrence_date) rows are left alone, so
// concurrent or repeated calls are safe. Exception rows are never touched.
func (e *Engine) Materialize(ctx context.Context, st storage.Store, parent *storage.Event, from, to time.Time) (int, error) {
	occs, err := Expand(parent.Recurrence, parent.StartTime, from, to)
	if err != nil {
		return 0, err
	}
	if len(occs) == 0 {
		return 0, nil
	}

	duration := parent.EndTime.Sub(parent.StartTime)
	status := storage.StatusConfirmed
	if parent.Source == storage.SourceInboundEmail {
		// The series is still awaiting the agent's response; instances
		// inherit that, matching singletons from the same source.
		if _, responded := parent.Metadata[storage.MetadataRespondedKey]; !responded {
			status = storage.StatusTentative
		}
	}

	instances := make([]*storage.Event, 0, len(occs))
	for _, occ := range occs {
		occ = occ.UTC()
		instances = append(instances, &storage.Event{
			ID:             ids.NewEventID(),
			CalendarID:     parent.CalendarID,
			Title:          parent.Title,
			Description:    parent.Description,
			Metadata:       instanceMetadata(parent.Metadata),
			Location:       parent.Location,
			AllDay:         parent.AllDay,
			StartTime:      occ,
			EndTime:        occ.Add(duration),
			Status:         status,
			Source:         parent.Source,
			Attendees:      append([]string(nil), parent.Attendees...),
			OrganizerEmail: parent.OrganizerEmail,
			ParentEventID:  parent.ID,
			OccurrenceDate: occ.Format("2006-01-02"),
			IsException:    false,
		})
	}

	return st.InsertInstances(ctx, instances)
}

// Rematerialize drops the parent's non-exception instances and rebuilds
// the window from now, all in one transaction. Exception rows survive
// untouched even when they no longer match the rule.
func (e *Engine) Rematerialize(ctx context.Context, parent *storage.Event) (int, error) {
	now := time.Now().UTC()
	horizon := now.Add(e.cfg.Window())

	var created int
	err := e.store.InTx(ctx, func(st storage.Store) error {
		if _, err := st.DeleteNonExceptionInstances(ctx, parent.ID); err != nil {
			return fmt.Errorf("delete instances of %s: %w", parent.ID, err)
		}
		n, err := e.Materialize(ctx, st, parent, now, horizon)
		if err != nil {
			return fmt.Errorf("materialize %s: %w", parent.ID, err)
		}
		created = n
		parent.SetHorizon(horizon)
		return st.UpdateEvent(ctx, parent)
	})
	return created, err
}

// ExtendHorizon materializes [current horizon, newHorizon) and persists
// the new horizon. A horizon at or past the target makes this a no-op.
func (e *Engine) ExtendHorizon(ctx context.Context, parent *storage.Event, newHorizon time.Time) (int, error) {
	until := parent.HorizonTime()
	if !until.IsZero() && !until.Before(newHorizon) {
		return 0, nil
	}
	from := until
	if from.IsZero() {
		from = time.Now().UTC()
	}

	var created int
	err := e.store.InTx(ctx, func(st storage.Store) error {
		n, err := e.Materialize(ctx, st, parent, from, newHorizon)
		if err != nil {
			return err
		}
		created = n
		parent.SetHorizon(newHorizon)
		return st.UpdateEvent(ctx, parent)
	})
	return created, err
}

// ExtendAllHorizons scans every recurring parent whose horizon falls
// within the extend threshold (or is missing) and pushes it out to the
// full window. A failing parent is logged and skipped.
func (e *Engine) ExtendAllHorizons(ctx context.Context) (int, error) {
	parents, err := e.store.ListRecurringParents(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recurring parents: %w", err)
	}

	now := time.Now().UTC()
	threshold := now.Add(time.Duration(e.cfg.ExtendThresholdDays) * 24 * time.Hour)
	target := now.Add(e.cfg.Window())

	extended := 0
	for _, parent := range parents {
		until := parent.HorizonTime()
		if !until.IsZero() && until.After(threshold) {
			continue
		}
		n, err := e.ExtendHorizon(ctx, parent, target)
		if err != nil {
			e.logger.Error().Err(err).
				Str("event_id", parent.ID).
				Str("calendar_id", parent.CalendarID).
				Msg("horizon extension failed")
			continue
		}
		extended += n
	}
	return extended, nil
}

// RunExtender runs ExtendAllHorizons immediately and then on every tick
// until the context is cancelled.
func (e *Engine) RunExtender(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ExtendInterval)
	defer ticker.Stop()

	for {
		if n, err := e.ExtendAllHorizons(ctx); err != nil {
			e.logger.Error().Err(err).Msg("horizon extender pass failed")
		} else if n > 0 {
			e.logger.Info().Int("instances_created", n).Msg("extended materialization horizons")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func instanceMetadata(parent map[string]any) map[string]any {
	if len(parent) == 0 {
		return nil
	}
	out := make(map[string]any, len(parent))
	for k, v := range parent {
		if k == storage.MetadataHorizonKey || k == storage.MetadataRespondedKey {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
