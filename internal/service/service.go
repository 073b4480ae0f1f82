// Package service serializes every mutation of the daily log behind one
// mutex and enforces the ordering durable-commit -> snapshot-mutate ->
// display-refresh. It also owns the operating-day rollover.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/metrowatch/genlog/internal/logbook"
)

// Display is the renderer surface the coordinator drives after each apply.
type Display interface {
	Restore(handles []string)
	Reset(ctx context.Context) error
	Refresh(ctx context.Context, snapshot logbook.DailyLog) error
}

// Resetter receives the day-rollover signal (pending tables, NLP sessions).
type Resetter interface {
	DayReset()
}

// Coordinator implements workflow.Applier over the store and renderer. The
// spec's single-threaded model does not hold in Go, so apply, rollover, and
// reads of the snapshot are serialized here explicitly.
type Coordinator struct {
	mu       sync.Mutex
	store    *logbook.Store
	display  Display
	resetter []Resetter
	now      func() time.Time
}

// New creates a Coordinator. Register rollover listeners with OnDayReset
// before Start.
func New(store *logbook.Store, display Display) *Coordinator {
	return &Coordinator{store: store, display: display, now: time.Now}
}

// OnDayReset registers a listener cleared at every rollover.
func (c *Coordinator) OnDayReset(r Resetter) {
	c.resetter = append(c.resetter, r)
}

// Start loads the current period, resumes or creates the public display, and
// returns. Call once before serving requests.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles, err := c.store.LoadCurrentPeriod()
	if err != nil {
		return fmt.Errorf("loading current period: %w", err)
	}
	c.display.Restore(handles)
	if len(handles) == 0 {
		if err := c.display.Reset(ctx); err != nil {
			return err
		}
	}
	return c.display.Refresh(ctx, c.store.Snapshot())
}

// Apply applies the batch (durably, then in memory) and refreshes the public
// display. An empty batch is a no-op and does not touch the display.
func (c *Coordinator) Apply(ctx context.Context, batch logbook.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := c.store.ApplyBatch(batch); err != nil {
		return err
	}
	if err := c.display.Refresh(ctx, c.store.Snapshot()); err != nil {
		// The log is already durably updated; the display will catch up on
		// the next refresh.
		slog.Error("refreshing display after apply", "error", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current daily log.
func (c *Coordinator) Snapshot() logbook.DailyLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot()
}

// Get returns the details at (service, units), if present.
func (c *Coordinator) Get(service, units string) (logbook.Details, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(service, units)
}

// Rollover starts the next operating day: in-flight state is dropped, the
// period is reloaded, and a fresh display is posted. Never runs concurrently
// with an apply.
func (c *Coordinator) Rollover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.resetter {
		r.DayReset()
	}
	if _, err := c.store.LoadCurrentPeriod(); err != nil {
		return fmt.Errorf("loading new period: %w", err)
	}
	if err := c.display.Reset(ctx); err != nil {
		return err
	}
	slog.Info("rolled over to new operating day")
	return nil
}

// RunRolloverLoop fires Rollover at each day boundary until ctx is done. The
// timer is recomputed after every firing.
func (c *Coordinator) RunRolloverLoop(ctx context.Context) error {
	for {
		next := logbook.NextPeriodStart(c.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := c.Rollover(ctx); err != nil {
				slog.Error("day rollover failed", "error", err)
			}
		}
	}
}
