package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/metrowatch/genlog/internal/logbook"
)

// fakeDisplay records the renderer calls the coordinator makes.
type fakeDisplay struct {
	restored  [][]string
	resets    int
	refreshes []logbook.DailyLog
	failReset bool
}

func (d *fakeDisplay) Restore(handles []string) {
	d.restored = append(d.restored, handles)
}

func (d *fakeDisplay) Reset(context.Context) error {
	if d.failReset {
		return fmt.Errorf("channel unavailable")
	}
	d.resets++
	return nil
}

func (d *fakeDisplay) Refresh(_ context.Context, snapshot logbook.DailyLog) error {
	d.refreshes = append(d.refreshes, snapshot)
	return nil
}

type countingResetter int

func (r *countingResetter) DayReset() { *r++ }

func openTestStore(t *testing.T) *logbook.Store {
	t.Helper()
	store, err := logbook.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStartFreshDayPostsDisplay(t *testing.T) {
	store := openTestStore(t)
	display := &fakeDisplay{}
	c := New(store, display)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(display.restored) != 1 || len(display.restored[0]) != 0 {
		t.Errorf("restored = %+v", display.restored)
	}
	if display.resets != 1 {
		t.Errorf("resets = %d, want 1", display.resets)
	}
	if len(display.refreshes) != 1 {
		t.Errorf("refreshes = %d, want 1", len(display.refreshes))
	}
}

func TestStartResumesRecordedHandles(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.LoadCurrentPeriod(); err != nil {
		t.Fatalf("LoadCurrentPeriod: %v", err)
	}
	if err := store.RecordDisplayMessage("msg-1"); err != nil {
		t.Fatalf("RecordDisplayMessage: %v", err)
	}

	display := &fakeDisplay{}
	c := New(store, display)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(display.restored) != 1 || len(display.restored[0]) != 1 || display.restored[0][0] != "msg-1" {
		t.Errorf("restored = %+v", display.restored)
	}
	if display.resets != 0 {
		t.Errorf("resets = %d, want 0 when resuming", display.resets)
	}
	if len(display.refreshes) != 1 {
		t.Errorf("refreshes = %d, want 1", len(display.refreshes))
	}
}

func TestApplyRefreshesDisplay(t *testing.T) {
	store := openTestStore(t)
	display := &fakeDisplay{}
	c := New(store, display)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	batch := logbook.Batch{logbook.Add("T101", "4073", logbook.Details{Sources: "<@1>"})}
	if err := c.Apply(context.Background(), batch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got, ok := c.Get("T101", "4073"); !ok || got.Sources != "<@1>" {
		t.Errorf("entry = %+v ok=%v", got, ok)
	}
	last := display.refreshes[len(display.refreshes)-1]
	if _, ok := last["T101"]["4073"]; !ok {
		t.Errorf("refresh snapshot = %+v", last)
	}
}

func TestApplyEmptyBatchSkipsDisplay(t *testing.T) {
	store := openTestStore(t)
	display := &fakeDisplay{}
	c := New(store, display)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := len(display.refreshes)

	if err := c.Apply(context.Background(), nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(display.refreshes) != before {
		t.Error("empty batch refreshed the display")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	store := openTestStore(t)
	c := New(store, &fakeDisplay{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Apply(context.Background(), logbook.Batch{
		logbook.Add("T101", "4073", logbook.Details{Sources: "<@1>"}),
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snapshot := c.Snapshot()
	snapshot["T101"]["4073"] = logbook.Details{Sources: "tampered"}

	if got, _ := c.Get("T101", "4073"); got.Sources != "<@1>" {
		t.Errorf("store mutated through snapshot: %+v", got)
	}
}

func TestRolloverResetsListenersAndDisplay(t *testing.T) {
	store := openTestStore(t)
	display := &fakeDisplay{}
	c := New(store, display)
	var resets countingResetter
	c.OnDayReset(&resets)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.Rollover(context.Background()); err != nil {
		t.Fatalf("Rollover: %v", err)
	}
	if resets != 1 {
		t.Errorf("resetter fired %d times, want 1", resets)
	}
	if display.resets != 2 {
		t.Errorf("display resets = %d, want 2", display.resets)
	}
}

func TestRolloverReturnsDisplayError(t *testing.T) {
	store := openTestStore(t)
	display := &fakeDisplay{}
	c := New(store, display)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	display.failReset = true
	if err := c.Rollover(context.Background()); err == nil {
		t.Fatal("display failure swallowed")
	}
}
