package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atriumhq/hivemind/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingBoard struct {
	mu          sync.Mutex
	upserts     []string
	transitions []string
}

func (b *recordingBoard) UpsertCard(u *models.Unit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upserts = append(b.upserts, u.ID)
	return nil
}

func (b *recordingBoard) RecordTransition(unitID string, from, to models.UnitStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, unitID+":"+string(from)+"->"+string(to))
	return nil
}

func smallTask(id string, deps ...string) *models.Unit {
	return &models.Unit{
		ID:             id,
		Name:           id,
		EstimatedHours: 1,
		DependsOn:      deps,
	}
}

func TestEngineEndToEnd(t *testing.T) {
	board := &recordingBoard{}
	e := New(WithBoard(board))
	defer e.Close()

	// a -> b, c independent
	_, err := e.LoadTasks(context.Background(), []*models.Unit{
		smallTask("a"),
		smallTask("b", "a"),
		smallTask("c"),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	asn, err := e.RequestNextUnit("agent-1", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if asn.Unit.ID != "a" && asn.Unit.ID != "c" {
		t.Fatalf("granted %s, want a ready unit", asn.Unit.ID)
	}

	if err := e.ReportProgress(asn.Lease.ID, 50); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if got := e.Get(asn.Unit.ID).Status; got != models.StatusInProgress {
		t.Errorf("status after progress = %s, want in_progress", got)
	}

	if err := e.ReportOutcome(asn.Lease.ID, models.OutcomeCompleted, ""); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if got := e.Get(asn.Unit.ID).Status; got != models.StatusDone {
		t.Errorf("status after completion = %s, want done", got)
	}

	// Drain the remaining units.
	for i := 0; i < 4; i++ {
		asn, err := e.RequestNextUnit("agent-1", nil)
		if err != nil {
			if _, ok := ErrNoUnit(err); ok {
				break
			}
			t.Fatalf("request: %v", err)
		}
		if err := e.ReportOutcome(asn.Lease.ID, models.OutcomeCompleted, ""); err != nil {
			t.Fatalf("outcome %s: %v", asn.Unit.ID, err)
		}
	}

	if !e.Finished() {
		t.Errorf("engine should be finished, counts: %v", e.StatusCounts())
	}

	board.mu.Lock()
	defer board.mu.Unlock()
	if len(board.upserts) == 0 || len(board.transitions) == 0 {
		t.Error("board mirror never notified")
	}
}

func TestEngineDependentUnlocksAfterCompletion(t *testing.T) {
	e := New()
	defer e.Close()

	if _, err := e.LoadTasks(context.Background(), []*models.Unit{
		smallTask("first"),
		smallTask("second", "first"),
	}); err != nil {
		t.Fatalf("load: %v", err)
	}

	asn, err := e.RequestNextUnit("a1", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if asn.Unit.ID != "first" {
		t.Fatalf("granted %s, want first", asn.Unit.ID)
	}

	// second is not yet available to anyone.
	if _, err := e.RequestNextUnit("a2", nil); err == nil {
		t.Fatal("second should be locked behind first")
	}

	if err := e.ReportOutcome(asn.Lease.ID, models.OutcomeCompleted, ""); err != nil {
		t.Fatalf("outcome: %v", err)
	}

	asn, err = e.RequestNextUnit("a2", nil)
	if err != nil {
		t.Fatalf("request after unlock: %v", err)
	}
	if asn.Unit.ID != "second" {
		t.Errorf("granted %s, want second", asn.Unit.ID)
	}
}

func TestEngineDecomposesLargeTask(t *testing.T) {
	e := New()
	defer e.Close()

	big := &models.Unit{
		ID:             "big",
		Name:           "storefront",
		Description:    "build the api service with a database schema behind it",
		EstimatedHours: 8,
	}
	after := smallTask("after", "big")

	n, err := e.LoadTasks(context.Background(), []*models.Unit{big, after})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	parent := e.Get("big")
	if !parent.Decomposed() {
		t.Fatal("large multi-component task should have been decomposed")
	}
	// Subtasks plus the downstream task; the parent itself is derived.
	if n != len(parent.Subtasks)+1 {
		t.Errorf("schedulable count = %d, want %d", n, len(parent.Subtasks)+1)
	}
	if _, ok := e.Conventions("big"); !ok {
		t.Error("decomposition should record shared conventions")
	}

	// Work the subtasks to completion; the parent must auto-complete and
	// unlock its dependent.
	for i := 0; i < len(parent.Subtasks)+2; i++ {
		asn, err := e.RequestNextUnit("a1", nil)
		if err != nil {
			if _, ok := ErrNoUnit(err); ok {
				break
			}
			t.Fatalf("request: %v", err)
		}
		if asn.Unit.ID == "big" {
			t.Fatal("decomposed parent must never be leased")
		}
		if err := e.ReportOutcome(asn.Lease.ID, models.OutcomeCompleted, ""); err != nil {
			t.Fatalf("outcome %s: %v", asn.Unit.ID, err)
		}
	}

	if e.Get("big").Status != models.StatusDone {
		t.Errorf("parent status = %s, want done", e.Get("big").Status)
	}
	if e.Get("after").Status != models.StatusDone {
		t.Errorf("dependent status = %s, want done", e.Get("after").Status)
	}
	if !e.Finished() {
		t.Errorf("not finished, counts: %v", e.StatusCounts())
	}
}

func TestEngineNoUnitAvailable(t *testing.T) {
	e := New()
	defer e.Close()

	_, err := e.RequestNextUnit("a1", nil)
	noUnit, ok := ErrNoUnit(err)
	if !ok {
		t.Fatalf("expected empty response, got %v", err)
	}
	if noUnit.Wait <= 0 {
		t.Errorf("wait hint = %s, want positive", noUnit.Wait)
	}
}

func TestEngineLeaseExpiryReclaim(t *testing.T) {
	clock := newFakeClock()
	e := New(WithClock(clock.Now))
	defer e.Close()

	if _, err := e.LoadTasks(context.Background(), []*models.Unit{smallTask("only")}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := e.RequestNextUnit("vanished", nil); err != nil {
		t.Fatalf("request: %v", err)
	}

	clock.Advance(11 * time.Minute)
	if n := e.Reclaim(); n != 1 {
		t.Fatalf("reclaimed %d leases, want 1", n)
	}

	asn, err := e.RequestNextUnit("a2", nil)
	if err != nil {
		t.Fatalf("request after reclaim: %v", err)
	}
	if asn.Unit.ID != "only" {
		t.Errorf("granted %s, want only", asn.Unit.ID)
	}
}

func TestEngineExpiredLeaseRejectsLateReport(t *testing.T) {
	clock := newFakeClock()
	e := New(WithClock(clock.Now))
	defer e.Close()

	if _, err := e.LoadTasks(context.Background(), []*models.Unit{smallTask("only")}); err != nil {
		t.Fatalf("load: %v", err)
	}
	asn, err := e.RequestNextUnit("slow", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	clock.Advance(11 * time.Minute)
	if err := e.ReportOutcome(asn.Lease.ID, models.OutcomeCompleted, ""); err == nil {
		t.Error("completion on a lapsed lease should be rejected")
	}
	if err := e.ReportProgress(asn.Lease.ID, 10); err == nil {
		t.Error("progress on a lapsed lease should be rejected")
	}
}

func TestEngineBlockedAndRetry(t *testing.T) {
	e := New()
	defer e.Close()

	if _, err := e.LoadTasks(context.Background(), []*models.Unit{smallTask("shaky")}); err != nil {
		t.Fatalf("load: %v", err)
	}
	asn, err := e.RequestNextUnit("a1", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := e.ReportOutcome(asn.Lease.ID, models.OutcomeBlocked, "missing API key"); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	unit := e.Get("shaky")
	if unit.Status != models.StatusBlocked || unit.BlockedReason != "missing API key" {
		t.Fatalf("status = %s (%q), want blocked with reason", unit.Status, unit.BlockedReason)
	}

	// Blocked units stay out of the pool until retried.
	if _, err := e.RequestNextUnit("a2", nil); err == nil {
		t.Fatal("blocked unit should not be assignable")
	}

	if err := e.RetryUnit("shaky"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	asn, err = e.RequestNextUnit("a2", nil)
	if err != nil {
		t.Fatalf("request after retry: %v", err)
	}
	if asn.Unit.ID != "shaky" {
		t.Errorf("granted %s, want shaky", asn.Unit.ID)
	}
}

func TestEngineInvalidOutcome(t *testing.T) {
	e := New()
	defer e.Close()

	if err := e.ReportOutcome("nope", models.Outcome("exploded"), ""); err == nil {
		t.Error("invalid outcome should be rejected")
	}
}

func TestEngineSnapshotRecompute(t *testing.T) {
	e := New()
	defer e.Close()

	if _, err := e.LoadTasks(context.Background(), []*models.Unit{
		smallTask("a"),
		smallTask("b", "a"),
	}); err != nil {
		t.Fatalf("load: %v", err)
	}

	snap := e.Snapshot()
	if snap == nil {
		t.Fatal("snapshot should exist after load")
	}
	if snap.CriticalPathHours != 2 {
		t.Errorf("critical path = %.1f, want 2", snap.CriticalPathHours)
	}

	asn, err := e.RequestNextUnit("a1", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := e.ReportOutcome(asn.Lease.ID, models.OutcomeCompleted, ""); err != nil {
		t.Fatalf("outcome: %v", err)
	}

	if e.Snapshot() == snap {
		t.Error("snapshot should be recomputed after a completion")
	}
}

func TestEngineRunDoneEventOnce(t *testing.T) {
	e := New()

	if _, err := e.LoadTasks(context.Background(), []*models.Unit{smallTask("only")}); err != nil {
		t.Fatalf("load: %v", err)
	}
	asn, err := e.RequestNextUnit("a1", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := e.ReportOutcome(asn.Lease.ID, models.OutcomeCompleted, ""); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	e.Close()

	runDone := 0
	for ev := range e.Events() {
		if ev.Type == EventRunDone {
			runDone++
		}
	}
	if runDone != 1 {
		t.Errorf("run_done emitted %d times, want once", runDone)
	}
}
