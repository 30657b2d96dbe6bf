package lease

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atriumhq/hivemind/pkg/models"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func TestGrantAndConflict(t *testing.T) {
	m := NewManager()

	l1, err := m.Grant("unit-1", "agent-a", time.Minute)
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if l1.UnitID != "unit-1" || l1.AgentID != "agent-a" {
		t.Errorf("unexpected lease: %+v", l1)
	}

	if _, err := m.Grant("unit-1", "agent-b", time.Minute); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A different unit is independent.
	if _, err := m.Grant("unit-2", "agent-b", time.Minute); err != nil {
		t.Fatalf("grant on disjoint unit: %v", err)
	}
}

func TestConcurrentGrantExactlyOneWins(t *testing.T) {
	m := NewManager()

	const attempts = 64
	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			if _, err := m.Grant("contested", "agent", time.Minute); err == nil {
				atomic.AddInt64(&wins, 1)
			} else if !errors.Is(err, ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}

	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful grant, got %d", wins)
	}
}

func TestRenewExtendsExpiry(t *testing.T) {
	clock := newFakeClock()
	m := NewManagerWithClock(clock.Now)

	l, err := m.Grant("unit-1", "agent-a", time.Minute)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	clock.Advance(30 * time.Second)
	renewed, err := m.Renew(l.ID)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.RenewalCount != 1 {
		t.Errorf("renewal count = %d, want 1", renewed.RenewalCount)
	}
	want := clock.Now().Add(time.Minute)
	if !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expires at %v, want %v", renewed.ExpiresAt, want)
	}
}

func TestRenewAfterReleaseFails(t *testing.T) {
	m := NewManager()

	l, err := m.Grant("unit-1", "agent-a", time.Minute)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := m.Release(l.ID, models.OutcomeCompleted); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := m.Renew(l.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after release, got %v", err)
	}
	if _, err := m.Release(l.ID, models.OutcomeCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double release, got %v", err)
	}
}

func TestRenewAfterExpiryFails(t *testing.T) {
	clock := newFakeClock()
	m := NewManagerWithClock(clock.Now)

	l, err := m.Grant("unit-1", "agent-a", time.Second)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	clock.Advance(2 * time.Second)
	if _, err := m.Renew(l.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestReleaseFreesUnit(t *testing.T) {
	m := NewManager()

	l, err := m.Grant("unit-1", "agent-a", time.Minute)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	released, err := m.Release(l.ID, models.OutcomeBlocked)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.UnitID != "unit-1" {
		t.Errorf("released wrong unit: %s", released.UnitID)
	}

	if m.ActiveLease("unit-1") != nil {
		t.Error("unit should be unleased after release")
	}
	if _, err := m.Grant("unit-1", "agent-b", time.Minute); err != nil {
		t.Errorf("regrant after release: %v", err)
	}
}

func TestReclaimExpired(t *testing.T) {
	clock := newFakeClock()
	m := NewManagerWithClock(clock.Now)

	if _, err := m.Grant("stale", "agent-a", time.Second); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := m.Grant("fresh", "agent-b", time.Hour); err != nil {
		t.Fatalf("grant: %v", err)
	}

	clock.Advance(1100 * time.Millisecond)

	reclaimed := m.ReclaimExpired()
	if len(reclaimed) != 1 || reclaimed[0].UnitID != "stale" {
		t.Fatalf("expected [stale] reclaimed, got %+v", reclaimed)
	}

	// The stale unit is grantable again without operator intervention.
	if _, err := m.Grant("stale", "agent-c", time.Minute); err != nil {
		t.Errorf("regrant after reclaim: %v", err)
	}
	if m.ActiveLease("fresh") == nil {
		t.Error("fresh lease should survive the sweep")
	}
}

func TestExpiredLeaseReclaimedInPassingByGrant(t *testing.T) {
	// Lazy reclaim also happens if a grant races ahead of the sweep.
	clock := newFakeClock()
	m := NewManagerWithClock(clock.Now)

	if _, err := m.Grant("unit-1", "agent-a", time.Second); err != nil {
		t.Fatalf("grant: %v", err)
	}
	clock.Advance(2 * time.Second)

	l, err := m.Grant("unit-1", "agent-b", time.Minute)
	if err != nil {
		t.Fatalf("grant over expired lease: %v", err)
	}
	if l.AgentID != "agent-b" {
		t.Errorf("lease held by %s, want agent-b", l.AgentID)
	}
}

func TestActiveLeaseHidesExpired(t *testing.T) {
	clock := newFakeClock()
	m := NewManagerWithClock(clock.Now)

	if _, err := m.Grant("unit-1", "agent-a", time.Second); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if m.ActiveLease("unit-1") == nil {
		t.Fatal("expected active lease")
	}

	clock.Advance(2 * time.Second)
	if m.ActiveLease("unit-1") != nil {
		t.Error("expired lease must not be reported active")
	}
}

func TestLookup(t *testing.T) {
	m := NewManager()

	l, err := m.Grant("unit-1", "agent-a", time.Minute)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	got, err := m.Lookup(l.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.UnitID != "unit-1" {
		t.Errorf("lookup returned unit %s", got.UnitID)
	}

	if _, err := m.Lookup("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
