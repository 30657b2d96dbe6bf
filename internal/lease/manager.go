// Package lease implements exclusive, time-bounded assignment leases.
package lease

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atriumhq/hivemind/pkg/models"
)

// ErrConflict indicates an active lease already exists for the unit.
// This is expected control flow under concurrent scheduling, not a user
// error: the caller re-queries for a different ready unit.
var ErrConflict = errors.New("lease conflict: unit already leased")

// ErrNotFound indicates the lease was already released, expired or
// reclaimed.
var ErrNotFound = errors.New("lease not found")

// slot holds the lease state for one unit. Each slot has its own mutex so
// grant/renew/release/reclaim on a given unit are linearizable while
// operations on disjoint units proceed fully in parallel.
type slot struct {
	mu      sync.Mutex
	current *models.Lease
	// ttl is the duration the current lease was granted with; renewals
	// extend by the same amount.
	ttl time.Duration
}

// Manager grants, renews, releases and reclaims leases. The manager-level
// lock only guards map membership; all per-lease state lives in the slots.
type Manager struct {
	mu      sync.Mutex
	slots   map[string]*slot
	byLease map[string]string // lease ID -> unit ID
	// now is the clock, injectable for expiry tests.
	now func() time.Time
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// NewManager creates a lease manager using the wall clock.
func NewManager() *Manager {
	return NewManagerWithClock(time.Now)
}

// NewManagerWithClock creates a lease manager with an injected clock.
func NewManagerWithClock(now func() time.Time) *Manager {
	return &Manager{
		slots:    make(map[string]*slot),
		byLease:  make(map[string]string),
		now:      now,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (m *Manager) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// slotFor returns the slot for a unit, creating it if needed.
func (m *Manager) slotFor(unitID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[unitID]
	if !ok {
		s = &slot{}
		m.slots[unitID] = s
	}
	return s
}

// Grant atomically grants a lease on the unit to the agent. Succeeds only
// if no active lease exists for the unit; an expired leftover lease is
// reclaimed in passing. Returns ErrConflict if another agent holds an
// active lease.
func (m *Manager) Grant(unitID, agentID string, ttl time.Duration) (*models.Lease, error) {
	s := m.slotFor(unitID)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		if !s.current.Expired(now) {
			m.debugLog("[lease.Grant] conflict: unit %s held by agent %s until %s", unitID, s.current.AgentID, s.current.ExpiresAt.Format(time.RFC3339))
			return nil, ErrConflict
		}
		m.dropIndex(s.current.ID)
		m.debugLog("[lease.Grant] reclaimed expired lease %s on unit %s in passing", s.current.ID, unitID)
		s.current = nil
	}

	l := &models.Lease{
		ID:        uuid.New().String(),
		UnitID:    unitID,
		AgentID:   agentID,
		GrantedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.current = l
	s.ttl = ttl
	m.addIndex(l.ID, unitID)

	m.debugLog("[lease.Grant] unit %s -> agent %s (lease %s, ttl %s)", unitID, agentID, l.ID, ttl)
	cp := *l
	return &cp, nil
}

// Renew extends the lease's expiry by its original TTL. Fails with
// ErrNotFound if the lease was already released, expired or reclaimed.
func (m *Manager) Renew(leaseID string) (*models.Lease, error) {
	s, ok := m.slotForLease(leaseID)
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.ID != leaseID {
		return nil, ErrNotFound
	}
	if s.current.Expired(now) {
		// Lapsed before the renewal arrived; reclaim rather than revive.
		m.dropIndex(leaseID)
		s.current = nil
		return nil, ErrNotFound
	}

	s.current.ExpiresAt = now.Add(s.ttl)
	s.current.RenewalCount++
	m.debugLog("[lease.Renew] lease %s renewed (count %d, expires %s)", leaseID, s.current.RenewalCount, s.current.ExpiresAt.Format(time.RFC3339))

	cp := *s.current
	return &cp, nil
}

// Release explicitly terminates the lease. The outcome is returned to the
// caller (the engine applies the status transition); the manager only
// enforces lease lifecycle.
func (m *Manager) Release(leaseID string, outcome models.Outcome) (*models.Lease, error) {
	s, ok := m.slotForLease(leaseID)
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.ID != leaseID {
		return nil, ErrNotFound
	}
	if s.current.Expired(now) {
		m.dropIndex(leaseID)
		s.current = nil
		return nil, ErrNotFound
	}

	released := *s.current
	m.dropIndex(leaseID)
	s.current = nil

	m.debugLog("[lease.Release] lease %s on unit %s released by agent %s (%s)", leaseID, released.UnitID, released.AgentID, outcome)
	return &released, nil
}

// ReclaimExpired scans for leases past their expiry, clears them and
// returns them so the caller can requeue the units. Invoked lazily at the
// start of every scheduling decision; no background sweeper is needed
// because staleness is only observable at the next scheduling call.
func (m *Manager) ReclaimExpired() []*models.Lease {
	now := m.now()

	m.mu.Lock()
	slots := make(map[string]*slot, len(m.slots))
	for id, s := range m.slots {
		slots[id] = s
	}
	m.mu.Unlock()

	var reclaimed []*models.Lease
	for unitID, s := range slots {
		s.mu.Lock()
		if s.current != nil && s.current.Expired(now) {
			stale := *s.current
			m.dropIndex(stale.ID)
			s.current = nil
			reclaimed = append(reclaimed, &stale)
			m.debugLog("[lease.ReclaimExpired] stale assignment reclaimed: unit %s, agent %s, lease %s", unitID, stale.AgentID, stale.ID)
		}
		s.mu.Unlock()
	}
	return reclaimed
}

// ActiveLease returns a copy of the unit's active lease, or nil if the
// unit is unleased (or its lease has lapsed).
func (m *Manager) ActiveLease(unitID string) *models.Lease {
	m.mu.Lock()
	s, ok := m.slots[unitID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.Expired(now) {
		return nil
	}
	cp := *s.current
	return &cp
}

// Lookup returns a copy of an active lease by lease ID, or ErrNotFound.
func (m *Manager) Lookup(leaseID string) (*models.Lease, error) {
	s, ok := m.slotForLease(leaseID)
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.ID != leaseID || s.current.Expired(now) {
		return nil, ErrNotFound
	}
	cp := *s.current
	return &cp, nil
}

func (m *Manager) slotForLease(leaseID string) (*slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unitID, ok := m.byLease[leaseID]
	if !ok {
		return nil, false
	}
	s, ok := m.slots[unitID]
	return s, ok
}

func (m *Manager) addIndex(leaseID, unitID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byLease[leaseID] = unitID
}

func (m *Manager) dropIndex(leaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byLease, leaseID)
}
