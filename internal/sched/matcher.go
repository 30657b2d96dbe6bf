// Package sched selects the best ready unit for a requesting agent.
package sched

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/atriumhq/hivemind/internal/cpm"
	"github.com/atriumhq/hivemind/internal/graph"
	"github.com/atriumhq/hivemind/internal/lease"
	"github.com/atriumhq/hivemind/pkg/models"
)

// TieBreak selects the ordering among units that score equally on
// capability overlap.
type TieBreak string

const (
	// TieBreakPriorityCreated orders by priority, then slack, then
	// creation order. The default.
	TieBreakPriorityCreated TieBreak = "priority_created"
	// TieBreakCreatedOnly ignores priority and hands out strictly in
	// creation order (after slack).
	TieBreakCreatedOnly TieBreak = "created_only"
	// TieBreakShortestFirst prefers the smallest estimate among otherwise
	// equal candidates.
	TieBreakShortestFirst TieBreak = "shortest_first"
	// TieBreakLongestFirst prefers the largest estimate among otherwise
	// equal candidates.
	TieBreakLongestFirst TieBreak = "longest_first"
)

// Valid checks if the tie-break policy is recognized.
func (t TieBreak) Valid() bool {
	switch t {
	case TieBreakPriorityCreated, TieBreakCreatedOnly, TieBreakShortestFirst, TieBreakLongestFirst:
		return true
	}
	return false
}

// defaultWaitHint is used when no history collaborator is wired.
const defaultWaitHint = 30 * time.Second

// Config controls lease terms and candidate ordering.
type Config struct {
	// LeaseTTL is the duration of each granted lease; renewals extend by
	// the same amount.
	LeaseTTL time.Duration
	// TieBreak orders equally-scored candidates.
	TieBreak TieBreak
}

// DefaultConfig returns the standard matcher settings.
func DefaultConfig() Config {
	return Config{
		LeaseTTL: 10 * time.Minute,
		TieBreak: TieBreakPriorityCreated,
	}
}

// WaitHinter estimates how long a caller should wait before asking again
// when no unit is available. Advisory only.
type WaitHinter interface {
	WaitHint() time.Duration
}

// NoUnitAvailableError is the normal empty response: nothing is ready and
// unleased right now. It carries a wait estimate, not a failure.
type NoUnitAvailableError struct {
	Wait time.Duration
}

func (e *NoUnitAvailableError) Error() string {
	return fmt.Sprintf("no unit available, retry in ~%s", e.Wait.Round(time.Second))
}

// Matcher hands out work. It holds no lock across the scoring step:
// exclusivity comes entirely from the lease manager's atomic grant, so any
// number of agents may call FindBestUnit concurrently.
type Matcher struct {
	cfg      Config
	graph    *graph.DependencyGraph
	leases   *lease.Manager
	snapshot func() *cpm.Result
	hinter   WaitHinter
	debugLog func(format string, args ...interface{})
}

// NewMatcher creates a matcher over the shared graph and lease manager.
func NewMatcher(cfg Config, g *graph.DependencyGraph, leases *lease.Manager) *Matcher {
	def := DefaultConfig()
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if !cfg.TieBreak.Valid() {
		cfg.TieBreak = def.TieBreak
	}

	return &Matcher{
		cfg:      cfg,
		graph:    g,
		leases:   leases,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetSnapshot wires the CPM snapshot provider used for the slack
// tie-break. Without one, slack is ignored.
func (m *Matcher) SetSnapshot(fn func() *cpm.Result) {
	m.snapshot = fn
}

// SetWaitHinter wires the history collaborator for wait estimates.
func (m *Matcher) SetWaitHinter(h WaitHinter) {
	m.hinter = h
}

// SetDebugLog sets the debug logging function.
func (m *Matcher) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// candidate pairs a ready unit with its score components. created is the
// unit's rank in graph insertion order, the final tie-break.
type candidate struct {
	unit    *models.Unit
	overlap int
	slack   float64
	created int
}

// FindBestUnit reclaims expired leases, scores the ready pool against the
// agent's capabilities and grants a lease on the winner. A grant conflict
// means another agent won the race; the next candidate is tried. When
// nothing remains it returns a NoUnitAvailableError carrying a wait hint.
func (m *Matcher) FindBestUnit(agent *models.AgentProfile) (*models.Unit, *models.Lease, error) {
	for _, stale := range m.leases.ReclaimExpired() {
		m.graph.SetStatus(stale.UnitID, models.StatusReady)
		m.debugLog("[sched.FindBestUnit] unit %s returned to pool after lease %s expired", stale.UnitID, stale.ID)
	}

	var snap *cpm.Result
	if m.snapshot != nil {
		snap = m.snapshot()
	}

	createdRank := make(map[string]int)
	for i, u := range m.graph.Units() {
		createdRank[u.ID] = i
	}

	var candidates []candidate
	for _, u := range m.graph.ReadyUnits() {
		if m.leases.ActiveLease(u.ID) != nil {
			continue
		}
		candidates = append(candidates, candidate{
			unit:    u,
			overlap: capabilityOverlap(agent, u),
			slack:   slackOf(snap, u.ID),
			created: createdRank[u.ID],
		})
	}
	m.sortCandidates(candidates)

	for _, c := range candidates {
		granted, err := m.leases.Grant(c.unit.ID, agent.ID, m.cfg.LeaseTTL)
		if err == lease.ErrConflict {
			m.debugLog("[sched.FindBestUnit] lost race for unit %s, trying next candidate", c.unit.ID)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		m.graph.SetStatus(c.unit.ID, models.StatusLeased)
		m.debugLog("[sched.FindBestUnit] unit %s -> agent %s (overlap %d, priority %d, slack %.2f)",
			c.unit.ID, agent.ID, c.overlap, c.unit.Priority, c.slack)
		return c.unit, granted, nil
	}

	return nil, nil, &NoUnitAvailableError{Wait: m.waitHint()}
}

// sortCandidates orders by capability overlap, then priority (unless the
// policy ignores it), then slack (critical units first), then the
// configured tie-break, with graph insertion order as the final word.
func (m *Matcher) sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.overlap != b.overlap {
			return a.overlap > b.overlap
		}
		if m.cfg.TieBreak != TieBreakCreatedOnly && a.unit.Priority != b.unit.Priority {
			return a.unit.Priority > b.unit.Priority
		}
		if a.slack != b.slack {
			return a.slack < b.slack
		}
		switch m.cfg.TieBreak {
		case TieBreakShortestFirst:
			if a.unit.EstimatedHours != b.unit.EstimatedHours {
				return a.unit.EstimatedHours < b.unit.EstimatedHours
			}
		case TieBreakLongestFirst:
			if a.unit.EstimatedHours != b.unit.EstimatedHours {
				return a.unit.EstimatedHours > b.unit.EstimatedHours
			}
		}
		return a.created < b.created
	})
}

func (m *Matcher) waitHint() time.Duration {
	if m.hinter != nil {
		if hint := m.hinter.WaitHint(); hint > 0 {
			return hint
		}
	}
	return defaultWaitHint
}

// capabilityOverlap counts the agent capabilities the unit's labels
// declare. Matching is case-insensitive and exact per label.
func capabilityOverlap(agent *models.AgentProfile, u *models.Unit) int {
	if agent == nil {
		return 0
	}
	count := 0
	for _, cap := range agent.Capabilities {
		for _, label := range u.Labels {
			if strings.EqualFold(cap, label) {
				count++
				break
			}
		}
	}
	return count
}

// slackOf reads the unit's slack from the CPM snapshot, or +Inf when the
// snapshot is missing or does not cover the unit.
func slackOf(snap *cpm.Result, unitID string) float64 {
	if snap == nil {
		return math.Inf(1)
	}
	sched, ok := snap.Schedules[unitID]
	if !ok {
		return math.Inf(1)
	}
	return sched.Slack
}
