package models

import "time"

// Outcome is the result an agent reports when releasing a lease.
type Outcome string

const (
	// OutcomeCompleted indicates the agent finished the unit.
	OutcomeCompleted Outcome = "completed"
	// OutcomeBlocked indicates the agent hit a blocker and is giving the
	// unit back.
	OutcomeBlocked Outcome = "blocked"
)

// Valid returns true if the outcome is a known value.
func (o Outcome) Valid() bool {
	return o == OutcomeCompleted || o == OutcomeBlocked
}

// Lease is a time-bounded exclusive claim by one agent on one unit.
// At most one non-expired, non-released lease exists per unit at any
// instant.
type Lease struct {
	// ID is the unique identifier for this lease.
	ID string `json:"id"`
	// UnitID is the task or subtask this lease covers.
	UnitID string `json:"unit_id"`
	// AgentID is the agent holding the lease.
	AgentID string `json:"agent_id"`
	// GrantedAt is when the lease was granted.
	GrantedAt time.Time `json:"granted_at"`
	// ExpiresAt is when the lease lapses unless renewed or released.
	ExpiresAt time.Time `json:"expires_at"`
	// RenewalCount is the number of times the lease has been renewed.
	RenewalCount int `json:"renewal_count"`
}

// Expired reports whether the lease is past its expiry at the given time.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Remaining returns how long the lease has left at the given time.
// Returns zero if already expired.
func (l *Lease) Remaining(now time.Time) time.Duration {
	if l.Expired(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}
