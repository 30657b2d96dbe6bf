package models

import (
	"testing"
	"time"
)

func TestUnitStatusValid(t *testing.T) {
	valid := []UnitStatus{StatusTodo, StatusReady, StatusLeased, StatusInProgress, StatusBlocked, StatusDone}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if UnitStatus("cancelled").Valid() {
		t.Error("expected unknown status to be invalid")
	}
	if UnitStatus("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestUnitStatusTerminal(t *testing.T) {
	if !StatusDone.Terminal() {
		t.Error("done should be terminal")
	}
	for _, s := range []UnitStatus{StatusTodo, StatusReady, StatusLeased, StatusInProgress, StatusBlocked} {
		if s.Terminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestUnitDecomposed(t *testing.T) {
	task := &Unit{ID: "t1", Kind: KindTask}
	if task.Decomposed() {
		t.Error("task without subtasks should not be decomposed")
	}
	if !task.Schedulable() {
		t.Error("plain task should be schedulable")
	}

	task.Subtasks = []string{"s1", "s2"}
	if !task.Decomposed() {
		t.Error("task with subtasks should be decomposed")
	}
	if task.Schedulable() {
		t.Error("decomposed task must not be schedulable directly")
	}
}

func TestUnitHasLabel(t *testing.T) {
	u := &Unit{Labels: []string{"bugfix", "api"}}
	if !u.HasLabel("bugfix") {
		t.Error("expected bugfix label")
	}
	if u.HasLabel("frontend") {
		t.Error("unexpected frontend label")
	}
}

func TestLeaseExpired(t *testing.T) {
	now := time.Now()
	l := &Lease{GrantedAt: now, ExpiresAt: now.Add(time.Minute)}

	if l.Expired(now) {
		t.Error("lease should not be expired at grant time")
	}
	if l.Expired(now.Add(59 * time.Second)) {
		t.Error("lease should not be expired before expiry")
	}
	if !l.Expired(now.Add(time.Minute)) {
		t.Error("lease should be expired exactly at expiry")
	}

	if got := l.Remaining(now.Add(30 * time.Second)); got != 30*time.Second {
		t.Errorf("expected 30s remaining, got %v", got)
	}
	if got := l.Remaining(now.Add(2 * time.Minute)); got != 0 {
		t.Errorf("expected 0 remaining after expiry, got %v", got)
	}
}

func TestOutcomeValid(t *testing.T) {
	if !OutcomeCompleted.Valid() || !OutcomeBlocked.Valid() {
		t.Error("known outcomes should be valid")
	}
	if Outcome("failed").Valid() {
		t.Error("unknown outcome should be invalid")
	}
}

func TestAgentHasCapability(t *testing.T) {
	a := AgentProfile{ID: "agent-1", Capabilities: []string{"api", "database"}}
	if !a.HasCapability("database") {
		t.Error("expected database capability")
	}
	if a.HasCapability("ui") {
		t.Error("unexpected ui capability")
	}
}
