package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/atriumhq/hivemind/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWaitHintDefaultsWithoutSamples(t *testing.T) {
	s := openTestStore(t)
	if got := s.WaitHint(); got != defaultHint {
		t.Errorf("wait hint = %s, want default %s", got, defaultHint)
	}
}

func TestWaitHintUsesGapMedian(t *testing.T) {
	s := openTestStore(t)

	for _, gap := range []float64{10, 20, 90} {
		if _, err := s.conn.Exec("INSERT INTO ready_gaps (gap_seconds, at) VALUES (?, ?)", gap, formatTime(time.Now())); err != nil {
			t.Fatalf("seed gap: %v", err)
		}
	}

	if got := s.WaitHint(); got != 20*time.Second {
		t.Errorf("wait hint = %s, want median 20s", got)
	}
}

func TestRecordCompletionAndMedian(t *testing.T) {
	s := openTestStore(t)

	unit := &models.Unit{ID: "u1", Labels: []string{"backend"}, EstimatedHours: 2}
	s.RecordCompletion(unit, 40*time.Second)
	s.RecordCompletion(unit, 60*time.Second)
	s.RecordCompletion(unit, 80*time.Second)

	got, ok := s.MedianDuration("backend")
	if !ok {
		t.Fatal("expected samples for backend")
	}
	if got != 60*time.Second {
		t.Errorf("median = %s, want 60s", got)
	}

	if _, ok := s.MedianDuration("frontend"); ok {
		t.Error("no samples should exist for frontend")
	}
}

func TestEmptyPoolGapSampling(t *testing.T) {
	s := openTestStore(t)

	s.ObserveEmptyPool()
	s.RecordCompletion(&models.Unit{ID: "u1"}, time.Second)

	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM ready_gaps").Scan(&count); err != nil {
		t.Fatalf("count gaps: %v", err)
	}
	if count != 1 {
		t.Fatalf("gap samples = %d, want 1", count)
	}

	// Without a preceding empty observation, completions add no gap.
	s.RecordCompletion(&models.Unit{ID: "u2"}, time.Second)
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM ready_gaps").Scan(&count); err != nil {
		t.Fatalf("count gaps: %v", err)
	}
	if count != 1 {
		t.Errorf("gap samples = %d, want still 1", count)
	}
}

func TestStaticProvider(t *testing.T) {
	p := Static{Hint: 15 * time.Second}
	if p.WaitHint() != 15*time.Second {
		t.Errorf("static hint = %s", p.WaitHint())
	}
	p.RecordCompletion(&models.Unit{ID: "u"}, time.Second)
	if err := p.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
