// Package history records completed-unit durations and ready-pool gaps.
// It backs the wait-time hint in empty scheduling responses and is never
// required for correctness.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atriumhq/hivemind/pkg/models"
)

// Provider defines the interface the engine consumes. Implementations
// are advisory: a Provider that returns zeroes degrades the wait hint,
// nothing else.
type Provider interface {
	// WaitHint estimates how long a caller should wait before asking for
	// work again.
	WaitHint() time.Duration

	// RecordCompletion stores how long one unit took from grant to
	// completion.
	RecordCompletion(unit *models.Unit, took time.Duration)

	// Close releases any underlying resources.
	Close() error
}

// Static is the fallback Provider used when no store is configured: a
// fixed wait hint, nothing recorded.
type Static struct {
	Hint time.Duration
}

// WaitHint implements Provider.
func (s Static) WaitHint() time.Duration { return s.Hint }

// RecordCompletion implements Provider.
func (s Static) RecordCompletion(unit *models.Unit, took time.Duration) {}

// Close implements Provider.
func (s Static) Close() error { return nil }

// Store is the SQLite-backed Provider.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex

	// lastEmpty is when the ready pool was last observed empty; the next
	// completion closes the gap sample.
	gapMu     sync.Mutex
	lastEmpty time.Time
}

// Verify Store implements Provider at compile time.
var _ Provider = (*Store)(nil)

// ProjectDBPath returns the path to the project-local history database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".hivemind", "history.db")
}

// Open opens the history store at the given path, creating parent
// directories and applying the schema as needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenProject opens the project-local history store.
func OpenProject(projectRoot string) (*Store, error) {
	return Open(ProjectDBPath(projectRoot))
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS completions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			unit_id TEXT NOT NULL,
			category TEXT NOT NULL,
			estimated_hours REAL NOT NULL DEFAULT 0.0,
			took_seconds REAL NOT NULL,
			at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_completions_category ON completions(category);

		CREATE TABLE IF NOT EXISTS ready_gaps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			gap_seconds REAL NOT NULL,
			at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("apply history schema: %w", err)
	}
	return nil
}

// RecordCompletion stores the grant-to-completion duration for a unit.
// The unit's first label is used as its category; unlabeled units fall
// into "general".
func (s *Store) RecordCompletion(unit *models.Unit, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO completions (unit_id, category, estimated_hours, took_seconds, at)
		VALUES (?, ?, ?, ?, ?)
	`, unit.ID, categoryOf(unit), unit.EstimatedHours, took.Seconds(), formatTime(time.Now()))
	_ = err // advisory: a failed sample is dropped, not surfaced

	s.closeGap()
}

// ObserveEmptyPool records that a scheduling call found nothing ready.
// The next completion closes the gap sample.
func (s *Store) ObserveEmptyPool() {
	s.gapMu.Lock()
	defer s.gapMu.Unlock()
	if s.lastEmpty.IsZero() {
		s.lastEmpty = time.Now()
	}
}

func (s *Store) closeGap() {
	s.gapMu.Lock()
	defer s.gapMu.Unlock()
	if s.lastEmpty.IsZero() {
		return
	}
	gap := time.Since(s.lastEmpty)
	s.lastEmpty = time.Time{}

	_, _ = s.conn.Exec(`
		INSERT INTO ready_gaps (gap_seconds, at)
		VALUES (?, ?)
	`, gap.Seconds(), formatTime(time.Now()))
}

// WaitHint returns the historical median time-to-next-ready-unit, or the
// static default when no samples exist yet.
func (s *Store) WaitHint() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query("SELECT gap_seconds FROM ready_gaps ORDER BY id DESC LIMIT 50")
	if err != nil {
		return defaultHint
	}
	defer rows.Close()

	var samples []float64
	for rows.Next() {
		var g float64
		if err := rows.Scan(&g); err != nil {
			return defaultHint
		}
		samples = append(samples, g)
	}
	if len(samples) == 0 {
		return defaultHint
	}
	return time.Duration(median(samples) * float64(time.Second))
}

// MedianDuration returns the median grant-to-completion time for a
// category, or false if no samples exist.
func (s *Store) MedianDuration(category string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query("SELECT took_seconds FROM completions WHERE category = ? ORDER BY id DESC LIMIT 100", category)
	if err != nil {
		return 0, false
	}
	defer rows.Close()

	var samples []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return 0, false
		}
		samples = append(samples, v)
	}
	if len(samples) == 0 {
		return 0, false
	}
	return time.Duration(median(samples) * float64(time.Second)), true
}

const defaultHint = 30 * time.Second

func categoryOf(unit *models.Unit) string {
	if len(unit.Labels) > 0 {
		return unit.Labels[0]
	}
	return "general"
}

func median(samples []float64) float64 {
	sort.Float64s(samples)
	n := len(samples)
	if n%2 == 1 {
		return samples[n/2]
	}
	return (samples[n/2-1] + samples[n/2]) / 2
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
