// Package board provides the SQLite-backed Kanban mirror of unit state.
// The engine pushes transitions one-way; the board is a view, never the
// source of truth.
package board

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atriumhq/hivemind/pkg/models"
)

// Board wraps an SQLite database holding cards and their transition log.
type Board struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// ProjectDBPath returns the path to the project-local board database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".hivemind", "board.db")
}

// Open opens the board database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*Board, error) {
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
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	b := &Board{conn: conn, path: path}
	if err := b.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// OpenProject opens the project-local board database.
func OpenProject(projectRoot string) (*Board, error) {
	return Open(ProjectDBPath(projectRoot))
}

// Close closes the database connection.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}

// Path returns the path to the database file.
func (b *Board) Path() string {
	return b.path
}

// migrate applies all pending schema migrations.
func (b *Board) migrate() error {
	_, err := b.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := b.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Cards},
		{2, migrationV2Transitions},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := b.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Cards = `
CREATE TABLE IF NOT EXISTS cards (
	unit_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	parent_id TEXT,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	progress REAL NOT NULL DEFAULT 0.0,
	estimated_hours REAL NOT NULL DEFAULT 0.0,
	blocked_reason TEXT,
	labels TEXT,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_status ON cards(status);
CREATE INDEX IF NOT EXISTS idx_cards_parent_id ON cards(parent_id);
`

const migrationV2Transitions = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_unit_id ON transitions(unit_id);
`

// Card is one row of the board.
type Card struct {
	UnitID         string
	Kind           models.UnitKind
	Name           string
	ParentID       string
	Column         models.UnitStatus
	Priority       int
	Progress       float64
	EstimatedHours float64
	BlockedReason  string
	Labels         []string
	UpdatedAt      time.Time
}

// Transition is one row of the transition log.
type Transition struct {
	UnitID string
	From   models.UnitStatus
	To     models.UnitStatus
	At     time.Time
}

// UpsertCard mirrors the unit's current state onto the board.
func (b *Board) UpsertCard(unit *models.Unit) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.conn.Exec(`
		INSERT INTO cards (unit_id, kind, name, parent_id, status, priority, progress, estimated_hours, blocked_reason, labels, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			parent_id = excluded.parent_id,
			status = excluded.status,
			priority = excluded.priority,
			progress = excluded.progress,
			estimated_hours = excluded.estimated_hours,
			blocked_reason = excluded.blocked_reason,
			labels = excluded.labels,
			updated_at = excluded.updated_at
	`, unit.ID, string(unit.Kind), unit.Name, unit.ParentID, string(unit.Status),
		unit.Priority, unit.Progress, unit.EstimatedHours, unit.BlockedReason,
		strings.Join(unit.Labels, ","), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert card %s: %w", unit.ID, err)
	}
	return nil
}

// RecordTransition appends a column move to the transition log.
func (b *Board) RecordTransition(unitID string, from, to models.UnitStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.conn.Exec(`
		INSERT INTO transitions (unit_id, from_status, to_status, at)
		VALUES (?, ?, ?, ?)
	`, unitID, string(from), string(to), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record transition %s: %w", unitID, err)
	}
	return nil
}

// Cards returns all cards, grouped for display: column, then priority
// descending, then name.
func (b *Board) Cards() ([]*Card, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.conn.Query(`
		SELECT unit_id, kind, name, parent_id, status, priority, progress, estimated_hours, blocked_reason, labels, updated_at
		FROM cards
		ORDER BY status, priority DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// Column returns the cards currently in one column.
func (b *Board) Column(status models.UnitStatus) ([]*Card, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.conn.Query(`
		SELECT unit_id, kind, name, parent_id, status, priority, progress, estimated_hours, blocked_reason, labels, updated_at
		FROM cards
		WHERE status = ?
		ORDER BY priority DESC, name
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query column %s: %w", status, err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// Transitions returns the transition log for one unit, oldest first.
func (b *Board) Transitions(unitID string) ([]*Transition, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.conn.Query(`
		SELECT unit_id, from_status, to_status, at
		FROM transitions
		WHERE unit_id = ?
		ORDER BY id
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query transitions %s: %w", unitID, err)
	}
	defer rows.Close()

	var transitions []*Transition
	for rows.Next() {
		var tr Transition
		var from, to, at string
		if err := rows.Scan(&tr.UnitID, &from, &to, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = models.UnitStatus(from)
		tr.To = models.UnitStatus(to)
		tr.At, _ = parseTime(at)
		transitions = append(transitions, &tr)
	}
	return transitions, rows.Err()
}

func scanCard(rows *sql.Rows) (*Card, error) {
	var c Card
	var kind, column, labels, updatedAt string
	var parentID, blockedReason sql.NullString
	if err := rows.Scan(&c.UnitID, &kind, &c.Name, &parentID, &column, &c.Priority,
		&c.Progress, &c.EstimatedHours, &blockedReason, &labels, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}
	c.Kind = models.UnitKind(kind)
	c.Column = models.UnitStatus(column)
	c.ParentID = parentID.String
	c.BlockedReason = blockedReason.String
	if labels != "" {
		c.Labels = strings.Split(labels, ",")
	}
	c.UpdatedAt, _ = parseTime(updatedAt)
	return &c, nil
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
