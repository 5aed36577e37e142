// Package history keeps a log of update checks and upgrade runs in a local
// SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo on Windows
)

// Kinds of history entries.
const (
	KindCheck   = "check"
	KindUpgrade = "upgrade"
)

// Triggers record what started a check.
const (
	TriggerStartup   = "startup"
	TriggerSchedule  = "schedule"
	TriggerCatchUp   = "catch-up"
	TriggerManual    = "manual"
	TriggerAfterSave = "settings"
)

// timeLayout has a fixed width so started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultKeep is the number of rows retained by Prune.
const DefaultKeep = 500

// ErrClosed is returned after Close.
var ErrClosed = errors.New("history store is closed")

// Entry is one check or upgrade attempt.
type Entry struct {
	ID          int64         `json:"id"`
	Kind        string        `json:"kind"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	UpdateCount int           `json:"update_count"`
	Forced      bool          `json:"forced"`
	Trigger     string        `json:"trigger,omitempty"`
	Error       string        `json:"error,omitempty"`
	PackageIDs  []string      `json:"package_ids,omitempty"`
}

// Succeeded reports whether the attempt finished without error.
func (e Entry) Succeeded() bool {
	return e.Error == ""
}

const schema = `
CREATE TABLE IF NOT EXISTS checks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT    NOT NULL DEFAULT 'check',
	started_at   TEXT    NOT NULL,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	update_count INTEGER NOT NULL DEFAULT 0,
	forced       INTEGER NOT NULL DEFAULT 0,
	trigger_name TEXT    NOT NULL DEFAULT '',
	error        TEXT    NOT NULL DEFAULT '',
	package_ids  TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS checks_started_at ON checks (started_at);
`

// Store persists entries. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func buildDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(3000)")
	return path + "?" + q.Encode()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Record inserts e. A zero StartedAt is set to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Kind == "" {
		e.Kind = KindCheck
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checks (kind, started_at, duration_ms, update_count, forced, trigger_name, error, package_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind,
		e.StartedAt.UTC().Format(timeLayout),
		e.Duration.Milliseconds(),
		e.UpdateCount,
		boolToInt(e.Forced),
		e.Trigger,
		e.Error,
		strings.Join(e.PackageIDs, ","),
	)
	if err != nil {
		return 0, fmt.Errorf("insert history entry: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first. limit <= 0 means 20.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, started_at, duration_ms, update_count, forced, trigger_name, error, package_ids
		FROM checks
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			startedAt  string
			durationMS int64
			forced     int
			packageIDs string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &startedAt, &durationMS, &e.UpdateCount, &forced, &e.Trigger, &e.Error, &packageIDs); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.Forced = forced != 0
		if packageIDs != "" {
			e.PackageIDs = strings.Split(packageIDs, ",")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes all but the newest keep entries and returns how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checks WHERE id NOT IN (
			SELECT id FROM checks ORDER BY started_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
