// Package sqlite is the default storage adapter: a single-file durable
// store on modernc.org/sqlite (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// New opens (or creates) the database file and migrates the schema.
func New(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps the foreign_keys pragma in force and
	// serializes writers, which sqlite wants anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	token     TEXT PRIMARY KEY,
	credits   INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
	created   TEXT NOT NULL,
	last_used TEXT
);

CREATE TABLE IF NOT EXISTS canonical_targets (
	cid        TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	probe_type TEXT NOT NULL DEFAULT 'http',
	last_probe TEXT,
	last_ok    INTEGER NOT NULL DEFAULT 0,
	next_run   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_targets_next_run ON canonical_targets (next_run);

CREATE TABLE IF NOT EXISTS watchers (
	wid      TEXT PRIMARY KEY,
	cid      TEXT NOT NULL REFERENCES canonical_targets(cid) ON DELETE CASCADE,
	token    TEXT NOT NULL REFERENCES sessions(token) ON DELETE CASCADE,
	interval INTEGER NOT NULL,
	enabled  INTEGER NOT NULL DEFAULT 1,
	created  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watchers_cid ON watchers (cid);
CREATE INDEX IF NOT EXISTS idx_watchers_token ON watchers (token);

CREATE TABLE IF NOT EXISTS ledger (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      TEXT NOT NULL,
	action  TEXT NOT NULL,
	token   TEXT NOT NULL,
	cid     TEXT,
	wid     TEXT,
	amount  INTEGER NOT NULL,
	balance INTEGER NOT NULL,
	note    TEXT
);
CREATE INDEX IF NOT EXISTS idx_ledger_token_ts ON ledger (token, ts DESC);

CREATE TABLE IF NOT EXISTS target_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	cid         TEXT NOT NULL REFERENCES canonical_targets(cid) ON DELETE CASCADE,
	ts          TEXT NOT NULL,
	status      TEXT NOT NULL,
	http_status INTEGER,
	latency_ms  REAL,
	size_bytes  INTEGER,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_target_results_cid_id ON target_results (cid, id DESC);

CREATE TABLE IF NOT EXISTS watcher_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	token       TEXT NOT NULL,
	wid         TEXT NOT NULL,
	cid         TEXT NOT NULL,
	ts          TEXT NOT NULL,
	status      TEXT NOT NULL,
	http_status INTEGER,
	latency_ms  REAL,
	size_bytes  INTEGER,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_watcher_results_token_wid_id ON watcher_results (token, wid, id DESC);

CREATE TABLE IF NOT EXISTS target_stats (
	cid            TEXT PRIMARY KEY REFERENCES canonical_targets(cid) ON DELETE CASCADE,
	checks_total   INTEGER NOT NULL DEFAULT 0,
	checks_ok      INTEGER NOT NULL DEFAULT 0,
	avg_latency_ms REAL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Fixed-width fractional seconds: next_run is compared and ordered as
// TEXT in SQL, so string order must equal time order. RFC3339Nano
// trims trailing zeros and breaks that within a second.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// ---- SessionStore ----

func (s *Store) GetSession(ctx context.Context, token domain.Token) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, credits, created, last_used FROM sessions WHERE token = ?`, string(token))
	var sess domain.Session
	var created string
	var lastUsed sql.NullString
	if err := row.Scan(&sess.Token, &sess.Credits, &created, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	sess.Created = parseTime(created)
	sess.LastUsed = parseNullTime(lastUsed)
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token domain.Token) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, string(token))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- TargetStore ----

func (s *Store) EnsureTarget(ctx context.Context, t *domain.Target) (*domain.Target, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO canonical_targets (cid, url, probe_type, last_ok, next_run)
VALUES (?, ?, ?, 0, ?)
ON CONFLICT(cid) DO NOTHING`,
		string(t.CID), t.URL, string(t.ProbeType), fmtTime(t.NextRun))
	if err != nil {
		return nil, fmt.Errorf("insert target: %w", err)
	}
	return s.GetTarget(ctx, t.CID)
}

func (s *Store) GetTarget(ctx context.Context, cid domain.CID) (*domain.Target, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT cid, url, probe_type, last_probe, last_ok, next_run
FROM canonical_targets WHERE cid = ?`, string(cid))
	t, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("select target: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (*domain.Target, error) {
	var t domain.Target
	var lastProbe sql.NullString
	var lastOK int
	var nextRun string
	if err := row.Scan(&t.CID, &t.URL, &t.ProbeType, &lastProbe, &lastOK, &nextRun); err != nil {
		return nil, err
	}
	t.LastProbe = parseNullTime(lastProbe)
	t.LastOK = lastOK != 0
	t.NextRun = parseTime(nextRun)
	return &t, nil
}

func (s *Store) ListTargets(ctx context.Context) ([]domain.Target, error) {
	return s.queryTargets(ctx, `
SELECT cid, url, probe_type, last_probe, last_ok, next_run
FROM canonical_targets ORDER BY url`)
}

func (s *Store) DueTargets(ctx context.Context, now time.Time) ([]domain.Target, error) {
	return s.queryTargets(ctx, `
SELECT cid, url, probe_type, last_probe, last_ok, next_run
FROM canonical_targets WHERE next_run <= ? ORDER BY next_run ASC`, fmtTime(now))
}

func (s *Store) queryTargets(ctx context.Context, query string, args ...any) ([]domain.Target, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) MarkProbed(ctx context.Context, cid domain.CID, at time.Time, ok bool, nextRun time.Time) error {
	okInt := 0
	if ok {
		okInt = 1
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE canonical_targets SET last_probe = ?, last_ok = ?, next_run = ? WHERE cid = ?`,
		fmtTime(at), okInt, fmtTime(nextRun), string(cid))
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- WatcherStore ----

func (s *Store) CreateWatcher(ctx context.Context, w *domain.Watcher) error {
	// FK violations (missing session or target) come back as a
	// constraint error; the registry treats those as not-found.
	_, err := s.db.ExecContext(ctx, `
INSERT INTO watchers (wid, cid, token, interval, enabled, created)
VALUES (?, ?, ?, ?, ?, ?)`,
		string(w.WID), string(w.CID), string(w.Token), w.Interval, boolInt(w.Enabled), fmtTime(w.Created))
	if err != nil {
		if isConstraintErr(err) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("insert watcher: %w", err)
	}
	return nil
}

func (s *Store) GetWatcher(ctx context.Context, wid domain.WID) (*domain.Watcher, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT wid, cid, token, interval, enabled, created FROM watchers WHERE wid = ?`, string(wid))
	w, err := scanWatcher(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("select watcher: %w", err)
	}
	return w, nil
}

func scanWatcher(row rowScanner) (*domain.Watcher, error) {
	var w domain.Watcher
	var enabled int
	var created string
	if err := row.Scan(&w.WID, &w.CID, &w.Token, &w.Interval, &enabled, &created); err != nil {
		return nil, err
	}
	w.Enabled = enabled != 0
	w.Created = parseTime(created)
	return &w, nil
}

func (s *Store) WatchersByTarget(ctx context.Context, cid domain.CID) ([]domain.Watcher, error) {
	return s.queryWatchers(ctx, `
SELECT wid, cid, token, interval, enabled, created FROM watchers WHERE cid = ? ORDER BY created`, string(cid))
}

func (s *Store) WatchersByToken(ctx context.Context, token domain.Token) ([]domain.Watcher, error) {
	return s.queryWatchers(ctx, `
SELECT wid, cid, token, interval, enabled, created FROM watchers WHERE token = ? ORDER BY created`, string(token))
}

func (s *Store) queryWatchers(ctx context.Context, query string, args ...any) ([]domain.Watcher, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	defer rows.Close()

	var out []domain.Watcher
	for rows.Next() {
		w, err := scanWatcher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *Store) SetWatcherEnabled(ctx context.Context, wid domain.WID, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchers SET enabled = ? WHERE wid = ?`, boolInt(enabled), string(wid))
	if err != nil {
		return fmt.Errorf("update watcher: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraintErr(err error) bool {
	// modernc.org/sqlite reports constraint violations in the message;
	// good enough to classify FK failures on watcher insert.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "FOREIGN KEY")
}
