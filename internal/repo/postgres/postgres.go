// Package postgres is the pgx-backed storage adapter, selected by
// DATABASE_URL for deployments that already run postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	token     TEXT PRIMARY KEY,
	credits   BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
	created   TIMESTAMPTZ NOT NULL,
	last_used TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS canonical_targets (
	cid        TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	probe_type TEXT NOT NULL DEFAULT 'http',
	last_probe TIMESTAMPTZ,
	last_ok    BOOLEAN NOT NULL DEFAULT FALSE,
	next_run   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_targets_next_run ON canonical_targets (next_run);

CREATE TABLE IF NOT EXISTS watchers (
	wid      TEXT PRIMARY KEY,
	cid      TEXT NOT NULL REFERENCES canonical_targets(cid) ON DELETE CASCADE,
	token    TEXT NOT NULL REFERENCES sessions(token) ON DELETE CASCADE,
	interval INTEGER NOT NULL,
	enabled  BOOLEAN NOT NULL DEFAULT TRUE,
	created  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watchers_cid ON watchers (cid);
CREATE INDEX IF NOT EXISTS idx_watchers_token ON watchers (token);

CREATE TABLE IF NOT EXISTS ledger (
	id      BIGSERIAL PRIMARY KEY,
	ts      TIMESTAMPTZ NOT NULL,
	action  TEXT NOT NULL,
	token   TEXT NOT NULL,
	cid     TEXT,
	wid     TEXT,
	amount  BIGINT NOT NULL,
	balance BIGINT NOT NULL,
	note    TEXT
);
CREATE INDEX IF NOT EXISTS idx_ledger_token_ts ON ledger (token, ts DESC);

CREATE TABLE IF NOT EXISTS target_results (
	id          BIGSERIAL PRIMARY KEY,
	cid         TEXT NOT NULL REFERENCES canonical_targets(cid) ON DELETE CASCADE,
	ts          TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	http_status INTEGER,
	latency_ms  DOUBLE PRECISION,
	size_bytes  BIGINT,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_target_results_cid_id ON target_results (cid, id DESC);

CREATE TABLE IF NOT EXISTS watcher_results (
	id          BIGSERIAL PRIMARY KEY,
	token       TEXT NOT NULL,
	wid         TEXT NOT NULL,
	cid         TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	http_status INTEGER,
	latency_ms  DOUBLE PRECISION,
	size_bytes  BIGINT,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_watcher_results_token_wid_id ON watcher_results (token, wid, id DESC);

CREATE TABLE IF NOT EXISTS target_stats (
	cid            TEXT PRIMARY KEY REFERENCES canonical_targets(cid) ON DELETE CASCADE,
	checks_total   BIGINT NOT NULL DEFAULT 0,
	checks_ok      BIGINT NOT NULL DEFAULT 0,
	avg_latency_ms DOUBLE PRECISION
);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	// 23503 foreign_key_violation
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// ---- SessionStore ----

func (s *Store) GetSession(ctx context.Context, token domain.Token) (*domain.Session, error) {
	var sess domain.Session
	err := s.pool.QueryRow(ctx,
		`SELECT token, credits, created, last_used FROM sessions WHERE token = $1`,
		string(token)).Scan(&sess.Token, &sess.Credits, &sess.Created, &sess.LastUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token domain.Token) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, string(token))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- TargetStore ----

func (s *Store) EnsureTarget(ctx context.Context, t *domain.Target) (*domain.Target, error) {
	_, err := s.pool.Exec(ctx, `
INSERT INTO canonical_targets (cid, url, probe_type, last_ok, next_run)
VALUES ($1, $2, $3, FALSE, $4)
ON CONFLICT (cid) DO NOTHING`,
		string(t.CID), t.URL, string(t.ProbeType), t.NextRun)
	if err != nil {
		return nil, fmt.Errorf("insert target: %w", err)
	}
	return s.GetTarget(ctx, t.CID)
}

func (s *Store) GetTarget(ctx context.Context, cid domain.CID) (*domain.Target, error) {
	var t domain.Target
	err := s.pool.QueryRow(ctx, `
SELECT cid, url, probe_type, last_probe, last_ok, next_run
FROM canonical_targets WHERE cid = $1`, string(cid)).
		Scan(&t.CID, &t.URL, &t.ProbeType, &t.LastProbe, &t.LastOK, &t.NextRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select target: %w", err)
	}
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
FROM canonical_targets WHERE next_run <= $1 ORDER BY next_run ASC`, now)
}

func (s *Store) queryTargets(ctx context.Context, query string, args ...any) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		var t domain.Target
		if err := rows.Scan(&t.CID, &t.URL, &t.ProbeType, &t.LastProbe, &t.LastOK, &t.NextRun); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) MarkProbed(ctx context.Context, cid domain.CID, at time.Time, ok bool, nextRun time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE canonical_targets SET last_probe = $1, last_ok = $2, next_run = $3 WHERE cid = $4`,
		at, ok, nextRun, string(cid))
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- WatcherStore ----

func (s *Store) CreateWatcher(ctx context.Context, w *domain.Watcher) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO watchers (wid, cid, token, interval, enabled, created)
VALUES ($1, $2, $3, $4, $5, $6)`,
		string(w.WID), string(w.CID), string(w.Token), w.Interval, w.Enabled, w.Created)
	if err != nil {
		if isFKViolation(err) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("insert watcher: %w", err)
	}
	return nil
}

func (s *Store) GetWatcher(ctx context.Context, wid domain.WID) (*domain.Watcher, error) {
	var w domain.Watcher
	err := s.pool.QueryRow(ctx, `
SELECT wid, cid, token, interval, enabled, created FROM watchers WHERE wid = $1`, string(wid)).
		Scan(&w.WID, &w.CID, &w.Token, &w.Interval, &w.Enabled, &w.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select watcher: %w", err)
	}
	return &w, nil
}

func (s *Store) WatchersByTarget(ctx context.Context, cid domain.CID) ([]domain.Watcher, error) {
	return s.queryWatchers(ctx, `
SELECT wid, cid, token, interval, enabled, created FROM watchers WHERE cid = $1 ORDER BY created`, string(cid))
}

func (s *Store) WatchersByToken(ctx context.Context, token domain.Token) ([]domain.Watcher, error) {
	return s.queryWatchers(ctx, `
SELECT wid, cid, token, interval, enabled, created FROM watchers WHERE token = $1 ORDER BY created`, string(token))
}

func (s *Store) queryWatchers(ctx context.Context, query string, args ...any) ([]domain.Watcher, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	defer rows.Close()

	var out []domain.Watcher
	for rows.Next() {
		var w domain.Watcher
		if err := rows.Scan(&w.WID, &w.CID, &w.Token, &w.Interval, &w.Enabled, &w.Created); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) SetWatcherEnabled(ctx context.Context, wid domain.WID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watchers SET enabled = $1 WHERE wid = $2`, enabled, string(wid))
	if err != nil {
		return fmt.Errorf("update watcher: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
