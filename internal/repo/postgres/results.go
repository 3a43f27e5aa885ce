package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo"
)

func (s *Store) AppendTargetResult(ctx context.Context, cid domain.CID, r domain.ProbeResult) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO target_results (cid, ts, status, http_status, latency_ms, size_bytes, error)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		string(cid), r.TS, string(r.Status), r.HTTPStatus, r.LatencyMS, r.SizeBytes, r.ErrorText)
	if err != nil {
		return fmt.Errorf("insert target result: %w", err)
	}
	return nil
}

func (s *Store) AppendWatcherResult(ctx context.Context, token domain.Token, rec domain.FanoutRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO watcher_results (token, wid, cid, ts, status, http_status, latency_ms, size_bytes, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`,
		string(token), string(rec.WID), string(rec.CID), rec.TS,
		string(rec.Probe.Status), rec.Probe.HTTPStatus, rec.Probe.LatencyMS, rec.Probe.SizeBytes, rec.Probe.ErrorText)
	if err != nil {
		return fmt.Errorf("insert watcher result: %w", err)
	}
	return nil
}

func (s *Store) TargetResults(ctx context.Context, cid domain.CID, limit int) ([]domain.ProbeResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT ts, status, COALESCE(http_status, 0), COALESCE(latency_ms, 0), COALESCE(size_bytes, 0), COALESCE(error, '')
FROM target_results WHERE cid = $1 ORDER BY id DESC LIMIT $2`, string(cid), limit)
	if err != nil {
		return nil, fmt.Errorf("query target results: %w", err)
	}
	defer rows.Close()

	var out []domain.ProbeResult
	for rows.Next() {
		var r domain.ProbeResult
		if err := rows.Scan(&r.TS, &r.Status, &r.HTTPStatus, &r.LatencyMS, &r.SizeBytes, &r.ErrorText); err != nil {
			return nil, fmt.Errorf("scan target result: %w", err)
		}
		out = append(out, r)
	}
	reverse(out)
	return out, rows.Err()
}

func (s *Store) WatcherResults(ctx context.Context, token domain.Token, wid domain.WID, limit int) ([]domain.FanoutRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT wid, cid, ts, status, COALESCE(http_status, 0), COALESCE(latency_ms, 0), COALESCE(size_bytes, 0), COALESCE(error, '')
FROM watcher_results WHERE token = $1 AND wid = $2 ORDER BY id DESC LIMIT $3`,
		string(token), string(wid), limit)
	if err != nil {
		return nil, fmt.Errorf("query watcher results: %w", err)
	}
	defer rows.Close()

	var out []domain.FanoutRecord
	for rows.Next() {
		var rec domain.FanoutRecord
		if err := rows.Scan(&rec.WID, &rec.CID, &rec.TS, &rec.Probe.Status,
			&rec.Probe.HTTPStatus, &rec.Probe.LatencyMS, &rec.Probe.SizeBytes, &rec.Probe.ErrorText); err != nil {
			return nil, fmt.Errorf("scan watcher result: %w", err)
		}
		rec.Probe.TS = rec.TS
		out = append(out, rec)
	}
	reverse(out)
	return out, rows.Err()
}

func (s *Store) TargetStats(ctx context.Context, cid domain.CID) (*domain.TargetStats, error) {
	var st domain.TargetStats
	err := s.pool.QueryRow(ctx, `
SELECT cid, checks_total, checks_ok, avg_latency_ms FROM target_stats WHERE cid = $1`,
		string(cid)).Scan(&st.CID, &st.ChecksTotal, &st.ChecksOK, &st.AvgLatencyMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select stats: %w", err)
	}
	return &st, nil
}

func (s *Store) PutTargetStats(ctx context.Context, st *domain.TargetStats) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO target_stats (cid, checks_total, checks_ok, avg_latency_ms)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cid) DO UPDATE SET checks_total = EXCLUDED.checks_total,
	checks_ok = EXCLUDED.checks_ok, avg_latency_ms = EXCLUDED.avg_latency_ms`,
		string(st.CID), st.ChecksTotal, st.ChecksOK, st.AvgLatencyMS)
	if err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

func reverse[T any](in []T) {
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}
}
