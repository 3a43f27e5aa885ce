package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo"
)

func (s *Store) AppendTargetResult(ctx context.Context, cid domain.CID, r domain.ProbeResult) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO target_results (cid, ts, status, http_status, latency_ms, size_bytes, error)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(cid), fmtTime(r.TS), string(r.Status), r.HTTPStatus, r.LatencyMS, r.SizeBytes, nullStr(r.ErrorText))
	if err != nil {
		return fmt.Errorf("insert target result: %w", err)
	}
	return nil
}

func (s *Store) AppendWatcherResult(ctx context.Context, token domain.Token, rec domain.FanoutRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO watcher_results (token, wid, cid, ts, status, http_status, latency_ms, size_bytes, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(token), string(rec.WID), string(rec.CID), fmtTime(rec.TS),
		string(rec.Probe.Status), rec.Probe.HTTPStatus, rec.Probe.LatencyMS, rec.Probe.SizeBytes, nullStr(rec.Probe.ErrorText))
	if err != nil {
		return fmt.Errorf("insert watcher result: %w", err)
	}
	return nil
}

func (s *Store) TargetResults(ctx context.Context, cid domain.CID, limit int) ([]domain.ProbeResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT ts, status, http_status, latency_ms, size_bytes, error
FROM target_results WHERE cid = ? ORDER BY id DESC LIMIT ?`, string(cid), limit)
	if err != nil {
		return nil, fmt.Errorf("query target results: %w", err)
	}
	defer rows.Close()

	var out []domain.ProbeResult
	for rows.Next() {
		r, err := scanProbe(rows)
		if err != nil {
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
	rows, err := s.db.QueryContext(ctx, `
SELECT wid, cid, ts, status, http_status, latency_ms, size_bytes, error
FROM watcher_results WHERE token = ? AND wid = ? ORDER BY id DESC LIMIT ?`,
		string(token), string(wid), limit)
	if err != nil {
		return nil, fmt.Errorf("query watcher results: %w", err)
	}
	defer rows.Close()

	var out []domain.FanoutRecord
	for rows.Next() {
		var rec domain.FanoutRecord
		var ts string
		var httpStatus sql.NullInt64
		var latency sql.NullFloat64
		var size sql.NullInt64
		var errText sql.NullString
		if err := rows.Scan(&rec.WID, &rec.CID, &ts, &rec.Probe.Status, &httpStatus, &latency, &size, &errText); err != nil {
			return nil, fmt.Errorf("scan watcher result: %w", err)
		}
		rec.TS = parseTime(ts)
		rec.Probe.TS = rec.TS
		rec.Probe.HTTPStatus = int(httpStatus.Int64)
		rec.Probe.LatencyMS = latency.Float64
		rec.Probe.SizeBytes = size.Int64
		rec.Probe.ErrorText = errText.String
		out = append(out, rec)
	}
	reverse(out)
	return out, rows.Err()
}

func scanProbe(rows *sql.Rows) (domain.ProbeResult, error) {
	var r domain.ProbeResult
	var ts string
	var httpStatus sql.NullInt64
	var latency sql.NullFloat64
	var size sql.NullInt64
	var errText sql.NullString
	if err := rows.Scan(&ts, &r.Status, &httpStatus, &latency, &size, &errText); err != nil {
		return r, err
	}
	r.TS = parseTime(ts)
	r.HTTPStatus = int(httpStatus.Int64)
	r.LatencyMS = latency.Float64
	r.SizeBytes = size.Int64
	r.ErrorText = errText.String
	return r, nil
}

func (s *Store) TargetStats(ctx context.Context, cid domain.CID) (*domain.TargetStats, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT cid, checks_total, checks_ok, avg_latency_ms FROM target_stats WHERE cid = ?`, string(cid))
	var st domain.TargetStats
	var avg sql.NullFloat64
	if err := row.Scan(&st.CID, &st.ChecksTotal, &st.ChecksOK, &avg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("select stats: %w", err)
	}
	if avg.Valid {
		v := avg.Float64
		st.AvgLatencyMS = &v
	}
	return &st, nil
}

func (s *Store) PutTargetStats(ctx context.Context, st *domain.TargetStats) error {
	var avg any
	if st.AvgLatencyMS != nil {
		avg = *st.AvgLatencyMS
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO target_stats (cid, checks_total, checks_ok, avg_latency_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(cid) DO UPDATE SET checks_total = excluded.checks_total,
	checks_ok = excluded.checks_ok, avg_latency_ms = excluded.avg_latency_ms`,
		string(st.CID), st.ChecksTotal, st.ChecksOK, avg)
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
