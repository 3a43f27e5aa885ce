// Package sink appends probe history and keeps per-target rolling
// aggregates current.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo"
)

type Sink struct {
	store repo.ResultStore
}

func New(store repo.ResultStore) *Sink {
	return &Sink{store: store}
}

// RecordTarget appends the result to the target's history and folds it
// into the rolling aggregate. No locking: the scheduler guarantees at
// most one in-flight probe per target.
func (s *Sink) RecordTarget(ctx context.Context, cid domain.CID, r domain.ProbeResult) error {
	if err := s.store.AppendTargetResult(ctx, cid, r); err != nil {
		return fmt.Errorf("append target result: %w", err)
	}

	stats, err := s.store.TargetStats(ctx, cid)
	if errors.Is(err, repo.ErrNotFound) {
		stats = &domain.TargetStats{CID: cid}
	} else if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}

	stats.ChecksTotal++
	if r.OK() {
		stats.ChecksOK++
		if stats.AvgLatencyMS == nil {
			v := r.LatencyMS
			stats.AvgLatencyMS = &v
		} else {
			// incremental mean over successful checks only
			v := (*stats.AvgLatencyMS*float64(stats.ChecksOK-1) + r.LatencyMS) / float64(stats.ChecksOK)
			stats.AvgLatencyMS = &v
		}
	}
	if err := s.store.PutTargetStats(ctx, stats); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// RecordWatcher appends one fan-out row to the (token, watcher) history.
func (s *Sink) RecordWatcher(ctx context.Context, w domain.Watcher, r domain.ProbeResult) error {
	rec := domain.FanoutRecord{
		TS:    r.TS,
		WID:   w.WID,
		CID:   w.CID,
		Probe: r,
	}
	if err := s.store.AppendWatcherResult(ctx, w.Token, rec); err != nil {
		return fmt.Errorf("append watcher result: %w", err)
	}
	return nil
}
