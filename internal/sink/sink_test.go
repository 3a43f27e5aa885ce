package sink

import (
	"context"
	"testing"
	"time"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo/memory"
)

func TestRecordTarget_IncrementalMeanOverSuccessesOnly(t *testing.T) {
	store := memory.New()
	s := New(store)
	ctx := context.Background()
	now := time.Now().UTC()

	results := []domain.ProbeResult{
		{TS: now, Status: domain.StatusOK, LatencyMS: 10},
		{TS: now, Status: domain.StatusOK, LatencyMS: 30},
		{TS: now, Status: domain.StatusError, ErrorText: "timeout"},
		{TS: now, Status: domain.StatusOK, LatencyMS: 20},
	}
	for _, r := range results {
		if err := s.RecordTarget(ctx, "c1", r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	st, err := store.TargetStats(ctx, "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ChecksTotal != 4 || st.ChecksOK != 3 {
		t.Fatalf("counts: %+v", st)
	}
	// (10+30+20)/3 — the failed probe must not drag the average.
	if st.AvgLatencyMS == nil || *st.AvgLatencyMS != 20 {
		t.Fatalf("avg latency: %+v", st.AvgLatencyMS)
	}

	hist, err := store.TargetResults(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 4 {
		t.Fatalf("want all 4 results in history, got %d", len(hist))
	}
}

func TestRecordTarget_AvgNilUntilFirstSuccess(t *testing.T) {
	store := memory.New()
	s := New(store)
	ctx := context.Background()

	r := domain.ProbeResult{TS: time.Now().UTC(), Status: domain.StatusError, ErrorText: "refused"}
	if err := s.RecordTarget(ctx, "c1", r); err != nil {
		t.Fatalf("record: %v", err)
	}

	st, err := store.TargetStats(ctx, "c1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ChecksTotal != 1 || st.ChecksOK != 0 || st.AvgLatencyMS != nil {
		t.Fatalf("stats after one failure: %+v", st)
	}
}

func TestRecordWatcher_BuildsFanoutRow(t *testing.T) {
	store := memory.New()
	s := New(store)
	ctx := context.Background()
	now := time.Now().UTC()

	w := domain.Watcher{WID: "w1", CID: "c1", Token: "tok", Interval: 60, Enabled: true, Created: now}
	r := domain.ProbeResult{TS: now, Status: domain.StatusOK, HTTPStatus: 204, LatencyMS: 12}
	if err := s.RecordWatcher(ctx, w, r); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := store.WatcherResults(ctx, "tok", "w1", 10)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(got) != 1 || got[0].WID != "w1" || got[0].CID != "c1" || got[0].Probe.HTTPStatus != 204 {
		t.Fatalf("fanout row: %+v", got)
	}
}
