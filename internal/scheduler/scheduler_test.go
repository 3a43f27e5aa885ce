package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/ledger"
	"github.com/probeworks/probemeter/internal/repo/memory"
	"github.com/probeworks/probemeter/internal/sink"
)

// --- fakes ---

type countingChecker struct {
	mu       sync.Mutex
	n        int
	inflight int
	peak     int
	delay    time.Duration
}

func (c *countingChecker) Check(ctx context.Context, t domain.Target) domain.ProbeResult {
	c.mu.Lock()
	c.n++
	c.inflight++
	if c.inflight > c.peak {
		c.peak = c.inflight
	}
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
	return domain.ProbeResult{TS: time.Now().UTC(), Status: domain.StatusOK, HTTPStatus: 200, LatencyMS: 1}
}

// --- helpers ---

type fixture struct {
	store  *memory.Store
	engine *Engine
	chk    *countingChecker
}

func newFixture(t *testing.T, concurrency int, pauseFile string) *fixture {
	t.Helper()
	store := memory.New()
	chk := &countingChecker{}
	lg := ledger.New(store, zap.NewNop(), nil)
	e := New(zap.NewNop(), store, store, lg, sink.New(store), chk,
		time.Millisecond, 30*time.Second, concurrency, pauseFile)
	return &fixture{store: store, engine: e, chk: chk}
}

func (f *fixture) addWatcher(t *testing.T, token domain.Token, credits int64, cid domain.CID, wid domain.WID, enabled bool) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := f.store.Credit(ctx, token, credits, now); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := f.store.EnsureTarget(ctx, &domain.Target{
		CID: cid, URL: "http://" + string(cid), ProbeType: domain.ProbeHTTP, NextRun: now.Add(-time.Second),
	}); err != nil {
		t.Fatalf("ensure target: %v", err)
	}
	w := &domain.Watcher{WID: wid, CID: cid, Token: token, Interval: 60, Enabled: enabled, Created: now}
	if err := f.store.CreateWatcher(ctx, w); err != nil {
		t.Fatalf("create watcher: %v", err)
	}
}

// --- tests ---

func TestRunOnce_ProbesFansOutAndDebits(t *testing.T) {
	f := newFixture(t, 2, "")
	ctx := context.Background()

	f.addWatcher(t, "tok-a", 5, "c1", "w-a", true)
	f.addWatcher(t, "tok-b", 5, "c1", "w-b", true)

	f.engine.runOnce(ctx)

	// One shared target, one probe.
	if f.chk.n != 1 {
		t.Fatalf("want exactly 1 probe for the shared target, got %d", f.chk.n)
	}

	// Each enabled watcher got a history row and a one-credit debit.
	for _, tc := range []struct {
		token domain.Token
		wid   domain.WID
	}{{"tok-a", "w-a"}, {"tok-b", "w-b"}} {
		recs, err := f.store.WatcherResults(ctx, tc.token, tc.wid, 10)
		if err != nil {
			t.Fatalf("watcher results: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("watcher %s: want 1 record, got %d", tc.wid, len(recs))
		}
		s, _ := f.store.GetSession(ctx, tc.token)
		if s.Credits != 4 {
			t.Fatalf("watcher %s: want balance 4, got %d", tc.wid, s.Credits)
		}
	}

	// The target's schedule advanced past now.
	tgt, err := f.store.GetTarget(ctx, "c1")
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if tgt.LastProbe == nil || !tgt.LastOK || !tgt.NextRun.After(time.Now().UTC().Add(20*time.Second)) {
		t.Fatalf("schedule not advanced: %+v", tgt)
	}

	// Second pass: nothing due anymore.
	f.engine.runOnce(ctx)
	if f.chk.n != 1 {
		t.Fatalf("target probed again before its cadence: %d", f.chk.n)
	}
}

func TestRunOnce_DisabledWatcherSkipped(t *testing.T) {
	f := newFixture(t, 2, "")
	ctx := context.Background()

	f.addWatcher(t, "tok-on", 5, "c1", "w-on", true)
	f.addWatcher(t, "tok-off", 5, "c1", "w-off", false)

	f.engine.runOnce(ctx)

	recs, _ := f.store.WatcherResults(ctx, "tok-off", "w-off", 10)
	if len(recs) != 0 {
		t.Fatalf("disabled watcher received results: %+v", recs)
	}
	s, _ := f.store.GetSession(ctx, "tok-off")
	if s.Credits != 5 {
		t.Fatalf("disabled watcher was charged: %d", s.Credits)
	}
	s, _ = f.store.GetSession(ctx, "tok-on")
	if s.Credits != 4 {
		t.Fatalf("enabled watcher not charged: %d", s.Credits)
	}
}

func TestRunOnce_InsufficientFundsStillDeliversHistory(t *testing.T) {
	f := newFixture(t, 2, "")
	ctx := context.Background()

	f.addWatcher(t, "tok-poor", 1, "c1", "w-poor", true)
	f.store.Debit(ctx, "tok-poor", 1, "c1", "w-poor", time.Now().UTC())

	f.engine.runOnce(ctx)

	recs, _ := f.store.WatcherResults(ctx, "tok-poor", "w-poor", 10)
	if len(recs) != 1 {
		t.Fatalf("result should still be delivered, got %d rows", len(recs))
	}
	entries, _ := f.store.LedgerEntries(ctx, "tok-poor", 1)
	if len(entries) != 1 || entries[0].Action != domain.ActionFailedCharge {
		t.Fatalf("latest ledger row should be the refusal: %+v", entries)
	}
	w, err := f.store.GetWatcher(ctx, "w-poor")
	if err != nil || !w.Enabled {
		t.Fatalf("broke watcher stays registered and enabled: %+v err=%v", w, err)
	}
}

func TestRunOnce_ConcurrencyBounded(t *testing.T) {
	f := newFixture(t, 2, "")
	f.chk.delay = 20 * time.Millisecond
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		cid := domain.CID(string(rune('a' + i)))
		f.addWatcher(t, domain.Token("tok-"+string(cid)), 5, cid, domain.WID("w-"+string(cid)), true)
	}

	f.engine.runOnce(ctx)

	if f.chk.n != 6 {
		t.Fatalf("want all 6 targets probed, got %d", f.chk.n)
	}
	if f.chk.peak > 2 {
		t.Fatalf("concurrency bound violated: peak %d", f.chk.peak)
	}
}

func TestRunOnce_PauseFileHaltsDispatch(t *testing.T) {
	pause := filepath.Join(t.TempDir(), "EMERGENCY_PAUSE")
	f := newFixture(t, 2, pause)
	ctx := context.Background()

	f.addWatcher(t, "tok", 5, "c1", "w1", true)

	if err := os.WriteFile(pause, nil, 0o644); err != nil {
		t.Fatalf("write pause file: %v", err)
	}
	f.engine.runOnce(ctx)
	if f.chk.n != 0 {
		t.Fatalf("probes dispatched while paused: %d", f.chk.n)
	}

	// Removing the marker resumes on the next pass, no restart needed.
	if err := os.Remove(pause); err != nil {
		t.Fatalf("remove pause file: %v", err)
	}
	f.engine.runOnce(ctx)
	if f.chk.n != 1 {
		t.Fatalf("want 1 probe after resume, got %d", f.chk.n)
	}
}

func TestRun_LoopExecutesImmediatePass(t *testing.T) {
	f := newFixture(t, 1, "")
	f.addWatcher(t, "tok", 5, "c1", "w1", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.engine.Run(ctx)

	// Wait a tiny bit for the immediate pass to execute.
	time.Sleep(20 * time.Millisecond)
	f.chk.mu.Lock()
	n := f.chk.n
	f.chk.mu.Unlock()
	if n == 0 {
		t.Fatalf("expected at least one probe from the immediate pass")
	}
}
