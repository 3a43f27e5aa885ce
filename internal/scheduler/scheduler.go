package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/ledger"
	"github.com/probeworks/probemeter/internal/metrics"
	"github.com/probeworks/probemeter/internal/probe"
	"github.com/probeworks/probemeter/internal/repo"
	"github.com/probeworks/probemeter/internal/sink"
)

// Engine drives the probe cadence: once per tick it selects due
// canonical targets, probes them under a bounded worker pool, advances
// their scheduling state, and fans each result out to every enabled
// watcher with a one-credit debit per delivery.
type Engine struct {
	Logger      *zap.Logger
	Targets     repo.TargetStore
	Watchers    repo.WatcherStore
	Ledger      *ledger.Service
	Sink        *sink.Sink
	Checker     probe.Checker
	Tick        time.Duration // sleep between selection passes
	MinInterval time.Duration // cadence floor shared by all targets
	Concurrency int           // max probes in flight
	PauseFile   string        // emergency pause marker
	Cost        int64         // credits per delivered result
}

func New(
	logger *zap.Logger,
	targets repo.TargetStore,
	watchers repo.WatcherStore,
	lg *ledger.Service,
	sk *sink.Sink,
	checker probe.Checker,
	tick, minInterval time.Duration,
	concurrency int,
	pauseFile string,
) *Engine {
	if tick <= 0 {
		tick = time.Second
	}
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	if concurrency < 1 {
		concurrency = 4
	}
	return &Engine{
		Logger:      logger,
		Targets:     targets,
		Watchers:    watchers,
		Ledger:      lg,
		Sink:        sk,
		Checker:     checker,
		Tick:        tick,
		MinInterval: minInterval,
		Concurrency: concurrency,
		PauseFile:   pauseFile,
		Cost:        1,
	}
}

// Run loops until ctx is cancelled. One broken target never stalls the
// fleet: persistence errors are logged and that target waits for the
// next tick.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(e.Tick)
	defer t.Stop()

	e.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			e.Logger.Info("scheduler_stopped")
			return
		case <-t.C:
			e.runOnce(ctx)
		}
	}
}

// Paused reports whether the emergency pause marker is present. While
// set, no new probes dispatch and no scheduling state changes; in-flight
// probes are not aborted.
func (e *Engine) Paused() bool {
	if e.PauseFile == "" {
		return false
	}
	_, err := os.Stat(e.PauseFile)
	return err == nil
}

func (e *Engine) runOnce(ctx context.Context) {
	if e.Paused() {
		e.Logger.Info("scheduler_paused")
		return
	}

	due, err := e.Targets.DueTargets(ctx, time.Now().UTC())
	if err != nil {
		e.Logger.Warn("scheduler_due_query_error", zap.Error(err))
		return
	}
	metrics.SchedulerTicks.Inc()
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, e.Concurrency)
	var wg sync.WaitGroup

	for _, tgt := range due {
		t := tgt
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func() {
			defer func() { <-sem }()
			defer wg.Done()
			e.handleTarget(ctx, t)
		}()
	}

	wg.Wait()
}

func (e *Engine) handleTarget(ctx context.Context, t domain.Target) {
	metrics.ProbesInFlight.Inc()
	res := e.Checker.Check(ctx, t)
	metrics.ProbesInFlight.Dec()
	metrics.ProbesTotal.WithLabelValues(string(res.Status)).Inc()

	now := time.Now().UTC()
	if err := e.Targets.MarkProbed(ctx, t.CID, now, res.OK(), now.Add(e.MinInterval)); err != nil {
		// skip the whole fan-out for this tick; the target stays due
		e.Logger.Warn("scheduler_mark_probed_error",
			zap.String("cid", string(t.CID)),
			zap.Error(err),
		)
		return
	}

	if err := e.Sink.RecordTarget(ctx, t.CID, res); err != nil {
		e.Logger.Warn("scheduler_record_target_error",
			zap.String("cid", string(t.CID)),
			zap.Error(err),
		)
	}

	e.Logger.Debug("scheduler_probe_done",
		zap.String("cid", string(t.CID)),
		zap.String("url", t.URL),
		zap.String("status", string(res.Status)),
		zap.Int("http_status", res.HTTPStatus),
		zap.Float64("latency_ms", res.LatencyMS),
	)

	e.fanOut(ctx, t, res)
}

// fanOut delivers the result to every enabled watcher of the target:
// one history row and one debit each. Balance mutations go through the
// ledger only — never a read-then-write here.
func (e *Engine) fanOut(ctx context.Context, t domain.Target, res domain.ProbeResult) {
	watchers, err := e.Watchers.WatchersByTarget(ctx, t.CID)
	if err != nil {
		e.Logger.Warn("scheduler_watcher_query_error",
			zap.String("cid", string(t.CID)),
			zap.Error(err),
		)
		return
	}

	for _, w := range watchers {
		if !w.Enabled {
			continue
		}
		if err := e.Sink.RecordWatcher(ctx, w, res); err != nil {
			e.Logger.Warn("scheduler_record_watcher_error",
				zap.String("wid", string(w.WID)),
				zap.Error(err),
			)
		}
		entry, err := e.Ledger.Debit(ctx, w.Token, e.Cost, w.CID, w.WID)
		switch {
		case errors.Is(err, repo.ErrInsufficientFunds):
			// already recorded in the ledger; the watcher stays enabled
		case err != nil:
			e.Logger.Warn("scheduler_debit_error",
				zap.String("wid", string(w.WID)),
				zap.Error(err),
			)
		default:
			e.Logger.Debug("scheduler_consume",
				zap.String("wid", string(w.WID)),
				zap.Int64("balance", entry.Balance),
			)
		}
	}
}
