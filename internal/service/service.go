// Package service implements the engine's transport-independent
// operations: registration, top-up, metering, and read projections.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/probeworks/probemeter/internal/canon"
	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/ledger"
	"github.com/probeworks/probemeter/internal/repo"
)

// ErrInvalidInput rejects malformed requests before any state change.
var ErrInvalidInput = errors.New("invalid input")

type Service struct {
	store  repo.Store
	ledger *ledger.Service
	log    *zap.Logger
}

func New(store repo.Store, lg *ledger.Service, log *zap.Logger) *Service {
	return &Service{store: store, ledger: lg, log: log}
}

// Registration is what a tenant gets back for a new watcher.
type Registration struct {
	WID           domain.WID `json:"wid"`
	CID           domain.CID `json:"cid"`
	NormalizedURL string     `json:"url"`
}

// RegisterWatcher resolves the URL to its canonical target (creating it
// lazily, eligible to probe immediately) and subscribes the session.
// Registering the same (token, url, interval) twice always creates two
// distinct watchers.
func (s *Service) RegisterWatcher(ctx context.Context, token domain.Token, rawURL string, interval int) (*Registration, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token required", ErrInvalidInput)
	}
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url required", ErrInvalidInput)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be > 0", ErrInvalidInput)
	}

	if _, err := s.store.GetSession(ctx, token); err != nil {
		return nil, err
	}

	normalized, probeType, err := canon.Normalize(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	cid := canon.CID(normalized)

	now := time.Now().UTC()
	target, err := s.store.EnsureTarget(ctx, &domain.Target{
		CID:       cid,
		URL:       normalized,
		ProbeType: probeType,
		NextRun:   now, // eligible immediately
	})
	if err != nil {
		return nil, fmt.Errorf("ensure target: %w", err)
	}

	w := &domain.Watcher{
		WID:      domain.WID(uuid.NewString()),
		CID:      target.CID,
		Token:    token,
		Interval: interval,
		Enabled:  true,
		Created:  now,
	}
	if err := s.store.CreateWatcher(ctx, w); err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	s.log.Info("watcher_registered",
		zap.String("token", string(token)),
		zap.String("wid", string(w.WID)),
		zap.String("cid", string(target.CID)),
		zap.String("url", normalized),
		zap.Int("interval", interval),
	)
	return &Registration{WID: w.WID, CID: target.CID, NormalizedURL: normalized}, nil
}

// TopUp adds credits, creating the session when token is empty. The
// caller is trusted to have verified payment.
func (s *Service) TopUp(ctx context.Context, token domain.Token, amount int64) (*domain.LedgerEntry, error) {
	return s.ledger.Credit(ctx, token, amount)
}

// Consume debits a watcher's session: the metering hook the scheduler
// calls per delivered result. Unknown watchers produce no ledger row.
func (s *Service) Consume(ctx context.Context, wid domain.WID, cost int64) (*domain.LedgerEntry, error) {
	w, err := s.store.GetWatcher(ctx, wid)
	if err != nil {
		return nil, err
	}
	return s.ledger.Debit(ctx, w.Token, cost, w.CID, w.WID)
}

func (s *Service) ListTargets(ctx context.Context) ([]domain.Target, error) {
	return s.store.ListTargets(ctx)
}

func (s *Service) ReportsForTarget(ctx context.Context, cid domain.CID, limit int) ([]domain.ProbeResult, error) {
	if _, err := s.store.GetTarget(ctx, cid); err != nil {
		return nil, err
	}
	return s.store.TargetResults(ctx, cid, limit)
}

func (s *Service) ReportsForWatcher(ctx context.Context, token domain.Token, wid domain.WID, limit int) ([]domain.FanoutRecord, error) {
	w, err := s.store.GetWatcher(ctx, wid)
	if err != nil {
		return nil, err
	}
	if w.Token != token {
		return nil, repo.ErrNotFound
	}
	return s.store.WatcherResults(ctx, token, wid, limit)
}

func (s *Service) StatsForTarget(ctx context.Context, cid domain.CID) (*domain.TargetStats, error) {
	if st, err := s.store.TargetStats(ctx, cid); err == nil {
		return st, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	// target known but never probed: empty aggregate
	if _, err := s.store.GetTarget(ctx, cid); err != nil {
		return nil, err
	}
	return &domain.TargetStats{CID: cid}, nil
}

func (s *Service) WatchersForToken(ctx context.Context, token domain.Token) ([]domain.Watcher, error) {
	if _, err := s.store.GetSession(ctx, token); err != nil {
		return nil, err
	}
	return s.store.WatchersByToken(ctx, token)
}

// SetWatcherEnabled disables or re-enables fan-out for one watcher.
// History survives either way.
func (s *Service) SetWatcherEnabled(ctx context.Context, wid domain.WID, enabled bool) error {
	return s.store.SetWatcherEnabled(ctx, wid, enabled)
}

// DeleteSession removes a tenant on request; watchers cascade, paid
// history stays.
func (s *Service) DeleteSession(ctx context.Context, token domain.Token) error {
	return s.store.DeleteSession(ctx, token)
}

func (s *Service) LedgerEntries(ctx context.Context, token domain.Token, limit int) ([]domain.LedgerEntry, error) {
	if _, err := s.store.GetSession(ctx, token); err != nil {
		return nil, err
	}
	return s.ledger.Entries(ctx, token, limit)
}
