// Package ledger meters credit against session balances. Every top-up
// and debit, successful or refused, lands as exactly one immutable
// ledger row; the atomicity itself lives in the storage adapter.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/metrics"
	"github.com/probeworks/probemeter/internal/notify"
	"github.com/probeworks/probemeter/internal/repo"
)

// ErrInvalidAmount rejects non-positive credit or debit amounts before
// any state change.
var ErrInvalidAmount = errors.New("amount must be > 0")

type Service struct {
	store    repo.LedgerStore
	log      *zap.Logger
	notifier notify.Notifier // may be nil
}

func New(store repo.LedgerStore, log *zap.Logger, notifier notify.Notifier) *Service {
	return &Service{store: store, log: log, notifier: notifier}
}

// Credit adds amount to the session's balance. An empty token mints a
// fresh session identity; the entry's Action distinguishes the two.
func (s *Service) Credit(ctx context.Context, token domain.Token, amount int64) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if token == "" {
		token = domain.Token(uuid.NewString())
	}
	entry, err := s.store.Credit(ctx, token, amount, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", token, err)
	}
	s.log.Info("ledger_credit",
		zap.String("token", string(token)),
		zap.String("action", string(entry.Action)),
		zap.Int64("amount", amount),
		zap.Int64("balance", entry.Balance),
	)
	return entry, nil
}

// Debit charges the session for one delivered probe result. On
// insufficient balance the attempt is still recorded and the failed
// entry is returned alongside repo.ErrInsufficientFunds.
func (s *Service) Debit(ctx context.Context, token domain.Token, amount int64, cid domain.CID, wid domain.WID) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry, err := s.store.Debit(ctx, token, amount, cid, wid, time.Now().UTC())
	if errors.Is(err, repo.ErrInsufficientFunds) {
		metrics.FailedCharges.Inc()
		s.log.Warn("ledger_failed_charge",
			zap.String("token", string(token)),
			zap.String("wid", string(wid)),
			zap.Int64("amount", amount),
			zap.Int64("balance", entry.Balance),
		)
		if s.notifier != nil {
			text := fmt.Sprintf("token=%s wid=%s balance=%d", token, wid, entry.Balance)
			// best effort
			_ = s.notifier.Send(ctx, "Session out of credits", text)
		}
		return entry, err
	}
	if err != nil {
		return nil, fmt.Errorf("debit %s: %w", token, err)
	}
	metrics.CreditsConsumed.Add(float64(amount))
	s.log.Debug("ledger_consume",
		zap.String("token", string(token)),
		zap.String("wid", string(wid)),
		zap.Int64("amount", amount),
		zap.Int64("balance", entry.Balance),
	)
	return entry, nil
}

func (s *Service) Entries(ctx context.Context, token domain.Token, limit int) ([]domain.LedgerEntry, error) {
	return s.store.LedgerEntries(ctx, token, limit)
}
