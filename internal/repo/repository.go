package repo

import (
	"context"
	"errors"
	"time"

	"github.com/probeworks/probemeter/internal/domain"
)

var (
	// ErrNotFound is returned for an unknown token, watcher, or target.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds is returned by Debit when the session balance
	// cannot cover the amount. The attempt is still recorded in the ledger.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Ports (interfaces) — the sqlite, postgres, and memory adapters all
// implement these.

type SessionStore interface {
	GetSession(ctx context.Context, token domain.Token) (*domain.Session, error)
	// DeleteSession removes a session and cascades to its watchers.
	// Target history is retained.
	DeleteSession(ctx context.Context, token domain.Token) error
}

type TargetStore interface {
	// EnsureTarget inserts the target unless a row with the same CID
	// already exists, guarded by the storage uniqueness constraint
	// rather than a read-then-write. It returns the surviving row.
	EnsureTarget(ctx context.Context, t *domain.Target) (*domain.Target, error)
	GetTarget(ctx context.Context, cid domain.CID) (*domain.Target, error)
	ListTargets(ctx context.Context) ([]domain.Target, error)
	// DueTargets returns targets with next_run <= now, oldest-due first.
	DueTargets(ctx context.Context, now time.Time) ([]domain.Target, error)
	// MarkProbed records a completed scheduling cycle for the target.
	MarkProbed(ctx context.Context, cid domain.CID, at time.Time, ok bool, nextRun time.Time) error
}

type WatcherStore interface {
	// CreateWatcher fails with ErrNotFound when the session or target
	// does not exist.
	CreateWatcher(ctx context.Context, w *domain.Watcher) error
	GetWatcher(ctx context.Context, wid domain.WID) (*domain.Watcher, error)
	WatchersByTarget(ctx context.Context, cid domain.CID) ([]domain.Watcher, error)
	WatchersByToken(ctx context.Context, token domain.Token) ([]domain.Watcher, error)
	SetWatcherEnabled(ctx context.Context, wid domain.WID, enabled bool) error
}

// LedgerStore owns session balances and the append-only audit log.
// Credit and Debit are each a single atomic unit scoped to the token.
type LedgerStore interface {
	// Credit adds amount to the session, creating it when absent, and
	// appends a TOPUP or CREATE_SESSION_TOPUP row.
	Credit(ctx context.Context, token domain.Token, amount int64, at time.Time) (*domain.LedgerEntry, error)
	// Debit subtracts amount when the balance covers it and appends a
	// CONSUME row; otherwise it appends a CHECK_FAILED_CHARGE row,
	// leaves the balance untouched, and returns ErrInsufficientFunds
	// alongside the failed-charge entry. Concurrent debits against one
	// token serialize inside the storage transaction.
	Debit(ctx context.Context, token domain.Token, amount int64, cid domain.CID, wid domain.WID, at time.Time) (*domain.LedgerEntry, error)
	LedgerEntries(ctx context.Context, token domain.Token, limit int) ([]domain.LedgerEntry, error)
}

// ResultStore persists probe history and per-target rolling aggregates.
// Stats rows see no concurrent writers: only one probe per target is in
// flight at a time.
type ResultStore interface {
	AppendTargetResult(ctx context.Context, cid domain.CID, r domain.ProbeResult) error
	AppendWatcherResult(ctx context.Context, token domain.Token, rec domain.FanoutRecord) error
	TargetResults(ctx context.Context, cid domain.CID, limit int) ([]domain.ProbeResult, error)
	WatcherResults(ctx context.Context, token domain.Token, wid domain.WID, limit int) ([]domain.FanoutRecord, error)
	TargetStats(ctx context.Context, cid domain.CID) (*domain.TargetStats, error)
	PutTargetStats(ctx context.Context, s *domain.TargetStats) error
}

// Store is the full persistence surface the engine needs.
type Store interface {
	SessionStore
	TargetStore
	WatcherStore
	LedgerStore
	ResultStore
}
