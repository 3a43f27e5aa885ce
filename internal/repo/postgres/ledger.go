package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo"
)

func (s *Store) Credit(ctx context.Context, token domain.Token, amount int64, at time.Time) (*domain.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	action := domain.ActionTopUp
	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT credits FROM sessions WHERE token = $1 FOR UPDATE`, string(token)).Scan(&balance)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		action = domain.ActionCreateSessionTopUp
		if _, err := tx.Exec(ctx,
			`INSERT INTO sessions (token, credits, created) VALUES ($1, 0, $2)`,
			string(token), at); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("select credits: %w", err)
	}

	balance += amount
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET credits = $1 WHERE token = $2`, balance, string(token)); err != nil {
		return nil, fmt.Errorf("update credits: %w", err)
	}

	entry := &domain.LedgerEntry{
		TS:      at,
		Action:  action,
		Token:   token,
		Amount:  amount,
		Balance: balance,
	}
	if err := appendLedgerTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

// Debit locks the session row (SELECT ... FOR UPDATE) so concurrent
// debits against one token serialize without a global lock.
func (s *Store) Debit(ctx context.Context, token domain.Token, amount int64, cid domain.CID, wid domain.WID, at time.Time) (*domain.LedgerEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT credits FROM sessions WHERE token = $1 FOR UPDATE`, string(token)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select credits: %w", err)
	}

	entry := &domain.LedgerEntry{
		TS:     at,
		Token:  token,
		CID:    cid,
		WID:    wid,
		Amount: amount,
	}

	if balance < amount {
		entry.Action = domain.ActionFailedCharge
		entry.Balance = balance
		entry.Note = "insufficient funds"
		if err := appendLedgerTx(ctx, tx, entry); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return entry, repo.ErrInsufficientFunds
	}

	balance -= amount
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET credits = $1, last_used = $2 WHERE token = $3`,
		balance, at, string(token)); err != nil {
		return nil, fmt.Errorf("update credits: %w", err)
	}

	entry.Action = domain.ActionConsume
	entry.Balance = balance
	if err := appendLedgerTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

func appendLedgerTx(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	err := tx.QueryRow(ctx, `
INSERT INTO ledger (ts, action, token, cid, wid, amount, balance, note)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, NULLIF($8, ''))
RETURNING id`,
		e.TS, string(e.Action), string(e.Token), string(e.CID), string(e.WID),
		e.Amount, e.Balance, e.Note).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	return nil
}

func (s *Store) LedgerEntries(ctx context.Context, token domain.Token, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, ts, action, token, COALESCE(cid, ''), COALESCE(wid, ''), amount, balance, COALESCE(note, '')
FROM ledger WHERE token = $1 ORDER BY id DESC LIMIT $2`, string(token), limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.Token, &e.CID, &e.WID, &e.Amount, &e.Balance, &e.Note); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
