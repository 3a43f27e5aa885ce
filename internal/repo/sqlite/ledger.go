package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo"
)

// Credit adds amount to the session, creating it when absent. The
// balance update and the ledger row land in one transaction.
func (s *Store) Credit(ctx context.Context, token domain.Token, amount int64, at time.Time) (*domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	action := domain.ActionTopUp
	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT credits FROM sessions WHERE token = ?`, string(token)).Scan(&balance)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		action = domain.ActionCreateSessionTopUp
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (token, credits, created) VALUES (?, 0, ?)`,
			string(token), fmtTime(at)); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("select credits: %w", err)
	}

	balance += amount
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET credits = ? WHERE token = ?`, balance, string(token)); err != nil {
		return nil, fmt.Errorf("update credits: %w", err)
	}

	entry := &domain.LedgerEntry{
		TS:      at,
		Action:  action,
		Token:   token,
		Amount:  amount,
		Balance: balance,
	}
	if err := s.appendLedgerTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

// Debit is the engine's one true atomic read-modify-write: the balance
// check, the subtraction, and the ledger row are a single transaction,
// so concurrent debits against one token never see a stale balance.
func (s *Store) Debit(ctx context.Context, token domain.Token, amount int64, cid domain.CID, wid domain.WID, at time.Time) (*domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT credits FROM sessions WHERE token = ?`, string(token)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
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
		if err := s.appendLedgerTx(ctx, tx, entry); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return entry, repo.ErrInsufficientFunds
	}

	balance -= amount
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET credits = ?, last_used = ? WHERE token = ?`,
		balance, fmtTime(at), string(token)); err != nil {
		return nil, fmt.Errorf("update credits: %w", err)
	}

	entry.Action = domain.ActionConsume
	entry.Balance = balance
	if err := s.appendLedgerTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

func (s *Store) appendLedgerTx(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	res, err := tx.ExecContext(ctx, `
INSERT INTO ledger (ts, action, token, cid, wid, amount, balance, note)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fmtTime(e.TS), string(e.Action), string(e.Token),
		nullStr(string(e.CID)), nullStr(string(e.WID)), e.Amount, e.Balance, nullStr(e.Note))
	if err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) LedgerEntries(ctx context.Context, token domain.Token, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, ts, action, token, cid, wid, amount, balance, note
FROM ledger WHERE token = ? ORDER BY id DESC LIMIT ?`, string(token), limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts string
		var cid, wid, note sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.Token, &cid, &wid, &e.Amount, &e.Balance, &note); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		e.TS = parseTime(ts)
		e.CID = domain.CID(cid.String)
		e.WID = domain.WID(wid.String)
		e.Note = note.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
