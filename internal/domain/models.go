package domain

import "time"

// CID identifies a canonical (deduplicated) probe target.
type CID string

// WID identifies one tenant's subscription to a canonical target.
type WID string

// Token is the opaque identity of a credit-bearing session.
type Token string

type ProbeType string

const (
	ProbeHTTP ProbeType = "http"
	ProbePort ProbeType = "port"
)

// Session is a tenant's prepaid account. Credits never go below zero;
// every change goes through the ledger.
type Session struct {
	Token    Token      `json:"token"`
	Credits  int64      `json:"credits"`
	Created  time.Time  `json:"created"`
	LastUsed *time.Time `json:"last_used,omitempty"`
}

// Target is a deduplicated probe destination shared by every watcher
// that registered the same normalized URL.
type Target struct {
	CID       CID        `json:"cid"`
	URL       string     `json:"url"` // normalized form
	ProbeType ProbeType  `json:"probe_type"`
	LastProbe *time.Time `json:"last_probe,omitempty"`
	LastOK    bool       `json:"last_ok"`
	NextRun   time.Time  `json:"next_run"`
}

// Watcher subscribes one session to one canonical target at a requested
// cadence. The shared target's interval floor wins over Interval for
// actual probe timing.
type Watcher struct {
	WID      WID       `json:"wid"`
	CID      CID       `json:"cid"`
	Token    Token     `json:"token"`
	Interval int       `json:"interval"` // seconds
	Enabled  bool      `json:"enabled"`
	Created  time.Time `json:"created"`
}

type LedgerAction string

const (
	ActionTopUp              LedgerAction = "TOPUP"
	ActionCreateSessionTopUp LedgerAction = "CREATE_SESSION_TOPUP"
	ActionConsume            LedgerAction = "CONSUME"
	ActionFailedCharge       LedgerAction = "CHECK_FAILED_CHARGE"
)

// LedgerEntry is one immutable row of the audit trail. Balance is the
// session balance after the action took effect (unchanged for a
// refused charge).
type LedgerEntry struct {
	ID      int64        `json:"id"`
	TS      time.Time    `json:"ts"`
	Action  LedgerAction `json:"action"`
	Token   Token        `json:"token"`
	CID     CID          `json:"cid,omitempty"`
	WID     WID          `json:"wid,omitempty"`
	Amount  int64        `json:"amount"`
	Balance int64        `json:"balance"`
	Note    string       `json:"note,omitempty"`
}
