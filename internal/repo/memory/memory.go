package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/probeworks/probemeter/internal/domain"
	"github.com/probeworks/probemeter/internal/repo"
)

// Store is an in-memory adapter used by unit tests and local runs
// without a database file. One mutex guards everything, so Debit is
// trivially atomic per token.
type Store struct {
	mu       sync.RWMutex
	sessions map[domain.Token]*domain.Session
	targets  map[domain.CID]*domain.Target
	watchers map[domain.WID]*domain.Watcher
	ledger   []*domain.LedgerEntry
	results  map[domain.CID][]domain.ProbeResult
	fanout   map[domain.Token]map[domain.WID][]domain.FanoutRecord
	stats    map[domain.CID]*domain.TargetStats
}

func New() *Store {
	return &Store{
		sessions: make(map[domain.Token]*domain.Session),
		targets:  make(map[domain.CID]*domain.Target),
		watchers: make(map[domain.WID]*domain.Watcher),
		results:  make(map[domain.CID][]domain.ProbeResult),
		fanout:   make(map[domain.Token]map[domain.WID][]domain.FanoutRecord),
		stats:    make(map[domain.CID]*domain.TargetStats),
	}
}

// ---- SessionStore ----

func (m *Store) GetSession(ctx context.Context, token domain.Token) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Store) DeleteSession(ctx context.Context, token domain.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return repo.ErrNotFound
	}
	delete(m.sessions, token)
	for wid, w := range m.watchers {
		if w.Token == token {
			delete(m.watchers, wid)
		}
	}
	return nil
}

// ---- TargetStore ----

func (m *Store) EnsureTarget(ctx context.Context, t *domain.Target) (*domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.targets[t.CID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *t
	m.targets[t.CID] = &cp
	out := cp
	return &out, nil
}

func (m *Store) GetTarget(ctx context.Context, cid domain.CID) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[cid]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Store) ListTargets(ctx context.Context) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *Store) DueTargets(ctx context.Context, now time.Time) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Target
	for _, t := range m.targets {
		if !t.NextRun.After(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out, nil
}

func (m *Store) MarkProbed(ctx context.Context, cid domain.CID, at time.Time, ok bool, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, found := m.targets[cid]
	if !found {
		return repo.ErrNotFound
	}
	probed := at
	t.LastProbe = &probed
	t.LastOK = ok
	t.NextRun = nextRun
	return nil
}

// ---- WatcherStore ----

func (m *Store) CreateWatcher(ctx context.Context, w *domain.Watcher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[w.Token]; !ok {
		return repo.ErrNotFound
	}
	if _, ok := m.targets[w.CID]; !ok {
		return repo.ErrNotFound
	}
	cp := *w
	m.watchers[w.WID] = &cp
	return nil
}

func (m *Store) GetWatcher(ctx context.Context, wid domain.WID) (*domain.Watcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watchers[wid]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *Store) WatchersByTarget(ctx context.Context, cid domain.CID) ([]domain.Watcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Watcher
	for _, w := range m.watchers {
		if w.CID == cid {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (m *Store) WatchersByToken(ctx context.Context, token domain.Token) ([]domain.Watcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Watcher
	for _, w := range m.watchers {
		if w.Token == token {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (m *Store) SetWatcherEnabled(ctx context.Context, wid domain.WID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watchers[wid]
	if !ok {
		return repo.ErrNotFound
	}
	w.Enabled = enabled
	return nil
}

// ---- LedgerStore ----

func (m *Store) Credit(ctx context.Context, token domain.Token, amount int64, at time.Time) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	action := domain.ActionTopUp
	s, ok := m.sessions[token]
	if !ok {
		action = domain.ActionCreateSessionTopUp
		s = &domain.Session{Token: token, Created: at}
		m.sessions[token] = s
	}
	s.Credits += amount

	e := &domain.LedgerEntry{
		ID:      int64(len(m.ledger) + 1),
		TS:      at,
		Action:  action,
		Token:   token,
		Amount:  amount,
		Balance: s.Credits,
	}
	m.ledger = append(m.ledger, e)
	cp := *e
	return &cp, nil
}

func (m *Store) Debit(ctx context.Context, token domain.Token, amount int64, cid domain.CID, wid domain.WID, at time.Time) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, repo.ErrNotFound
	}

	if s.Credits < amount {
		e := &domain.LedgerEntry{
			ID:      int64(len(m.ledger) + 1),
			TS:      at,
			Action:  domain.ActionFailedCharge,
			Token:   token,
			CID:     cid,
			WID:     wid,
			Amount:  amount,
			Balance: s.Credits,
			Note:    "insufficient funds",
		}
		m.ledger = append(m.ledger, e)
		cp := *e
		return &cp, repo.ErrInsufficientFunds
	}

	s.Credits -= amount
	used := at
	s.LastUsed = &used
	e := &domain.LedgerEntry{
		ID:      int64(len(m.ledger) + 1),
		TS:      at,
		Action:  domain.ActionConsume,
		Token:   token,
		CID:     cid,
		WID:     wid,
		Amount:  amount,
		Balance: s.Credits,
	}
	m.ledger = append(m.ledger, e)
	cp := *e
	return &cp, nil
}

func (m *Store) LedgerEntries(ctx context.Context, token domain.Token, limit int) ([]domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.LedgerEntry
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].Token == token {
			out = append(out, *m.ledger[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ---- ResultStore ----

func (m *Store) AppendTargetResult(ctx context.Context, cid domain.CID, r domain.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[cid] = append(m.results[cid], r)
	return nil
}

func (m *Store) AppendWatcherResult(ctx context.Context, token domain.Token, rec domain.FanoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byWID, ok := m.fanout[token]
	if !ok {
		byWID = make(map[domain.WID][]domain.FanoutRecord)
		m.fanout[token] = byWID
	}
	byWID[rec.WID] = append(byWID[rec.WID], rec)
	return nil
}

func (m *Store) TargetResults(ctx context.Context, cid domain.CID, limit int) ([]domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.results[cid], limit), nil
}

func (m *Store) WatcherResults(ctx context.Context, token domain.Token, wid domain.WID, limit int) ([]domain.FanoutRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byWID, ok := m.fanout[token]
	if !ok {
		return nil, nil
	}
	return lastN(byWID[wid], limit), nil
}

func (m *Store) TargetStats(ctx context.Context, cid domain.CID) (*domain.TargetStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[cid]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	if s.AvgLatencyMS != nil {
		v := *s.AvgLatencyMS
		cp.AvgLatencyMS = &v
	}
	return &cp, nil
}

func (m *Store) PutTargetStats(ctx context.Context, s *domain.TargetStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	if s.AvgLatencyMS != nil {
		v := *s.AvgLatencyMS
		cp.AvgLatencyMS = &v
	}
	m.stats[s.CID] = &cp
	return nil
}

func lastN[T any](in []T, n int) []T {
	if n <= 0 || n >= len(in) {
		n = len(in)
	}
	out := make([]T, n)
	copy(out, in[len(in)-n:])
	return out
}
