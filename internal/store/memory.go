package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/confira/settlement-engine/internal/model"
)

// MemoryStore implements Store and TradeLocker with in-memory maps. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	trades        map[string]*model.Trade        // key tenant/id
	confirmations map[string]*model.Confirmation // key tenant/id
	matches       []model.Match
	aliases       []model.CounterpartyAlias
	rules         []model.SettlementRule
	templates     []model.SettlementTemplate
	accounts      map[string]*model.SettlementAccount // key tenant/id
	outcomes      map[string]*model.ResolutionOutcome // key tenant/tradeID
	audit         []model.AuditEntry

	lockMu sync.Mutex
	locks  map[string]bool // key tenant/tradeID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:        make(map[string]*model.Trade),
		confirmations: make(map[string]*model.Confirmation),
		accounts:      make(map[string]*model.SettlementAccount),
		outcomes:      make(map[string]*model.ResolutionOutcome),
		locks:         make(map[string]bool),
	}
}

func key(tenant, id string) string { return tenant + "/" + id }

// --- Trades ---

func (s *MemoryStore) CreateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(t.Tenant, t.ID)
	if _, ok := s.trades[k]; ok {
		return fmt.Errorf("trade %s already exists", t.ID)
	}
	copy := *t
	s.trades[k] = &copy
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, tenant, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[key(tenant, id)]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTradesByStatus(_ context.Context, tenant, status string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.Tenant == tenant && t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateTradeStatus(_ context.Context, tenant, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[key(tenant, id)]
	if !ok {
		return fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	t.Status = status
	return nil
}

// --- Confirmations ---

func (s *MemoryStore) CreateConfirmation(_ context.Context, c *model.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(c.Tenant, c.ID)
	if _, ok := s.confirmations[k]; ok {
		return fmt.Errorf("confirmation %s already exists", c.ID)
	}
	copy := *c
	s.confirmations[k] = &copy
	return nil
}

func (s *MemoryStore) ListConfirmationsByStatus(_ context.Context, tenant, status string) ([]model.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Confirmation
	for _, c := range s.confirmations {
		if c.Tenant == tenant && c.Status == status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Matches ---

// CommitMatch checks both sides under one lock before mutating anything, so
// a failure leaves neither status flipped.
func (s *MemoryStore) CommitMatch(_ context.Context, m *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[key(m.Tenant, m.TradeID)]
	if !ok {
		return fmt.Errorf("trade %s: %w", m.TradeID, ErrNotFound)
	}
	c, ok := s.confirmations[key(m.Tenant, m.ConfirmationID)]
	if !ok {
		return fmt.Errorf("confirmation %s: %w", m.ConfirmationID, ErrNotFound)
	}
	if t.Status != model.TradeUnmatched || c.Status != model.ConfirmationUnmatched {
		return ErrDuplicateMatchAttempt
	}
	for _, existing := range s.matches {
		if existing.Tenant == m.Tenant &&
			(existing.TradeID == m.TradeID || existing.ConfirmationID == m.ConfirmationID) {
			return ErrDuplicateMatchAttempt
		}
	}

	if m.Status == model.MatchConfirmed {
		t.Status = model.TradeConfirmed
	} else {
		t.Status = model.TradeMatched
	}
	c.Status = model.ConfirmationMatched
	s.matches = append(s.matches, *m)
	return nil
}

func (s *MemoryStore) ListMatches(_ context.Context, tenant string) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Match
	for _, m := range s.matches {
		if m.Tenant == tenant {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- Tenant configuration ---

// SeedAliases loads alias rows (test/dev helper).
func (s *MemoryStore) SeedAliases(aliases ...model.CounterpartyAlias) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases = append(s.aliases, aliases...)
}

// SeedRules loads settlement rules (test/dev helper).
func (s *MemoryStore) SeedRules(rules ...model.SettlementRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rules...)
}

// SeedTemplates loads settlement templates (test/dev helper).
func (s *MemoryStore) SeedTemplates(templates ...model.SettlementTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, templates...)
}

// SeedAccounts loads settlement accounts (test/dev helper).
func (s *MemoryStore) SeedAccounts(accounts ...model.SettlementAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range accounts {
		a := accounts[i]
		s.accounts[key(a.Tenant, a.ID)] = &a
	}
}

func (s *MemoryStore) ListAliases(_ context.Context, tenant string) ([]model.CounterpartyAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.CounterpartyAlias
	for _, a := range s.aliases {
		if a.Tenant == tenant {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRules(_ context.Context, tenant string) ([]model.SettlementRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.SettlementRule
	for _, r := range s.rules {
		if r.Tenant == tenant {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTemplates(_ context.Context, counterpartyID string) ([]model.SettlementTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.SettlementTemplate
	for _, t := range s.templates {
		if t.CounterpartyID == counterpartyID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, tenant, id string) (*model.SettlementAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[key(tenant, id)]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

// --- Resolution outcomes ---

func (s *MemoryStore) GetOutcome(_ context.Context, tenant, tradeID string) (*model.ResolutionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.outcomes[key(tenant, tradeID)]
	if !ok {
		return nil, fmt.Errorf("outcome for trade %s: %w", tradeID, ErrNotFound)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) PutOutcome(_ context.Context, o *model.ResolutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *o
	s.outcomes[key(o.Tenant, o.TradeID)] = &copy
	return nil
}

// --- Audit log ---

func (s *MemoryStore) AppendAudit(_ context.Context, e *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *e)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, tenant string, limit int) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].Tenant != tenant {
			continue
		}
		out = append(out, s.audit[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- Trade locks ---

// AcquireTradeLock implements TradeLocker with a process-local lock table.
func (s *MemoryStore) AcquireTradeLock(_ context.Context, tenant, tradeID string) (func(), error) {
	k := key(tenant, tradeID)

	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if s.locks[k] {
		return nil, ErrTradeLockHeld
	}
	s.locks[k] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.lockMu.Lock()
			delete(s.locks, k)
			s.lockMu.Unlock()
		})
	}
	return release, nil
}
