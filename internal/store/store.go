// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// config cache and distributed trade locks), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/confira/settlement-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateMatchAttempt is returned by CommitMatch when the trade or
	// the confirmation is already matched.
	ErrDuplicateMatchAttempt = errors.New("store: trade or confirmation already matched")

	// ErrTradeLockHeld is returned when another resolution holds the
	// per-trade lock.
	ErrTradeLockHeld = errors.New("store: trade lock held")
)

// Store is the persistence interface. All reads are tenant-scoped;
// configuration collections (aliases, rules, templates, accounts) are
// written by administrative tooling and read-only here.
type Store interface {
	// --- Trades ---

	// CreateTrade persists a new trade record.
	CreateTrade(ctx context.Context, t *model.Trade) error

	// GetTrade retrieves one trade.
	GetTrade(ctx context.Context, tenant, id string) (*model.Trade, error)

	// ListTradesByStatus returns a tenant's trades in the given status.
	ListTradesByStatus(ctx context.Context, tenant, status string) ([]model.Trade, error)

	// UpdateTradeStatus sets a trade's lifecycle status (manual corrections,
	// review approval, disputes).
	UpdateTradeStatus(ctx context.Context, tenant, id, status string) error

	// --- Confirmations ---

	// CreateConfirmation persists a parsed bank confirmation.
	CreateConfirmation(ctx context.Context, c *model.Confirmation) error

	// ListConfirmationsByStatus returns a tenant's confirmations in the
	// given status.
	ListConfirmationsByStatus(ctx context.Context, tenant, status string) ([]model.Confirmation, error)

	// --- Matches ---

	// CommitMatch atomically inserts the match and flips both the trade's
	// and the confirmation's status. A confirmed match moves the trade to
	// confirmed; a review match moves it to matched. Fails with
	// ErrDuplicateMatchAttempt if either side is no longer unmatched,
	// without writing anything.
	CommitMatch(ctx context.Context, m *model.Match) error

	// ListMatches returns all matches for a tenant, newest first.
	ListMatches(ctx context.Context, tenant string) ([]model.Match, error)

	// --- Tenant configuration (read-only) ---

	// ListAliases returns the tenant's counterparty alias table.
	ListAliases(ctx context.Context, tenant string) ([]model.CounterpartyAlias, error)

	// ListRules returns the tenant's settlement rules in configured order.
	ListRules(ctx context.Context, tenant string) ([]model.SettlementRule, error)

	// ListTemplates returns one counterparty's template catalog in
	// configured order.
	ListTemplates(ctx context.Context, counterpartyID string) ([]model.SettlementTemplate, error)

	// GetAccount retrieves a settlement account.
	GetAccount(ctx context.Context, tenant, id string) (*model.SettlementAccount, error)

	// --- Resolution outcomes ---

	// GetOutcome returns the last resolution outcome for a trade, or
	// ErrNotFound if the trade was never resolved.
	GetOutcome(ctx context.Context, tenant, tradeID string) (*model.ResolutionOutcome, error)

	// PutOutcome upserts the trade's outcome record, last writer wins.
	PutOutcome(ctx context.Context, o *model.ResolutionOutcome) error

	// --- Append-only audit log ---

	// AppendAudit appends one operator log entry.
	AppendAudit(ctx context.Context, e *model.AuditEntry) error

	// ListAudit returns a tenant's log entries, newest first, up to limit.
	ListAudit(ctx context.Context, tenant string, limit int) ([]model.AuditEntry, error)
}

// TradeLocker serializes concurrent resolutions of the same trade. Release
// must always be called; double release is harmless.
type TradeLocker interface {
	// AcquireTradeLock takes the per-trade advisory lock or fails fast with
	// ErrTradeLockHeld.
	AcquireTradeLock(ctx context.Context, tenant, tradeID string) (release func(), err error)
}
