// Package model defines the core domain types shared across the settlement
// engine. All notional amounts use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade lifecycle statuses.
const (
	TradeUnmatched = "unmatched"
	TradeMatched   = "matched"
	TradeConfirmed = "confirmed"
	TradeDisputed  = "disputed"
)

// Confirmation lifecycle statuses.
const (
	ConfirmationUnmatched = "unmatched"
	ConfirmationMatched   = "matched"
)

// Match statuses. A match is confirmed when its score clears the configured
// threshold and the top score was not tied; everything else needs review.
const (
	MatchConfirmed    = "confirmed"
	MatchReviewNeeded = "review_needed"
)

// Trade directions.
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// ValidDirection reports whether d is a known trade direction.
func ValidDirection(d string) bool {
	return d == DirectionBuy || d == DirectionSell
}

// Trade is an internally recorded transaction awaiting confirmation.
// Counterparty holds the free-text name as booked; canonical identity is
// resolved at reconciliation time through the tenant's alias table.
type Trade struct {
	ID             string          `json:"id" db:"id"`
	Tenant         string          `json:"tenant" db:"tenant"`
	Counterparty   string          `json:"counterparty" db:"counterparty"`
	Product        string          `json:"product" db:"product"` // "Spot", "Forward", "Swap"
	Direction      string          `json:"direction" db:"direction"`
	BaseCurrency   string          `json:"base_currency" db:"base_currency"`
	QuoteCurrency  string          `json:"quote_currency" db:"quote_currency"`
	SettleCurrency string          `json:"settle_currency" db:"settle_currency"`
	Notional       decimal.Decimal `json:"notional" db:"notional"`
	CounterAmount  decimal.Decimal `json:"counter_amount" db:"counter_amount"`
	TradeDate      time.Time       `json:"trade_date" db:"trade_date"`
	ValueDate      time.Time       `json:"value_date" db:"value_date"`
	Modality       string          `json:"modality" db:"modality"` // settlement modality: physical delivery or net compensation
	Status         string          `json:"status" db:"status"`
}

// Confirmation is a parsed bank confirmation message. Immutable once created
// except for the lifecycle status flip when it is matched to a trade.
type Confirmation struct {
	ID             string          `json:"id" db:"id"`
	Tenant         string          `json:"tenant" db:"tenant"`
	Sender         string          `json:"sender" db:"sender"`
	Counterparty   string          `json:"counterparty" db:"counterparty"`
	Product        string          `json:"product" db:"product"`
	Direction      string          `json:"direction" db:"direction"`
	BaseCurrency   string          `json:"base_currency" db:"base_currency"`
	QuoteCurrency  string          `json:"quote_currency" db:"quote_currency"`
	SettleCurrency string          `json:"settle_currency" db:"settle_currency"`
	Notional       decimal.Decimal `json:"notional" db:"notional"`
	TradeDate      time.Time       `json:"trade_date" db:"trade_date"`
	ValueDate      time.Time       `json:"value_date" db:"value_date"`
	Modality       string          `json:"modality" db:"modality"`
	Status         string          `json:"status" db:"status"`
	ReceivedAt     time.Time       `json:"received_at" db:"received_at"`
}

// CounterpartyAlias maps one raw-name variant to a canonical counterparty
// identifier. The alias key is stored pre-normalized; setup tooling writes
// these rows and resolution only reads them.
type CounterpartyAlias struct {
	Tenant         string `json:"tenant" db:"tenant"`
	Alias          string `json:"alias" db:"alias"`
	CounterpartyID string `json:"counterparty_id" db:"counterparty_id"`
}

// Match links one trade to one confirmation. At most one active match exists
// per trade and per confirmation.
type Match struct {
	ID             string    `json:"id" db:"id"`
	Tenant         string    `json:"tenant" db:"tenant"`
	TradeID        string    `json:"trade_id" db:"trade_id"`
	ConfirmationID string    `json:"confirmation_id" db:"confirmation_id"`
	Score          int       `json:"score" db:"score"` // 0–100
	Reasons        []string  `json:"reasons" db:"reasons"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// SettlementRule selects which settlement account applies to a trade.
// Empty counterparty/product/currency values act as wildcards; modality
// matches exactly. Lower priority numbers are preferred.
type SettlementRule struct {
	ID           string `json:"id" db:"id"`
	Tenant       string `json:"tenant" db:"tenant"`
	Counterparty string `json:"counterparty" db:"counterparty"`
	Product      string `json:"product" db:"product"`
	Currency     string `json:"currency" db:"currency"` // settlement currency
	Modality     string `json:"modality" db:"modality"`
	Priority     int    `json:"priority" db:"priority"`
	Active       bool   `json:"active" db:"active"`
	AccountID    string `json:"account_id" db:"account_id"`
}

// SettlementTemplate is a counterparty-provided document skeleton.
// Segment is empty for generic templates; lower priority numbers are preferred.
type SettlementTemplate struct {
	ID             string `json:"id" db:"id"`
	CounterpartyID string `json:"counterparty_id" db:"counterparty_id"`
	Modality       string `json:"modality" db:"modality"`
	Product        string `json:"product" db:"product"`
	Segment        string `json:"segment" db:"segment"`
	Priority       int    `json:"priority" db:"priority"`
	Active         bool   `json:"active" db:"active"`
	DocumentRef    string `json:"document_ref" db:"document_ref"`
}

// SettlementAccount is the account a selected rule points at.
type SettlementAccount struct {
	ID       string `json:"id" db:"id"`
	Tenant   string `json:"tenant" db:"tenant"`
	Number   string `json:"number" db:"number"`
	Bank     string `json:"bank" db:"bank"`
	Currency string `json:"currency" db:"currency"`
	Holder   string `json:"holder" db:"holder"`
}

// Resolution pipeline states, per trade.
const (
	StateResolvingCounterparty = "resolving_counterparty"
	StateResolvingRule         = "resolving_rule"
	StateResolvingTemplate     = "resolving_template"
	StatePopulating            = "populating"
	StateAttached              = "attached"
	StateFailed                = "failed"
)

// ResolutionOutcome records, per trade, which counterparty, rule, and template
// were selected (or the failure reason). Overwritten last-writer-wins on
// re-resolution; never versioned.
type ResolutionOutcome struct {
	Tenant         string    `json:"tenant" db:"tenant"`
	TradeID        string    `json:"trade_id" db:"trade_id"`
	State          string    `json:"state" db:"state"`
	CounterpartyID string    `json:"counterparty_id,omitempty" db:"counterparty_id"`
	RuleID         string    `json:"rule_id,omitempty" db:"rule_id"`
	AccountID      string    `json:"account_id,omitempty" db:"account_id"`
	TemplateID     string    `json:"template_id,omitempty" db:"template_id"`
	DocumentRef    string    `json:"document_ref,omitempty" db:"document_ref"`
	ErrorCode      string    `json:"error_code,omitempty" db:"error_code"`
	ErrorDetail    string    `json:"error_detail,omitempty" db:"error_detail"`
	Actor          string    `json:"actor" db:"actor"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Succeeded reports whether the outcome represents a completed attachment.
func (o *ResolutionOutcome) Succeeded() bool {
	return o.State == StateAttached
}

// Audit log severities and categories.
const (
	SeverityInfo  = "info"
	SeverityError = "error"

	CategoryMatching   = "matching"
	CategoryResolution = "resolution"
)

// AuditEntry is one line of the tenant-scoped append-only operator log.
type AuditEntry struct {
	Tenant    string    `json:"tenant" db:"tenant"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Severity  string    `json:"severity" db:"severity"`
	Category  string    `json:"category" db:"category"`
	TradeID   string    `json:"trade_id" db:"trade_id"`
	Actor     string    `json:"actor" db:"actor"`
	Code      string    `json:"code" db:"code"`
	Detail    string    `json:"detail" db:"detail"`
}
