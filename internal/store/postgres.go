package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/confira/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All notional amounts are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Trades ---

func (s *PostgresStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, tenant, counterparty, product, direction,
		        base_currency, quote_currency, settle_currency,
		        notional, counter_amount, trade_date, value_date, modality, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13, $14)`,
		t.ID, t.Tenant, t.Counterparty, t.Product, t.Direction,
		t.BaseCurrency, t.QuoteCurrency, t.SettleCurrency,
		t.Notional.String(), t.CounterAmount.String(),
		t.TradeDate, t.ValueDate, t.Modality, t.Status,
	)
	return err
}

const tradeColumns = `id, tenant, counterparty, product, direction,
	base_currency, quote_currency, settle_currency,
	notional::TEXT, counter_amount::TEXT, trade_date, value_date, modality, status`

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var notional, counterAmount string
	err := row.Scan(&t.ID, &t.Tenant, &t.Counterparty, &t.Product, &t.Direction,
		&t.BaseCurrency, &t.QuoteCurrency, &t.SettleCurrency,
		&notional, &counterAmount, &t.TradeDate, &t.ValueDate, &t.Modality, &t.Status)
	if err != nil {
		return nil, err
	}
	t.Notional, _ = decimal.NewFromString(notional)
	t.CounterAmount, _ = decimal.NewFromString(counterAmount)
	return &t, nil
}

func (s *PostgresStore) GetTrade(ctx context.Context, tenant, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE tenant = $1 AND id = $2`, tenant, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTradesByStatus(ctx context.Context, tenant, status string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE tenant = $1 AND status = $2 ORDER BY id`, tenant, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) UpdateTradeStatus(ctx context.Context, tenant, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET status = $3 WHERE tenant = $1 AND id = $2`, tenant, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Confirmations ---

func (s *PostgresStore) CreateConfirmation(ctx context.Context, c *model.Confirmation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO confirmations (id, tenant, sender, counterparty, product, direction,
		        base_currency, quote_currency, settle_currency,
		        notional, trade_date, value_date, modality, status, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11, $12, $13, $14, $15)`,
		c.ID, c.Tenant, c.Sender, c.Counterparty, c.Product, c.Direction,
		c.BaseCurrency, c.QuoteCurrency, c.SettleCurrency,
		c.Notional.String(), c.TradeDate, c.ValueDate, c.Modality, c.Status, c.ReceivedAt,
	)
	return err
}

func (s *PostgresStore) ListConfirmationsByStatus(ctx context.Context, tenant, status string) ([]model.Confirmation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant, sender, counterparty, product, direction,
		        base_currency, quote_currency, settle_currency,
		        notional::TEXT, trade_date, value_date, modality, status, received_at
		 FROM confirmations WHERE tenant = $1 AND status = $2 ORDER BY id`, tenant, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var confirmations []model.Confirmation
	for rows.Next() {
		var c model.Confirmation
		var notional string
		if err := rows.Scan(&c.ID, &c.Tenant, &c.Sender, &c.Counterparty, &c.Product, &c.Direction,
			&c.BaseCurrency, &c.QuoteCurrency, &c.SettleCurrency,
			&notional, &c.TradeDate, &c.ValueDate, &c.Modality, &c.Status, &c.ReceivedAt); err != nil {
			return nil, err
		}
		c.Notional, _ = decimal.NewFromString(notional)
		confirmations = append(confirmations, c)
	}
	return confirmations, rows.Err()
}

// --- Matches ---

// CommitMatch runs in a single transaction: both rows are locked, checked,
// and flipped together, so a crash mid-way never leaves one side matched.
func (s *PostgresStore) CommitMatch(ctx context.Context, m *model.Match) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tradeStatus string
	err = tx.QueryRow(ctx,
		`SELECT status FROM trades WHERE tenant = $1 AND id = $2 FOR UPDATE`,
		m.Tenant, m.TradeID).Scan(&tradeStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("trade %s: %w", m.TradeID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	var confStatus string
	err = tx.QueryRow(ctx,
		`SELECT status FROM confirmations WHERE tenant = $1 AND id = $2 FOR UPDATE`,
		m.Tenant, m.ConfirmationID).Scan(&confStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("confirmation %s: %w", m.ConfirmationID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if tradeStatus != model.TradeUnmatched || confStatus != model.ConfirmationUnmatched {
		return ErrDuplicateMatchAttempt
	}

	newTradeStatus := model.TradeMatched
	if m.Status == model.MatchConfirmed {
		newTradeStatus = model.TradeConfirmed
	}

	if _, err := tx.Exec(ctx,
		`UPDATE trades SET status = $3 WHERE tenant = $1 AND id = $2`,
		m.Tenant, m.TradeID, newTradeStatus); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE confirmations SET status = $3 WHERE tenant = $1 AND id = $2`,
		m.Tenant, m.ConfirmationID, model.ConfirmationMatched); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO matches (id, tenant, trade_id, confirmation_id, score, reasons, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.Tenant, m.TradeID, m.ConfirmationID, m.Score, m.Reasons, m.Status, m.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListMatches(ctx context.Context, tenant string) ([]model.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant, trade_id, confirmation_id, score, reasons, status, created_at
		 FROM matches WHERE tenant = $1 ORDER BY created_at DESC`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.ID, &m.Tenant, &m.TradeID, &m.ConfirmationID,
			&m.Score, &m.Reasons, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// --- Tenant configuration ---

func (s *PostgresStore) ListAliases(ctx context.Context, tenant string) ([]model.CounterpartyAlias, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant, alias, counterparty_id
		 FROM counterparty_aliases WHERE tenant = $1`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []model.CounterpartyAlias
	for rows.Next() {
		var a model.CounterpartyAlias
		if err := rows.Scan(&a.Tenant, &a.Alias, &a.CounterpartyID); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func (s *PostgresStore) ListRules(ctx context.Context, tenant string) ([]model.SettlementRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant, counterparty, product, currency, modality, priority, active, account_id
		 FROM settlement_rules WHERE tenant = $1 ORDER BY position`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleSet []model.SettlementRule
	for rows.Next() {
		var r model.SettlementRule
		if err := rows.Scan(&r.ID, &r.Tenant, &r.Counterparty, &r.Product, &r.Currency,
			&r.Modality, &r.Priority, &r.Active, &r.AccountID); err != nil {
			return nil, err
		}
		ruleSet = append(ruleSet, r)
	}
	return ruleSet, rows.Err()
}

func (s *PostgresStore) ListTemplates(ctx context.Context, counterpartyID string) ([]model.SettlementTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, counterparty_id, modality, product, segment, priority, active, document_ref
		 FROM settlement_templates WHERE counterparty_id = $1 ORDER BY position`, counterpartyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []model.SettlementTemplate
	for rows.Next() {
		var t model.SettlementTemplate
		if err := rows.Scan(&t.ID, &t.CounterpartyID, &t.Modality, &t.Product,
			&t.Segment, &t.Priority, &t.Active, &t.DocumentRef); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (s *PostgresStore) GetAccount(ctx context.Context, tenant, id string) (*model.SettlementAccount, error) {
	var a model.SettlementAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant, number, bank, currency, holder
		 FROM settlement_accounts WHERE tenant = $1 AND id = $2`, tenant, id).
		Scan(&a.ID, &a.Tenant, &a.Number, &a.Bank, &a.Currency, &a.Holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

// --- Resolution outcomes ---

func (s *PostgresStore) GetOutcome(ctx context.Context, tenant, tradeID string) (*model.ResolutionOutcome, error) {
	var o model.ResolutionOutcome
	err := s.pool.QueryRow(ctx,
		`SELECT tenant, trade_id, state, counterparty_id, rule_id, account_id,
		        template_id, document_ref, error_code, error_detail, actor, updated_at
		 FROM resolution_outcomes WHERE tenant = $1 AND trade_id = $2`, tenant, tradeID).
		Scan(&o.Tenant, &o.TradeID, &o.State, &o.CounterpartyID, &o.RuleID, &o.AccountID,
			&o.TemplateID, &o.DocumentRef, &o.ErrorCode, &o.ErrorDetail, &o.Actor, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("outcome for trade %s: %w", tradeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome for trade %s: %w", tradeID, err)
	}
	return &o, nil
}

func (s *PostgresStore) PutOutcome(ctx context.Context, o *model.ResolutionOutcome) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolution_outcomes
		        (tenant, trade_id, state, counterparty_id, rule_id, account_id,
		         template_id, document_ref, error_code, error_detail, actor, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (tenant, trade_id) DO UPDATE SET
		        state = EXCLUDED.state,
		        counterparty_id = EXCLUDED.counterparty_id,
		        rule_id = EXCLUDED.rule_id,
		        account_id = EXCLUDED.account_id,
		        template_id = EXCLUDED.template_id,
		        document_ref = EXCLUDED.document_ref,
		        error_code = EXCLUDED.error_code,
		        error_detail = EXCLUDED.error_detail,
		        actor = EXCLUDED.actor,
		        updated_at = EXCLUDED.updated_at`,
		o.Tenant, o.TradeID, o.State, o.CounterpartyID, o.RuleID, o.AccountID,
		o.TemplateID, o.DocumentRef, o.ErrorCode, o.ErrorDetail, o.Actor, o.UpdatedAt,
	)
	return err
}

// --- Audit log ---

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (tenant, timestamp, severity, category, trade_id, actor, code, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Tenant, e.Timestamp, e.Severity, e.Category, e.TradeID, e.Actor, e.Code, e.Detail,
	)
	return err
}

func (s *PostgresStore) ListAudit(ctx context.Context, tenant string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT tenant, timestamp, severity, category, trade_id, actor, code, detail
		 FROM audit_log WHERE tenant = $1 ORDER BY timestamp DESC LIMIT $2`, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.Tenant, &e.Timestamp, &e.Severity, &e.Category,
			&e.TradeID, &e.Actor, &e.Code, &e.Detail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
