package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/confira/settlement-engine/internal/alias"
	"github.com/confira/settlement-engine/internal/metrics"
	"github.com/confira/settlement-engine/internal/model"
	"github.com/confira/settlement-engine/internal/rules"
	"github.com/confira/settlement-engine/internal/store"
	"github.com/confira/settlement-engine/internal/templates"
)

// Orchestrator drives the per-trade resolution pipeline:
//
//	Confirmed → ResolvingCounterparty → ResolvingRule → ResolvingTemplate
//	          → Populating → Attached | Failed
//
// Resolver failures are deterministic configuration gaps and never retry;
// population and storage are external and get a bounded retry budget under
// a single deadline. Concurrent resolutions of the same trade serialize
// through the TradeLocker.
type Orchestrator struct {
	store     store.Store
	locker    store.TradeLocker
	populator DocumentPopulator
	storage   DocumentStorage
	notifier  Notifier

	collaboratorTimeout time.Duration
	transientRetries    int
}

// NewOrchestrator wires the resolution pipeline. A nil notifier falls back
// to NopNotifier.
func NewOrchestrator(st store.Store, locker store.TradeLocker, populator DocumentPopulator,
	storage DocumentStorage, notifier Notifier, collaboratorTimeout time.Duration, transientRetries int) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if collaboratorTimeout <= 0 {
		collaboratorTimeout = 30 * time.Second
	}
	if transientRetries < 0 {
		transientRetries = 0
	}
	return &Orchestrator{
		store:               st,
		locker:              locker,
		populator:           populator,
		storage:             storage,
		notifier:            notifier,
		collaboratorTimeout: collaboratorTimeout,
		transientRetries:    transientRetries,
	}
}

// Result is the success payload of ResolveAndAttach.
type Result struct {
	CounterpartyID string `json:"counterparty_id"`
	RuleID         string `json:"rule_id"`
	AccountID      string `json:"account_id"`
	TemplateID     string `json:"template_id"`
	DocumentRef    string `json:"document_ref"`
}

// ResolveAndAttach runs the full pipeline for one confirmed trade. With an
// existing successful outcome, force must be set or the call fails with
// ErrOverwriteConfirmationRequired; the overwrite itself is last-writer-wins.
func (o *Orchestrator) ResolveAndAttach(ctx context.Context, tenant, tradeID string, force bool, actor string) (*Result, error) {
	release, err := o.locker.AcquireTradeLock(ctx, tenant, tradeID)
	if err != nil {
		return nil, err
	}
	defer release()

	trade, err := o.store.GetTrade(ctx, tenant, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != model.TradeConfirmed {
		return nil, fmt.Errorf("%w: trade %s is %s", ErrTradeNotConfirmed, tradeID, trade.Status)
	}

	if prior, err := o.store.GetOutcome(ctx, tenant, tradeID); err == nil {
		if prior.Succeeded() && !force {
			return nil, fmt.Errorf("%w: trade %s already attached %s",
				ErrOverwriteConfirmationRequired, tradeID, prior.DocumentRef)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// --- ResolvingCounterparty ---
	aliases, err := o.store.ListAliases(ctx, tenant)
	if err != nil {
		return nil, err
	}
	counterpartyID, err := alias.NewResolver(tenant, aliases).Resolve(trade.Counterparty)
	if err != nil {
		return nil, o.fail(ctx, trade, actor, err)
	}

	// --- ResolvingRule ---
	ruleSet, err := o.store.ListRules(ctx, tenant)
	if err != nil {
		return nil, err
	}
	rule, _, err := rules.Select(ruleSet, trade, counterpartyID)
	if err != nil {
		return nil, o.fail(ctx, trade, actor, err)
	}
	account, err := o.store.GetAccount(ctx, tenant, rule.AccountID)
	if err != nil {
		return nil, err
	}

	// --- ResolvingTemplate ---
	catalog, err := o.store.ListTemplates(ctx, counterpartyID)
	if err != nil {
		return nil, err
	}
	tpl, _, err := templates.Select(catalog, trade, counterpartyID)
	if err != nil {
		return nil, o.fail(ctx, trade, actor, err)
	}

	// --- Populating ---
	docRef, err := o.populateAndStore(ctx, trade, account, tpl)
	if err != nil {
		return nil, o.fail(ctx, trade, actor, err)
	}

	// --- Attached ---
	outcome := &model.ResolutionOutcome{
		Tenant:         tenant,
		TradeID:        tradeID,
		State:          model.StateAttached,
		CounterpartyID: counterpartyID,
		RuleID:         rule.ID,
		AccountID:      account.ID,
		TemplateID:     tpl.ID,
		DocumentRef:    docRef,
		Actor:          actor,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := o.store.PutOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	o.record(ctx, trade, actor, model.SeverityInfo, "resolution_attached",
		fmt.Sprintf("rule %s, template %s, document %s", rule.ID, tpl.ID, docRef))
	metrics.ResolutionsTotal.WithLabelValues(model.StateAttached).Inc()

	slog.Info("trade resolved",
		"tenant", tenant,
		"trade", tradeID,
		"counterparty", counterpartyID,
		"rule", rule.ID,
		"template", tpl.ID,
		"document", docRef,
	)

	return &Result{
		CounterpartyID: counterpartyID,
		RuleID:         rule.ID,
		AccountID:      account.ID,
		TemplateID:     tpl.ID,
		DocumentRef:    docRef,
	}, nil
}

// populateAndStore runs the external collaborators under one bounded
// deadline with a small retry budget. Partial success is not a thing: if
// storage fails after population succeeded, the whole step fails.
func (o *Orchestrator) populateAndStore(ctx context.Context, trade *model.Trade,
	account *model.SettlementAccount, tpl *model.SettlementTemplate) (string, error) {

	ctx, cancel := context.WithTimeout(ctx, o.collaboratorTimeout)
	defer cancel()

	vars := instructionVars(trade, account)

	var lastErr error
	for attempt := 0; attempt <= o.transientRetries; attempt++ {
		if attempt > 0 {
			metrics.CollaboratorRetries.Inc()
		}
		if ctx.Err() != nil {
			break
		}

		doc, err := o.populator.Populate(ctx, tpl.DocumentRef, vars)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrDocumentPopulationFailed, err)
			continue
		}
		ref, err := o.storage.Put(ctx, trade.Tenant, trade.ID, doc)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrStorageFailed, err)
			continue
		}
		return ref, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %v", ErrDocumentPopulationFailed, ctx.Err())
	}
	return "", lastErr
}

// instructionVars builds the variable map handed to the populator.
func instructionVars(trade *model.Trade, account *model.SettlementAccount) map[string]string {
	return map[string]string{
		"tenant":           trade.Tenant,
		"trade_id":         trade.ID,
		"counterparty":     trade.Counterparty,
		"product":          trade.Product,
		"direction":        trade.Direction,
		"currency_pair":    trade.BaseCurrency + "/" + trade.QuoteCurrency,
		"settle_currency":  trade.SettleCurrency,
		"notional":         trade.Notional.String(),
		"trade_date":       trade.TradeDate.Format("2006-01-02"),
		"value_date":       trade.ValueDate.Format("2006-01-02"),
		"modality":         trade.Modality,
		"account_number":   account.Number,
		"account_bank":     account.Bank,
		"account_currency": account.Currency,
		"account_holder":   account.Holder,
	}
}

// fail records a terminal failure: outcome overwrite, audit entry, and
// notification, always together. Returns the original error for the caller.
func (o *Orchestrator) fail(ctx context.Context, trade *model.Trade, actor string, cause error) error {
	code := Code(cause)

	outcome := &model.ResolutionOutcome{
		Tenant:      trade.Tenant,
		TradeID:     trade.ID,
		State:       model.StateFailed,
		ErrorCode:   code,
		ErrorDetail: cause.Error(),
		Actor:       actor,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := o.store.PutOutcome(ctx, outcome); err != nil {
		slog.Error("failed to persist resolution outcome", "trade", trade.ID, "err", err)
	}

	o.record(ctx, trade, actor, model.SeverityError, code, cause.Error())
	metrics.ResolutionsTotal.WithLabelValues(model.StateFailed).Inc()
	metrics.ResolutionFailures.WithLabelValues(code).Inc()

	return cause
}

// record appends the audit entry and emits the matching notification.
func (o *Orchestrator) record(ctx context.Context, trade *model.Trade, actor, severity, code, detail string) {
	entry := &model.AuditEntry{
		Tenant:    trade.Tenant,
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Category:  model.CategoryResolution,
		TradeID:   trade.ID,
		Actor:     actor,
		Code:      code,
		Detail:    detail,
	}
	if err := o.store.AppendAudit(ctx, entry); err != nil {
		slog.Error("failed to append audit entry", "trade", trade.ID, "err", err)
	}

	evType := "resolution_attached"
	if severity == model.SeverityError {
		evType = "resolution_failed"
	}
	o.notifier.Notify(Event{
		Type:    evType,
		Tenant:  trade.Tenant,
		TradeID: trade.ID,
		Code:    code,
		Detail:  detail,
	})
}

// Preview is the read-only evaluation of every rule and template a trade
// would be judged against, with full predicate and score breakdowns. No
// state is touched.
type Preview struct {
	TradeID          string          `json:"trade_id"`
	CounterpartyID   string          `json:"counterparty_id,omitempty"`
	ErrorCode        string          `json:"error_code,omitempty"`
	ErrorDetail      string          `json:"error_detail,omitempty"`
	RuleTrace        rules.Trace     `json:"rule_trace,omitempty"`
	SelectedRule     string          `json:"selected_rule,omitempty"`
	TemplateTrace    templates.Trace `json:"template_trace,omitempty"`
	SelectedTemplate string          `json:"selected_template,omitempty"`
}

// PreviewCandidates evaluates the pipeline without mutating anything.
// Selector failures are reported inside the preview, not as call errors, so
// operators can inspect the traces that explain them.
func (o *Orchestrator) PreviewCandidates(ctx context.Context, tenant, tradeID string) (*Preview, error) {
	trade, err := o.store.GetTrade(ctx, tenant, tradeID)
	if err != nil {
		return nil, err
	}

	p := &Preview{TradeID: tradeID}

	aliases, err := o.store.ListAliases(ctx, tenant)
	if err != nil {
		return nil, err
	}
	counterpartyID, err := alias.NewResolver(tenant, aliases).Resolve(trade.Counterparty)
	if err != nil {
		p.ErrorCode = Code(err)
		p.ErrorDetail = err.Error()
		return p, nil
	}
	p.CounterpartyID = counterpartyID

	ruleSet, err := o.store.ListRules(ctx, tenant)
	if err != nil {
		return nil, err
	}
	rule, ruleTrace, ruleErr := rules.Select(ruleSet, trade, counterpartyID)
	p.RuleTrace = ruleTrace
	if ruleErr != nil {
		p.ErrorCode = Code(ruleErr)
		p.ErrorDetail = ruleErr.Error()
	} else {
		p.SelectedRule = rule.ID
	}

	catalog, err := o.store.ListTemplates(ctx, counterpartyID)
	if err != nil {
		return nil, err
	}
	tpl, tplTrace, tplErr := templates.Select(catalog, trade, counterpartyID)
	p.TemplateTrace = tplTrace
	if tplErr != nil {
		if p.ErrorCode == "" {
			p.ErrorCode = Code(tplErr)
			p.ErrorDetail = tplErr.Error()
		}
	} else {
		p.SelectedTemplate = tpl.ID
	}

	return p, nil
}
