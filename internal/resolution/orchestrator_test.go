package resolution_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/confira/settlement-engine/internal/alias"
	"github.com/confira/settlement-engine/internal/model"
	"github.com/confira/settlement-engine/internal/resolution"
	"github.com/confira/settlement-engine/internal/rules"
	"github.com/confira/settlement-engine/internal/store"
)

// --- Fake collaborators ---

type fakePopulator struct {
	mu       sync.Mutex
	calls    int
	failures int // fail the first N calls
}

func (p *fakePopulator) Populate(_ context.Context, _ string, _ map[string]string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("renderer crashed")
	}
	return []byte("%PDF-fake"), nil
}

type fakeStorage struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *fakeStorage) Put(_ context.Context, tenant, tradeID string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return "", errors.New("bucket unavailable")
	}
	return "documents/" + tenant + "/" + tradeID + ".pdf", nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []resolution.Event
}

func (n *recordingNotifier) Notify(ev resolution.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) last(t *testing.T) resolution.Event {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		t.Fatal("no events recorded")
	}
	return n.events[len(n.events)-1]
}

// countingStore tracks config reads so tests can assert the resolver
// short-circuit.
type countingStore struct {
	store.Store
	ruleReads     int
	templateReads int
}

func (c *countingStore) ListRules(ctx context.Context, tenant string) ([]model.SettlementRule, error) {
	c.ruleReads++
	return c.Store.ListRules(ctx, tenant)
}

func (c *countingStore) ListTemplates(ctx context.Context, counterpartyID string) ([]model.SettlementTemplate, error) {
	c.templateReads++
	return c.Store.ListTemplates(ctx, counterpartyID)
}

// --- Test environment ---

type testEnv struct {
	ms        *store.MemoryStore
	cs        *countingStore
	populator *fakePopulator
	storage   *fakeStorage
	notifier  *recordingNotifier
	orch      *resolution.Orchestrator
}

func newTestEnv(t *testing.T, retries int) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	cs := &countingStore{Store: ms}
	env := &testEnv{
		ms:        ms,
		cs:        cs,
		populator: &fakePopulator{},
		storage:   &fakeStorage{},
		notifier:  &recordingNotifier{},
	}
	env.orch = resolution.NewOrchestrator(cs, ms, env.populator, env.storage,
		env.notifier, 5*time.Second, retries)
	return env
}

// seedResolvable loads a confirmed trade plus the configuration it needs to
// resolve end to end.
func seedResolvable(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	trade := &model.Trade{
		ID: "t1", Tenant: "acme",
		Counterparty: "Banco BCI", Product: "Forward", Direction: model.DirectionBuy,
		BaseCurrency: "USD", QuoteCurrency: "CLP", SettleCurrency: "CLP",
		Notional:  decimal.NewFromInt(1_000_000),
		TradeDate: time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC),
		ValueDate: time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC),
		Modality:  "Compensación",
		Status:    model.TradeConfirmed,
	}
	if err := ms.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("seed trade: %v", err)
	}

	ms.SeedAliases(model.CounterpartyAlias{
		Tenant: "acme", Alias: "Banco BCI", CounterpartyID: "banco-bci",
	})
	ms.SeedRules(model.SettlementRule{
		ID: "r1", Tenant: "acme",
		Counterparty: "banco-bci", Product: "", Currency: "CLP", Modality: "Compensación",
		Priority: 1, Active: true, AccountID: "acct-1",
	})
	ms.SeedAccounts(model.SettlementAccount{
		ID: "acct-1", Tenant: "acme",
		Number: "001-2345-678", Bank: "BCI", Currency: "CLP", Holder: "Acme SpA",
	})
	ms.SeedTemplates(model.SettlementTemplate{
		ID: "tpl-1", CounterpartyID: "banco-bci",
		Modality: "Compensación", Product: "Forward",
		Priority: 1, Active: true, DocumentRef: "bci/compensacion.docx",
	})
}

// --- ResolveAndAttach ---

func TestResolveAndAttach_Success(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	result, err := env.orch.ResolveAndAttach(ctx, "acme", "t1", false, "ops@acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CounterpartyID != "banco-bci" || result.RuleID != "r1" ||
		result.AccountID != "acct-1" || result.TemplateID != "tpl-1" {
		t.Errorf("result wrong: %+v", result)
	}
	if result.DocumentRef == "" {
		t.Error("expected a document reference")
	}

	outcome, err := env.ms.GetOutcome(ctx, "acme", "t1")
	if err != nil {
		t.Fatalf("outcome not persisted: %v", err)
	}
	if !outcome.Succeeded() || outcome.Actor != "ops@acme" {
		t.Errorf("outcome wrong: %+v", outcome)
	}

	ev := env.notifier.last(t)
	if ev.Type != "resolution_attached" || ev.TradeID != "t1" {
		t.Errorf("notification wrong: %+v", ev)
	}

	entries, _ := env.ms.ListAudit(ctx, "acme", 10)
	if len(entries) != 1 || entries[0].Severity != model.SeverityInfo {
		t.Errorf("expected one info audit entry, got %+v", entries)
	}
}

func TestResolveAndAttach_UnresolvedCounterpartyShortCircuits(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	trade := &model.Trade{
		ID: "t2", Tenant: "acme",
		Counterparty: "Banco Fantasma", Product: "Forward", Direction: model.DirectionSell,
		Modality: "Compensación", Status: model.TradeConfirmed,
	}
	if err := env.ms.CreateTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	_, err := env.orch.ResolveAndAttach(ctx, "acme", "t2", false, "ops")
	if !errors.Is(err, alias.ErrCounterpartyUnresolved) {
		t.Fatalf("expected ErrCounterpartyUnresolved, got %v", err)
	}

	// Neither selector runs after the resolver fails.
	if env.cs.ruleReads != 0 || env.cs.templateReads != 0 {
		t.Errorf("selectors invoked after unresolved counterparty: rules=%d templates=%d",
			env.cs.ruleReads, env.cs.templateReads)
	}
	if env.populator.calls != 0 {
		t.Errorf("populator invoked after unresolved counterparty")
	}

	outcome, err := env.ms.GetOutcome(ctx, "acme", "t2")
	if err != nil {
		t.Fatalf("failure outcome not persisted: %v", err)
	}
	if outcome.State != model.StateFailed || outcome.ErrorCode != resolution.CodeCounterpartyUnresolved {
		t.Errorf("outcome wrong: %+v", outcome)
	}

	// Notification and audit entry must agree.
	ev := env.notifier.last(t)
	if ev.Type != "resolution_failed" || ev.Code != resolution.CodeCounterpartyUnresolved {
		t.Errorf("notification wrong: %+v", ev)
	}
	entries, _ := env.ms.ListAudit(ctx, "acme", 10)
	if len(entries) != 1 || entries[0].Code != resolution.CodeCounterpartyUnresolved {
		t.Errorf("audit entry missing or wrong: %+v", entries)
	}
}

func TestResolveAndAttach_SecondCallRequiresForce(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	if _, err := env.orch.ResolveAndAttach(ctx, "acme", "t1", false, "ops"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	_, err := env.orch.ResolveAndAttach(ctx, "acme", "t1", false, "ops")
	if !errors.Is(err, resolution.ErrOverwriteConfirmationRequired) {
		t.Fatalf("expected ErrOverwriteConfirmationRequired, got %v", err)
	}

	// With force, the outcome is overwritten, not versioned.
	result, err := env.orch.ResolveAndAttach(ctx, "acme", "t1", true, "ops")
	if err != nil {
		t.Fatalf("forced resolve: %v", err)
	}
	if result.RuleID != "r1" {
		t.Errorf("forced resolve picked %s, want r1", result.RuleID)
	}
}

func TestResolveAndAttach_IdempotentSelection(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	first, err := env.orch.ResolveAndAttach(ctx, "acme", "t1", false, "ops")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := env.orch.ResolveAndAttach(ctx, "acme", "t1", true, "ops")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.RuleID != second.RuleID || first.TemplateID != second.TemplateID ||
		first.CounterpartyID != second.CounterpartyID {
		t.Errorf("selection not idempotent: %+v vs %+v", first, second)
	}
}

func TestResolveAndAttach_TradeNotConfirmed(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	if err := env.ms.UpdateTradeStatus(ctx, "acme", "t1", model.TradeUnmatched); err != nil {
		t.Fatal(err)
	}
	_, err := env.orch.ResolveAndAttach(ctx, "acme", "t1", false, "ops")
	if !errors.Is(err, resolution.ErrTradeNotConfirmed) {
		t.Fatalf("expected ErrTradeNotConfirmed, got %v", err)
	}
}

func TestResolveAndAttach_RuleTieSurfaced(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	env.ms.SeedRules(model.SettlementRule{
		ID: "r2", Tenant: "acme",
		Counterparty: "", Product: "Forward", Currency: "", Modality: "Compensación",
		Priority: 1, Active: true, AccountID: "acct-1",
	})

	_, err := env.orch.ResolveAndAttach(ctx, "acme", "t1", false, "ops")
	if !errors.Is(err, rules.ErrAmbiguousRuleTie) {
		t.Fatalf("expected ErrAmbiguousRuleTie, got %v", err)
	}

	outcome, _ := env.ms.GetOutcome(ctx, "acme", "t1")
	if outcome.ErrorCode != resolution.CodeAmbiguousRuleTie {
		t.Errorf("outcome code = %s, want ambiguous_rule_tie", outcome.ErrorCode)
	}
}

func TestResolveAndAttach_TransientPopulationRetried(t *testing.T) {
	env := newTestEnv(t, 2)
	seedResolvable(t, env.ms)
	env.populator.failures = 1

	result, err := env.orch.ResolveAndAttach(context.Background(), "acme", "t1", false, "ops")
	if err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if env.populator.calls != 2 {
		t.Errorf("populator calls = %d, want 2", env.populator.calls)
	}
	if result.DocumentRef == "" {
		t.Error("expected document reference after retry")
	}
}

func TestResolveAndAttach_RetriesExhausted(t *testing.T) {
	env := newTestEnv(t, 1)
	seedResolvable(t, env.ms)
	env.populator.failures = 10

	_, err := env.orch.ResolveAndAttach(context.Background(), "acme", "t1", false, "ops")
	if !errors.Is(err, resolution.ErrDocumentPopulationFailed) {
		t.Fatalf("expected ErrDocumentPopulationFailed, got %v", err)
	}
	if env.populator.calls != 2 {
		t.Errorf("populator calls = %d, want 2 (initial + 1 retry)", env.populator.calls)
	}

	outcome, _ := env.ms.GetOutcome(context.Background(), "acme", "t1")
	if outcome.State != model.StateFailed || outcome.ErrorCode != resolution.CodeDocumentPopulationFailed {
		t.Errorf("outcome wrong: %+v", outcome)
	}
}

func TestResolveAndAttach_StorageFailureIsNotPartialSuccess(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	env.storage.fail = true

	_, err := env.orch.ResolveAndAttach(context.Background(), "acme", "t1", false, "ops")
	if !errors.Is(err, resolution.ErrStorageFailed) {
		t.Fatalf("expected ErrStorageFailed, got %v", err)
	}

	outcome, _ := env.ms.GetOutcome(context.Background(), "acme", "t1")
	if outcome.Succeeded() || outcome.DocumentRef != "" {
		t.Errorf("storage failure must fail the whole operation: %+v", outcome)
	}
}

func TestResolveAndAttach_LockHeld(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	release, err := env.ms.AcquireTradeLock(ctx, "acme", "t1")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, err = env.orch.ResolveAndAttach(ctx, "acme", "t1", false, "ops")
	if !errors.Is(err, store.ErrTradeLockHeld) {
		t.Fatalf("expected ErrTradeLockHeld, got %v", err)
	}
}

// --- PreviewCandidates ---

func TestPreviewCandidates_FullTraceNoMutation(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	env.ms.SeedRules(model.SettlementRule{
		ID: "r-miss", Tenant: "acme",
		Counterparty: "banco-santander", Modality: "Compensación",
		Priority: 5, Active: true, AccountID: "acct-9",
	})

	p, err := env.orch.PreviewCandidates(ctx, "acme", "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CounterpartyID != "banco-bci" || p.SelectedRule != "r1" || p.SelectedTemplate != "tpl-1" {
		t.Errorf("preview selections wrong: %+v", p)
	}
	if len(p.RuleTrace) != 2 {
		t.Errorf("expected both rules in trace, got %d", len(p.RuleTrace))
	}
	if len(p.TemplateTrace) != 1 {
		t.Errorf("expected template trace, got %d", len(p.TemplateTrace))
	}

	// Preview never writes an outcome.
	if _, err := env.ms.GetOutcome(ctx, "acme", "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("preview must not persist an outcome, got err=%v", err)
	}
	if env.populator.calls != 0 {
		t.Errorf("preview must not populate documents")
	}
}

func TestPreviewCandidates_ReportsFailuresInline(t *testing.T) {
	env := newTestEnv(t, 0)
	seedResolvable(t, env.ms)
	ctx := context.Background()

	trade := &model.Trade{
		ID: "t3", Tenant: "acme",
		Counterparty: "Banco Fantasma", Product: "Forward", Direction: model.DirectionBuy,
		Modality: "Compensación", Status: model.TradeConfirmed,
	}
	if err := env.ms.CreateTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	p, err := env.orch.PreviewCandidates(ctx, "acme", "t3")
	if err != nil {
		t.Fatalf("selector failures belong inside the preview, got call error %v", err)
	}
	if p.ErrorCode != resolution.CodeCounterpartyUnresolved {
		t.Errorf("error code = %s, want counterparty_unresolved", p.ErrorCode)
	}
	if p.CounterpartyID != "" || p.SelectedRule != "" {
		t.Errorf("nothing should be selected: %+v", p)
	}
}
