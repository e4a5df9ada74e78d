package templates

import (
	"errors"
	"testing"

	"github.com/confira/settlement-engine/internal/model"
)

func fwdTrade() *model.Trade {
	return &model.Trade{
		ID:       "t1",
		Tenant:   "acme",
		Product:  "Forward",
		Modality: "Compensación",
		Status:   model.TradeConfirmed,
	}
}

func tpl(id, cp, modality, product, segment string, priority int) model.SettlementTemplate {
	return model.SettlementTemplate{
		ID: id, CounterpartyID: cp,
		Modality: modality, Product: product, Segment: segment,
		Priority: priority, Active: true, DocumentRef: "doc-" + id,
	}
}

func TestSelect_FiltersByCounterpartyActiveModality(t *testing.T) {
	trade := fwdTrade()
	inactive := tpl("off", "banco-bci", "Compensación", "Forward", "", 1)
	inactive.Active = false
	catalog := []model.SettlementTemplate{
		tpl("other-cp", "banco-santander", "Compensación", "Forward", "", 1),
		tpl("wrong-modality", "banco-bci", "entregaFisica", "Forward", "", 1),
		inactive,
		tpl("ok", "banco-bci", "Compensación", "Forward", "", 2),
	}

	winner, trace, err := Select(catalog, trade, "banco-bci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.ID != "ok" {
		t.Errorf("expected ok, got %s", winner.ID)
	}
	if len(trace) != 1 {
		t.Errorf("only surviving templates belong in the trace, got %d", len(trace))
	}
}

func TestSelect_ScoreBreakdown(t *testing.T) {
	trade := fwdTrade()
	catalog := []model.SettlementTemplate{
		tpl("a", "banco-bci", "Compensación", "Forward", "", 3),
	}

	_, trace, err := Select(catalog, trade, "banco-bci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := trace[0]
	if s.ModalityBonus != 100 || s.ProductBonus != 50 || s.GenericBonus != 10 {
		t.Errorf("bonus breakdown wrong: %+v", s)
	}
	if s.PriorityBonus != 997 {
		t.Errorf("priority bonus = %d, want 997", s.PriorityBonus)
	}
	if s.Total != 1157 {
		t.Errorf("total = %d, want 1157", s.Total)
	}
	if !s.Selected {
		t.Error("sole survivor must be marked selected")
	}
}

func TestSelect_SegmentSpecificLosesGenericBonus(t *testing.T) {
	trade := fwdTrade()
	catalog := []model.SettlementTemplate{
		tpl("segmented", "banco-bci", "Compensación", "Forward", "corporate", 1),
		tpl("generic", "banco-bci", "Compensación", "Forward", "", 1),
	}

	winner, _, err := Select(catalog, trade, "banco-bci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.ID != "generic" {
		t.Errorf("generic template should outrank segmented absent segment data, got %s", winner.ID)
	}
}

// Increasing a template's priority number by Δ decreases its total by exactly
// Δ and leaves other templates' scores untouched.
func TestSelect_ScoreIndependence(t *testing.T) {
	trade := fwdTrade()
	catalog := []model.SettlementTemplate{
		tpl("a", "banco-bci", "Compensación", "Forward", "", 3),
		tpl("b", "banco-bci", "Compensación", "", "", 7),
	}

	_, before, err := Select(catalog, trade, "banco-bci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const delta = 5
	catalog[0].Priority += delta
	_, after, err := Select(catalog, trade, "banco-bci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if after[0].Total != before[0].Total-delta {
		t.Errorf("a's score moved by %d, want %d", before[0].Total-after[0].Total, delta)
	}
	if after[1].Total != before[1].Total {
		t.Errorf("b's score changed: %d → %d", before[1].Total, after[1].Total)
	}
}

// Two templates with identical settlement-type/product/priority score the
// same total; the tie-break must be reproducible across runs.
func TestSelect_IdenticalScoresTieBreakDeterministic(t *testing.T) {
	trade := fwdTrade()
	catalog := []model.SettlementTemplate{
		tpl("first", "banco-bci", "Compensación", "Forward", "", 3),
		tpl("second", "banco-bci", "Compensación", "Forward", "", 3),
	}

	for run := 0; run < 5; run++ {
		winner, trace, err := Select(catalog, trade, "banco-bci")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if trace[0].Total != trace[1].Total {
			t.Fatalf("expected equal totals, got %d vs %d", trace[0].Total, trace[1].Total)
		}
		if winner.ID != "first" {
			t.Fatalf("run %d: tie-break picked %s, want first-seen", run, winner.ID)
		}
	}
}

func TestSelect_TieBreakPrefersLowerPriority(t *testing.T) {
	trade := fwdTrade()
	// b: product bonus 50, priority 2 → 100+50+10+998 = 1158
	// a: no product bonus, priority 1  → 100+0+10+999  = 1109
	catalog := []model.SettlementTemplate{
		tpl("a", "banco-bci", "Compensación", "Swap", "", 1),
		tpl("b", "banco-bci", "Compensación", "Forward", "", 2),
	}

	winner, _, err := Select(catalog, trade, "banco-bci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if winner.ID != "b" {
		t.Errorf("higher total must win regardless of priority, got %s", winner.ID)
	}
}

func TestSelect_EmptyAfterFiltering(t *testing.T) {
	trade := fwdTrade()
	catalog := []model.SettlementTemplate{
		tpl("phys", "banco-bci", "entregaFisica", "Forward", "", 1),
	}

	_, _, err := Select(catalog, trade, "banco-bci")
	if !errors.Is(err, ErrNoMatchingTemplate) {
		t.Fatalf("expected ErrNoMatchingTemplate, got %v", err)
	}
	var nm *NoMatchError
	if !errors.As(err, &nm) {
		t.Fatalf("expected *NoMatchError, got %T", err)
	}
	if nm.Considered != 1 {
		t.Errorf("considered = %d, want 1", nm.Considered)
	}
}
