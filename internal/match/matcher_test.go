package match

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/confira/settlement-engine/internal/model"
)

var aug14 = time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

func baseTrade(id string) model.Trade {
	return model.Trade{
		ID:            id,
		Tenant:        "acme",
		Counterparty:  "Banco BCI",
		Product:       "Forward",
		Direction:     model.DirectionBuy,
		BaseCurrency:  "USD",
		QuoteCurrency: "CLP",
		Notional:      decimal.NewFromInt(1_000_000),
		TradeDate:     aug14,
		Modality:      "Compensación",
		Status:        model.TradeUnmatched,
	}
}

func mirrorConfirmation(id string, t model.Trade) model.Confirmation {
	return model.Confirmation{
		ID:            id,
		Tenant:        t.Tenant,
		Sender:        "confirmaciones@bci.cl",
		Counterparty:  t.Counterparty,
		Product:       t.Product,
		Direction:     t.Direction,
		BaseCurrency:  t.BaseCurrency,
		QuoteCurrency: t.QuoteCurrency,
		Notional:      t.Notional,
		TradeDate:     t.TradeDate,
		Modality:      t.Modality,
		Status:        model.ConfirmationUnmatched,
	}
}

func TestScorePair_PerfectMatch(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade("t1")
	cf := mirrorConfirmation("c1", tr)

	score, reasons := e.ScorePair(&tr, &cf)
	if score != 100 {
		t.Errorf("perfect pair score = %d, want 100", score)
	}
	want := []string{"counterparty", "trade_date", "notional", "product", "currency_pair", "direction"}
	if len(reasons) != len(want) {
		t.Fatalf("reasons = %v, want %v", reasons, want)
	}
	for i, r := range want {
		if reasons[i] != r {
			t.Errorf("reasons[%d] = %s, want %s", i, reasons[i], r)
		}
	}
}

func TestScorePair_CounterpartyNormalized(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade("t1")
	cf := mirrorConfirmation("c1", tr)
	cf.Counterparty = "BANCO B.C.I."

	score, reasons := e.ScorePair(&tr, &cf)
	if score != 100 {
		t.Errorf("normalized counterparty should still match, score = %d", score)
	}
	if reasons[0] != "counterparty" {
		t.Errorf("expected counterparty reason first, got %v", reasons)
	}
}

func TestScorePair_PartialMismatch(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade("t1")
	cf := mirrorConfirmation("c1", tr)
	cf.Counterparty = "Banco Santander" // −30
	cf.Notional = decimal.NewFromInt(999_999)

	score, reasons := e.ScorePair(&tr, &cf)
	if score != 50 {
		t.Errorf("score = %d, want 50", score)
	}
	for _, r := range reasons {
		if r == "counterparty" || r == "notional" {
			t.Errorf("mismatched field %q must not appear in reasons", r)
		}
	}
}

func TestFindMatches_BestCandidateWins(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade("t1")
	exact := mirrorConfirmation("exact", tr)
	near := mirrorConfirmation("near", tr)
	near.Notional = decimal.NewFromInt(5)

	proposals := e.FindMatches([]model.Trade{tr}, []model.Confirmation{near, exact})
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}
	p := proposals[0]
	if p.ConfirmationID != "exact" {
		t.Errorf("expected exact to win, got %s", p.ConfirmationID)
	}
	if p.Status != model.MatchConfirmed {
		t.Errorf("score %d should confirm, got %s", p.Score, p.Status)
	}
}

func TestFindMatches_BelowFloorStaysUnmatched(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade("t1")
	cf := mirrorConfirmation("c1", tr)
	cf.Counterparty = "Banco Santander"
	cf.Notional = decimal.NewFromInt(1)
	cf.TradeDate = aug14.AddDate(0, 0, 3)
	cf.Product = "Spot"
	// Only currency pair (10) and direction (10) agree: 20 < floor 40.

	proposals := e.FindMatches([]model.Trade{tr}, []model.Confirmation{cf})
	if len(proposals) != 0 {
		t.Fatalf("expected no proposals below floor, got %+v", proposals)
	}
}

func TestFindMatches_MidScoreNeedsReview(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade("t1")
	cf := mirrorConfirmation("c1", tr)
	cf.Counterparty = "Banco Santander"
	cf.Notional = decimal.NewFromInt(7)
	// 100 − 30 − 20 = 50: above floor, below confirm threshold.

	proposals := e.FindMatches([]model.Trade{tr}, []model.Confirmation{cf})
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}
	if proposals[0].Status != model.MatchReviewNeeded {
		t.Errorf("status = %s, want review_needed", proposals[0].Status)
	}
}

func TestFindMatches_TiedTopScoreForcesReview(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade("t1")
	a := mirrorConfirmation("a", tr)
	b := mirrorConfirmation("b", tr) // identical → same 100 score

	proposals := e.FindMatches([]model.Trade{tr}, []model.Confirmation{a, b})
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}
	p := proposals[0]
	if p.Status != model.MatchReviewNeeded {
		t.Errorf("tied top score must force review_needed even at score %d, got %s", p.Score, p.Status)
	}
	found := false
	for _, r := range p.Reasons {
		if r == "tied top score" {
			found = true
		}
	}
	if !found {
		t.Errorf("tie reason missing from %v", p.Reasons)
	}
}

func TestFindMatches_ConfirmationConsumedOnce(t *testing.T) {
	e := NewEngine(DefaultConfig())
	t1 := baseTrade("t1")
	t2 := baseTrade("t2")
	cf := mirrorConfirmation("c1", t1)

	proposals := e.FindMatches([]model.Trade{t1, t2}, []model.Confirmation{cf})
	if len(proposals) != 1 {
		t.Fatalf("one confirmation can satisfy only one trade, got %d proposals", len(proposals))
	}
	if proposals[0].TradeID != "t1" {
		t.Errorf("first trade in input order should consume the confirmation, got %s", proposals[0].TradeID)
	}
}

func TestFindMatches_SkipsAlreadyMatched(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tr := baseTrade("t1")
	tr.Status = model.TradeMatched
	cf := mirrorConfirmation("c1", tr)
	cf.Status = model.ConfirmationUnmatched

	if got := e.FindMatches([]model.Trade{tr}, []model.Confirmation{cf}); len(got) != 0 {
		t.Errorf("matched trade must be skipped, got %+v", got)
	}

	tr.Status = model.TradeUnmatched
	cf.Status = model.ConfirmationMatched
	if got := e.FindMatches([]model.Trade{tr}, []model.Confirmation{cf}); len(got) != 0 {
		t.Errorf("matched confirmation must be skipped, got %+v", got)
	}
}

func TestNewEngine_ZeroConfigFallsBackToDefaults(t *testing.T) {
	e := NewEngine(Config{})
	if e.cfg.Floor != 40 || e.cfg.ConfirmThreshold != 80 {
		t.Errorf("defaults not applied: %+v", e.cfg)
	}
	if e.cfg.Weights != DefaultWeights() {
		t.Errorf("default weights not applied: %+v", e.cfg.Weights)
	}
}
