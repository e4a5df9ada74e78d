// Package match pairs unmatched trades with unmatched bank confirmations.
//
// Each trade/confirmation pair scores a weighted sum of exact field
// comparisons; the reasons list records every field that contributed. Per
// trade, the single best confirmation above the floor is proposed. A tied top
// score is never auto-resolved: the proposal is forced to review_needed no
// matter how high the score. Persisting proposals (and the atomic status
// flips) is the caller's job; this package is pure computation.
package match

import (
	"fmt"

	"github.com/confira/settlement-engine/internal/alias"
	"github.com/confira/settlement-engine/internal/model"
)

// Weights assigns the fixed point value each field comparison contributes.
// The defaults sum to 100; the score is capped there regardless.
type Weights struct {
	Counterparty int `yaml:"counterparty"`
	TradeDate    int `yaml:"trade_date"`
	Notional     int `yaml:"notional"`
	Product      int `yaml:"product"`
	CurrencyPair int `yaml:"currency_pair"`
	Direction    int `yaml:"direction"`
}

// DefaultWeights mirror the field importance observed in operator review:
// counterparty identity and notional dominate, direction and currency pair
// mostly confirm.
func DefaultWeights() Weights {
	return Weights{
		Counterparty: 30,
		TradeDate:    15,
		Notional:     20,
		Product:      15,
		CurrencyPair: 10,
		Direction:    10,
	}
}

// Config tunes the matching engine.
type Config struct {
	Weights Weights `yaml:"weights"`

	// Floor is the minimum score a confirmation must reach to be paired at
	// all; below it the trade stays unmatched.
	Floor int `yaml:"floor"`

	// ConfirmThreshold is the score at or above which an untied match is
	// confirmed rather than queued for review.
	ConfirmThreshold int `yaml:"confirm_threshold"`
}

// DefaultConfig returns the engine defaults: floor 40, confirm at 80.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		Floor:            40,
		ConfirmThreshold: 80,
	}
}

// Proposal is a scored pairing of one trade with one confirmation, not yet
// persisted.
type Proposal struct {
	TradeID        string   `json:"trade_id"`
	ConfirmationID string   `json:"confirmation_id"`
	Score          int      `json:"score"`
	Reasons        []string `json:"reasons"`
	Status         string   `json:"status"`
}

// Engine scores and pairs trades against confirmations.
type Engine struct {
	cfg Config
}

// NewEngine creates a matching engine. Zero-valued config fields fall back
// to defaults so a partially specified yaml file stays safe.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Floor <= 0 {
		cfg.Floor = def.Floor
	}
	if cfg.ConfirmThreshold <= 0 {
		cfg.ConfirmThreshold = def.ConfirmThreshold
	}
	return &Engine{cfg: cfg}
}

// ScorePair computes the confidence score for one trade/confirmation pair and
// the list of fields that matched. The score is capped at 100.
func (e *Engine) ScorePair(t *model.Trade, c *model.Confirmation) (int, []string) {
	w := e.cfg.Weights
	score := 0
	var reasons []string

	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	// Counterparty names arrive as free text on both sides; compare the
	// normalized forms so "Banco BCI" and "BANCO B.C.I." agree.
	if alias.Normalize(t.Counterparty) != "" && alias.Normalize(t.Counterparty) == alias.Normalize(c.Counterparty) {
		add(w.Counterparty, "counterparty")
	}
	if !t.TradeDate.IsZero() && t.TradeDate.Equal(c.TradeDate) {
		add(w.TradeDate, "trade_date")
	}
	if !t.Notional.IsZero() && t.Notional.Equal(c.Notional) {
		add(w.Notional, "notional")
	}
	if t.Product != "" && t.Product == c.Product {
		add(w.Product, "product")
	}
	if t.BaseCurrency != "" && t.BaseCurrency == c.BaseCurrency && t.QuoteCurrency == c.QuoteCurrency {
		add(w.CurrencyPair, "currency_pair")
	}
	if t.Direction != "" && t.Direction == c.Direction {
		add(w.Direction, "direction")
	}

	if score > 100 {
		score = 100
	}
	return score, reasons
}

// FindMatches proposes pairings over the given unmatched trades and
// confirmations. Records whose status is not unmatched are skipped. Each
// confirmation is consumed by at most one trade, in trade input order, so the
// result never violates the uniqueness invariant.
func (e *Engine) FindMatches(trades []model.Trade, confirmations []model.Confirmation) []Proposal {
	taken := make(map[string]bool, len(confirmations))
	var proposals []Proposal

	for i := range trades {
		t := &trades[i]
		if t.Status != model.TradeUnmatched {
			continue
		}

		bestScore := -1
		bestIdx := -1
		var bestReasons []string
		tiedAtTop := false

		for j := range confirmations {
			c := &confirmations[j]
			if c.Status != model.ConfirmationUnmatched || taken[c.ID] {
				continue
			}
			score, reasons := e.ScorePair(t, c)
			if score < e.cfg.Floor {
				continue
			}
			switch {
			case score > bestScore:
				bestScore, bestIdx, bestReasons = score, j, reasons
				tiedAtTop = false
			case score == bestScore:
				tiedAtTop = true
			}
		}

		if bestIdx < 0 {
			continue // nothing cleared the floor, trade stays unmatched
		}

		status := model.MatchReviewNeeded
		if tiedAtTop {
			bestReasons = append(bestReasons, "tied top score")
		} else if bestScore >= e.cfg.ConfirmThreshold {
			status = model.MatchConfirmed
		}

		taken[confirmations[bestIdx].ID] = true
		proposals = append(proposals, Proposal{
			TradeID:        t.ID,
			ConfirmationID: confirmations[bestIdx].ID,
			Score:          bestScore,
			Reasons:        bestReasons,
			Status:         status,
		})
	}

	return proposals
}

// MatchStatus returns the status a score maps to when untied.
func (e *Engine) MatchStatus(score int) string {
	if score >= e.cfg.ConfirmThreshold {
		return model.MatchConfirmed
	}
	return model.MatchReviewNeeded
}

// Describe summarizes the engine configuration for logs.
func (e *Engine) Describe() string {
	return fmt.Sprintf("floor=%d confirm=%d", e.cfg.Floor, e.cfg.ConfirmThreshold)
}
