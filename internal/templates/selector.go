// Package templates selects the bank document template for a confirmed trade
// from the counterparty's template catalog.
//
// Unlike settlement rules, templates overlap loosely, so selection scores
// rather than AND-gates: hard filters narrow to the counterparty's active
// templates with the exact settlement modality, then additive bonuses rank
// the survivors. Ties break by lowest priority, then first-seen order, so the
// outcome is reproducible for unchanged input ordering.
package templates

import (
	"errors"
	"fmt"
	"strings"

	"github.com/confira/settlement-engine/internal/model"
)

// ErrNoMatchingTemplate is returned when the hard filters leave no candidate.
var ErrNoMatchingTemplate = errors.New("templates: no matching template")

// Scoring constants. Priority feeds in as 1000−priority so lower configured
// numbers dominate, matching the convention used by settlement rules.
const (
	modalityBonus = 100
	productBonus  = 50
	genericBonus  = 10
	priorityBase  = 1000
)

// Score is one template's breakdown in the selection trace.
type Score struct {
	TemplateID    string `json:"template_id"`
	Priority      int    `json:"priority"`
	ModalityBonus int    `json:"modality_bonus"`
	ProductBonus  int    `json:"product_bonus"`
	GenericBonus  int    `json:"generic_bonus"`
	PriorityBonus int    `json:"priority_bonus"`
	Total         int    `json:"total"`
	Selected      bool   `json:"selected"`
}

// Trace lists every surviving template's score breakdown in evaluation order.
type Trace []Score

// NoMatchError reports why nothing survived filtering.
type NoMatchError struct {
	Trade          string
	CounterpartyID string
	Considered     int // active templates for the counterparty before the modality filter
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("templates: no matching template for trade %s (counterparty %s, %d considered)",
		e.Trade, e.CounterpartyID, e.Considered)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatchingTemplate }

// score computes one surviving template's total. The modality bonus is
// guaranteed by the filter but stays explicit in the breakdown.
func score(tpl model.SettlementTemplate, trade *model.Trade) Score {
	s := Score{
		TemplateID:    tpl.ID,
		Priority:      tpl.Priority,
		ModalityBonus: modalityBonus,
		PriorityBonus: priorityBase - tpl.Priority,
	}
	if tpl.Product != "" && strings.Contains(trade.Product, tpl.Product) {
		s.ProductBonus = productBonus
	}
	// Generic templates (no segment restriction) score the bonus; a
	// segment-specific template will outrank them once trades carry segment
	// data and segment matching is scored.
	if tpl.Segment == "" {
		s.GenericBonus = genericBonus
	}
	s.Total = s.ModalityBonus + s.ProductBonus + s.GenericBonus + s.PriorityBonus
	return s
}

// Select picks the template with the maximum total score among the
// counterparty's active templates whose modality equals the trade's.
// Returns the winner plus the full scored trace for diagnostics.
func Select(catalog []model.SettlementTemplate, trade *model.Trade, canonicalCounterparty string) (*model.SettlementTemplate, Trace, error) {
	considered := 0
	var survivors []int
	for i, tpl := range catalog {
		if tpl.CounterpartyID != canonicalCounterparty || !tpl.Active {
			continue
		}
		considered++
		if tpl.Modality != trade.Modality {
			continue
		}
		survivors = append(survivors, i)
	}

	if len(survivors) == 0 {
		return nil, nil, &NoMatchError{
			Trade:          trade.ID,
			CounterpartyID: canonicalCounterparty,
			Considered:     considered,
		}
	}

	trace := make(Trace, 0, len(survivors))
	best := -1
	for _, i := range survivors {
		s := score(catalog[i], trade)
		trace = append(trace, s)
		if best == -1 {
			best = len(trace) - 1
			continue
		}
		cur := trace[best]
		switch {
		case s.Total > cur.Total:
			best = len(trace) - 1
		case s.Total == cur.Total && s.Priority < cur.Priority:
			best = len(trace) - 1
			// Equal total and priority: keep the first seen.
		}
	}

	trace[best].Selected = true
	for _, i := range survivors {
		if catalog[i].ID == trace[best].TemplateID {
			winner := catalog[i]
			return &winner, trace, nil
		}
	}
	// Unreachable: best always indexes a survivor.
	return nil, trace, &NoMatchError{Trade: trade.ID, CounterpartyID: canonicalCounterparty, Considered: considered}
}
