// Package rules selects the settlement rule that applies to a confirmed trade.
//
// A rule is a candidate only when all four predicates hold: counterparty,
// product, settlement currency, and modality. The empty string is a deliberate
// wildcard for the first three (IsWildcardOrContains); modality always matches
// exactly. Among candidates the lowest priority number wins; a shared lowest
// priority is a configuration error surfaced as ErrAmbiguousRuleTie, never
// silently broken.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/confira/settlement-engine/internal/model"
)

var (
	// ErrNoMatchingRule is returned when no active rule passes all four
	// predicates. The full evaluation trace rides along for diagnostics.
	ErrNoMatchingRule = errors.New("rules: no matching settlement rule")

	// ErrAmbiguousRuleTie is returned when two or more candidates share the
	// lowest priority value.
	ErrAmbiguousRuleTie = errors.New("rules: ambiguous settlement rule tie")
)

// Evaluation records one rule's per-predicate booleans. It is the unit of the
// diagnostic trace: operators read these to see why a rule was excluded.
type Evaluation struct {
	RuleID       string `json:"rule_id"`
	Priority     int    `json:"priority"`
	Counterparty bool   `json:"counterparty"`
	Product      bool   `json:"product"`
	Currency     bool   `json:"currency"`
	Modality     bool   `json:"modality"`
	Candidate    bool   `json:"candidate"`
	Tied         bool   `json:"tied"` // shares the lowest priority with another candidate
}

// Trace is the ordered evaluation of every active rule considered.
type Trace []Evaluation

// NoMatchError carries the evaluation trace when selection fails.
type NoMatchError struct {
	Trade string
	Trace Trace
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("rules: no matching settlement rule for trade %s (%d rules evaluated)", e.Trade, len(e.Trace))
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatchingRule }

// TieError carries the tied candidates and the trace.
type TieError struct {
	Trade    string
	Priority int
	RuleIDs  []string
	Trace    Trace
}

func (e *TieError) Error() string {
	return fmt.Sprintf("rules: rules %s tie at priority %d for trade %s",
		strings.Join(e.RuleIDs, ", "), e.Priority, e.Trade)
}

func (e *TieError) Unwrap() error { return ErrAmbiguousRuleTie }

// IsWildcardOrContains is the shared predicate for counterparty, product, and
// currency-style fields: an empty rule value matches everything, a non-empty
// value matches when it is a substring of (or equal to) the trade value.
// Named explicitly so the wildcard behavior survives any later tightening of
// the substring semantics.
func IsWildcardOrContains(ruleValue, tradeValue string) bool {
	if ruleValue == "" {
		return true
	}
	return strings.Contains(tradeValue, ruleValue)
}

// Evaluate runs the four predicates for a single rule against a trade.
func Evaluate(rule model.SettlementRule, trade *model.Trade, canonicalCounterparty string) Evaluation {
	ev := Evaluation{
		RuleID:       rule.ID,
		Priority:     rule.Priority,
		Counterparty: IsWildcardOrContains(rule.Counterparty, canonicalCounterparty),
		Product:      IsWildcardOrContains(rule.Product, trade.Product),
		Modality:     rule.Modality == trade.Modality,
	}
	ev.Currency = rule.Currency == "" || rule.Currency == trade.SettleCurrency
	ev.Candidate = ev.Counterparty && ev.Product && ev.Currency && ev.Modality
	return ev
}

// Select picks the single applicable rule for the trade from the tenant's
// rule set. Inactive rules are skipped entirely and do not appear in the
// trace. Selection is deterministic: same inputs, same output.
func Select(ruleSet []model.SettlementRule, trade *model.Trade, canonicalCounterparty string) (*model.SettlementRule, Trace, error) {
	trace := make(Trace, 0, len(ruleSet))
	var candidates []int // indices into ruleSet

	for i, rule := range ruleSet {
		if !rule.Active {
			continue
		}
		ev := Evaluate(rule, trade, canonicalCounterparty)
		trace = append(trace, ev)
		if ev.Candidate {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		return nil, trace, &NoMatchError{Trade: trade.ID, Trace: trace}
	}

	best := candidates[0]
	for _, i := range candidates[1:] {
		if ruleSet[i].Priority < ruleSet[best].Priority {
			best = i
		}
	}

	var tied []string
	for _, i := range candidates {
		if ruleSet[i].Priority == ruleSet[best].Priority {
			tied = append(tied, ruleSet[i].ID)
		}
	}

	if len(tied) > 1 {
		markTied(trace, tied)
		sort.Strings(tied)
		return nil, trace, &TieError{
			Trade:    trade.ID,
			Priority: ruleSet[best].Priority,
			RuleIDs:  tied,
			Trace:    trace,
		}
	}

	winner := ruleSet[best]
	return &winner, trace, nil
}

func markTied(trace Trace, ids []string) {
	tied := make(map[string]bool, len(ids))
	for _, id := range ids {
		tied[id] = true
	}
	for i := range trace {
		if tied[trace[i].RuleID] {
			trace[i].Tied = true
		}
	}
}
