// Package alias resolves free-text counterparty names to canonical
// tenant-scoped identifiers through an alias table.
//
// Bank confirmation emails carry names in whatever form the sender's system
// emits ("Banco BCI", "BANCO B.C.I.", a tax id with or without separators).
// Rule and template matching operate on canonical identifiers only, so every
// resolution pipeline starts here.
package alias

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/confira/settlement-engine/internal/model"
)

// ErrCounterpartyUnresolved is returned when no alias entry covers the raw
// name. The resolver never guesses; callers log the raw name and stop.
var ErrCounterpartyUnresolved = errors.New("alias: counterparty unresolved")

// UnresolvedError wraps ErrCounterpartyUnresolved with the offending raw name.
type UnresolvedError struct {
	Tenant  string
	RawName string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("alias: counterparty unresolved for %q (tenant %s)", e.RawName, e.Tenant)
}

func (e *UnresolvedError) Unwrap() error { return ErrCounterpartyUnresolved }

// stripMarks removes combining marks after NFD decomposition, so "Compensación"
// and "Compensacion" normalize identically.
var stripMarks = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize folds a raw counterparty name (or tax id) into the alias lookup
// key: trimmed, lower-cased, accents stripped, punctuation and spaces dropped.
// Tax-id variants like "76.362.099-9" and "763620999" collapse to the same key.
func Normalize(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolver is a pure lookup over a tenant's alias rows. It holds a snapshot
// of the alias table; fetch fresh rows per resolution call, do not cache
// resolvers across configuration edits.
type Resolver struct {
	tenant  string
	entries map[string]string // normalized alias → canonical counterparty id
}

// NewResolver builds a resolver from tenant alias rows. Alias keys are
// re-normalized defensively in case setup tooling stored them raw.
func NewResolver(tenant string, aliases []model.CounterpartyAlias) *Resolver {
	entries := make(map[string]string, len(aliases))
	for _, a := range aliases {
		if a.Tenant != tenant {
			continue
		}
		key := Normalize(a.Alias)
		if key == "" {
			continue
		}
		entries[key] = a.CounterpartyID
	}
	return &Resolver{tenant: tenant, entries: entries}
}

// Resolve maps a raw name to its canonical counterparty identifier.
// Pure lookup, no side effects.
func (r *Resolver) Resolve(rawName string) (string, error) {
	key := Normalize(rawName)
	if key != "" {
		if id, ok := r.entries[key]; ok {
			return id, nil
		}
	}
	return "", &UnresolvedError{Tenant: r.tenant, RawName: rawName}
}

// Size returns the number of distinct alias keys loaded.
func (r *Resolver) Size() int { return len(r.entries) }
