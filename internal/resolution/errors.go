package resolution

import (
	"errors"

	"github.com/confira/settlement-engine/internal/alias"
	"github.com/confira/settlement-engine/internal/rules"
	"github.com/confira/settlement-engine/internal/store"
	"github.com/confira/settlement-engine/internal/templates"
)

var (
	// ErrTradeNotConfirmed is returned when resolution is requested for a
	// trade that has not reached confirmed status.
	ErrTradeNotConfirmed = errors.New("resolution: trade not confirmed")

	// ErrOverwriteConfirmationRequired is returned when a trade already has
	// a successful outcome and the caller did not pass force.
	ErrOverwriteConfirmationRequired = errors.New("resolution: overwrite confirmation required")

	// ErrDocumentPopulationFailed wraps failures from the population
	// collaborator after retries are exhausted.
	ErrDocumentPopulationFailed = errors.New("resolution: document population failed")

	// ErrStorageFailed wraps failures from the storage collaborator after
	// retries are exhausted.
	ErrStorageFailed = errors.New("resolution: document storage failed")
)

// Stable error codes exposed over the API and written to outcomes and the
// audit log. Notifications and log entries always carry the same code.
const (
	CodeCounterpartyUnresolved          = "counterparty_unresolved"
	CodeNoMatchingSettlementRule        = "no_matching_settlement_rule"
	CodeAmbiguousRuleTie                = "ambiguous_rule_tie"
	CodeNoMatchingTemplate              = "no_matching_template"
	CodeDocumentPopulationFailed        = "document_population_failed"
	CodeStorageFailed                   = "storage_failed"
	CodeDuplicateMatchAttempt           = "duplicate_match_attempt"
	CodeOverwriteConfirmationRequired   = "overwrite_confirmation_required"
	CodeTradeNotConfirmed               = "trade_not_confirmed"
	CodeTradeLockHeld                   = "trade_lock_held"
	CodeInternal                        = "internal"
)

// Code maps an error to its stable code string.
func Code(err error) string {
	switch {
	case errors.Is(err, alias.ErrCounterpartyUnresolved):
		return CodeCounterpartyUnresolved
	case errors.Is(err, rules.ErrNoMatchingRule):
		return CodeNoMatchingSettlementRule
	case errors.Is(err, rules.ErrAmbiguousRuleTie):
		return CodeAmbiguousRuleTie
	case errors.Is(err, templates.ErrNoMatchingTemplate):
		return CodeNoMatchingTemplate
	case errors.Is(err, ErrDocumentPopulationFailed):
		return CodeDocumentPopulationFailed
	case errors.Is(err, ErrStorageFailed):
		return CodeStorageFailed
	case errors.Is(err, store.ErrDuplicateMatchAttempt):
		return CodeDuplicateMatchAttempt
	case errors.Is(err, ErrOverwriteConfirmationRequired):
		return CodeOverwriteConfirmationRequired
	case errors.Is(err, ErrTradeNotConfirmed):
		return CodeTradeNotConfirmed
	case errors.Is(err, store.ErrTradeLockHeld):
		return CodeTradeLockHeld
	default:
		return CodeInternal
	}
}
