// Package resolution provides the HTTP handlers and business logic for
// running trade-confirmation matching and resolving confirmed trades into
// attached settlement-instruction documents.
package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/confira/settlement-engine/internal/alias"
	"github.com/confira/settlement-engine/internal/match"
	"github.com/confira/settlement-engine/internal/metrics"
	"github.com/confira/settlement-engine/internal/model"
	"github.com/confira/settlement-engine/internal/rules"
	"github.com/confira/settlement-engine/internal/store"
	"github.com/confira/settlement-engine/internal/templates"
)

// Service owns the engine's HTTP surface.
type Service struct {
	store        store.Store
	engine       *match.Engine
	orchestrator *Orchestrator
	notifier     Notifier
}

// NewService creates the resolution service. Pass nil for notifier if no
// delivery channel is wired.
func NewService(st store.Store, engine *match.Engine, orch *Orchestrator, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:        st,
		engine:       engine,
		orchestrator: orch,
		notifier:     notifier,
	}
}

// Routes mounts the service's API under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Post("/trades", s.CreateTrade)
		r.Post("/confirmations", s.CreateConfirmation)

		r.Post("/matches/run", s.RunMatches)
		r.Get("/matches", s.ListMatches)

		r.Post("/trades/{tradeID}/resolve", s.ResolveTrade)
		r.Get("/trades/{tradeID}/preview", s.PreviewTrade)
		r.Get("/trades/{tradeID}/outcome", s.GetOutcome)

		r.Get("/audit", s.ListAudit)
	})
}

// actor reads the acting user from the request, defaulting to "api".
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

// --- Ingestion (dev stand-in for the ingestion collaborator) ---

// CreateTrade handles POST /api/v1/tenants/{tenant}/trades
func (s *Service) CreateTrade(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var t model.Trade
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, "invalid request body", "bad_request", http.StatusBadRequest)
		return
	}
	t.Tenant = tenant
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = model.TradeUnmatched
	}
	if !model.ValidDirection(t.Direction) {
		writeError(w, "direction must be buy or sell", "bad_request", http.StatusBadRequest)
		return
	}

	if err := s.store.CreateTrade(r.Context(), &t); err != nil {
		writeError(w, err.Error(), "conflict", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

// CreateConfirmation handles POST /api/v1/tenants/{tenant}/confirmations
func (s *Service) CreateConfirmation(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var c model.Confirmation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, "invalid request body", "bad_request", http.StatusBadRequest)
		return
	}
	c.Tenant = tenant
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.ConfirmationUnmatched
	}
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now().UTC()
	}

	if err := s.store.CreateConfirmation(r.Context(), &c); err != nil {
		writeError(w, err.Error(), "conflict", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

// --- Matching ---

// RunMatchesResponse summarizes one matcher run.
type RunMatchesResponse struct {
	Created int           `json:"created"`
	Skipped int           `json:"skipped"`
	Matches []model.Match `json:"matches"`
}

// RunMatches handles POST /api/v1/tenants/{tenant}/matches/run
// Scores all unmatched trades against all unmatched confirmations and
// commits the winning pairs. Pairs whose records were matched concurrently
// are skipped, not failed.
func (s *Service) RunMatches(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	ctx := r.Context()
	started := time.Now()

	trades, err := s.store.ListTradesByStatus(ctx, tenant, model.TradeUnmatched)
	if err != nil {
		writeError(w, "failed to load trades", "internal", http.StatusInternalServerError)
		return
	}
	confirmations, err := s.store.ListConfirmationsByStatus(ctx, tenant, model.ConfirmationUnmatched)
	if err != nil {
		writeError(w, "failed to load confirmations", "internal", http.StatusInternalServerError)
		return
	}

	proposals := s.engine.FindMatches(trades, confirmations)

	resp := RunMatchesResponse{Matches: []model.Match{}}
	for _, p := range proposals {
		m := model.Match{
			ID:             uuid.New().String(),
			Tenant:         tenant,
			TradeID:        p.TradeID,
			ConfirmationID: p.ConfirmationID,
			Score:          p.Score,
			Reasons:        p.Reasons,
			Status:         p.Status,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.store.CommitMatch(ctx, &m); err != nil {
			if errors.Is(err, store.ErrDuplicateMatchAttempt) {
				resp.Skipped++
				s.auditMatch(ctx, tenant, p.TradeID, model.SeverityError,
					CodeDuplicateMatchAttempt, "trade or confirmation matched concurrently")
				continue
			}
			writeError(w, err.Error(), "internal", http.StatusInternalServerError)
			return
		}

		resp.Created++
		resp.Matches = append(resp.Matches, m)
		metrics.MatchesTotal.WithLabelValues(m.Status).Inc()
		s.auditMatch(ctx, tenant, m.TradeID, model.SeverityInfo, "match_created", m.Status)
		s.notifier.Notify(Event{
			Type:    "match_created",
			Tenant:  tenant,
			TradeID: m.TradeID,
			Code:    m.Status,
		})
	}

	metrics.MatchRunDuration.Observe(time.Since(started).Seconds())
	slog.Info("matcher run finished",
		"tenant", tenant,
		"trades", len(trades),
		"confirmations", len(confirmations),
		"created", resp.Created,
		"skipped", resp.Skipped,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Service) auditMatch(ctx context.Context, tenant, tradeID, severity, code, detail string) {
	entry := &model.AuditEntry{
		Tenant:    tenant,
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Category:  model.CategoryMatching,
		TradeID:   tradeID,
		Actor:     "matcher",
		Code:      code,
		Detail:    detail,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		slog.Error("failed to append audit entry", "trade", tradeID, "err", err)
	}
}

// ListMatches handles GET /api/v1/tenants/{tenant}/matches
func (s *Service) ListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.store.ListMatches(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, "failed to list matches", "internal", http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []model.Match{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(matches)
}

// --- Resolution ---

// ResolveTrade handles POST /api/v1/tenants/{tenant}/trades/{tradeID}/resolve
// Query param force=true overwrites a prior successful outcome.
func (s *Service) ResolveTrade(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	tradeID := chi.URLParam(r, "tradeID")
	force := r.URL.Query().Get("force") == "true"

	result, err := s.orchestrator.ResolveAndAttach(r.Context(), tenant, tradeID, force, actor(r))
	if err != nil {
		writeError(w, err.Error(), Code(err), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// PreviewTrade handles GET /api/v1/tenants/{tenant}/trades/{tradeID}/preview
func (s *Service) PreviewTrade(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	tradeID := chi.URLParam(r, "tradeID")

	preview, err := s.orchestrator.PreviewCandidates(r.Context(), tenant, tradeID)
	if err != nil {
		writeError(w, err.Error(), Code(err), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(preview)
}

// GetOutcome handles GET /api/v1/tenants/{tenant}/trades/{tradeID}/outcome
func (s *Service) GetOutcome(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.store.GetOutcome(r.Context(),
		chi.URLParam(r, "tenant"), chi.URLParam(r, "tradeID"))
	if err != nil {
		writeError(w, err.Error(), Code(err), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(outcome)
}

// ListAudit handles GET /api/v1/tenants/{tenant}/audit
func (s *Service) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAudit(r.Context(), chi.URLParam(r, "tenant"), 200)
	if err != nil {
		writeError(w, "failed to list audit log", "internal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOverwriteConfirmationRequired),
		errors.Is(err, ErrTradeNotConfirmed),
		errors.Is(err, store.ErrTradeLockHeld),
		errors.Is(err, store.ErrDuplicateMatchAttempt):
		return http.StatusConflict
	case errors.Is(err, alias.ErrCounterpartyUnresolved),
		errors.Is(err, rules.ErrNoMatchingRule),
		errors.Is(err, rules.ErrAmbiguousRuleTie),
		errors.Is(err, templates.ErrNoMatchingTemplate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDocumentPopulationFailed),
		errors.Is(err, ErrStorageFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response with a stable code.
func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
