package purchasing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/suprimenta/suprimenta/internal/platform/httpx"
	"github.com/suprimenta/suprimenta/internal/shared"
)

// Handler wires the purchasing endpoints.
type Handler struct {
	logger     *slog.Logger
	guard      *TransitionGuard
	engine     *ApprovalEngine
	quantities *QuantityValidator
	configs    *ConfigService
	repo       RepositoryPort
	metrics    MetricsPort
	validator  *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, guard *TransitionGuard, engine *ApprovalEngine, quantities *QuantityValidator, configs *ConfigService, repo RepositoryPort, metrics MetricsPort) *Handler {
	return &Handler{
		logger:     logger,
		guard:      guard,
		engine:     engine,
		quantities: quantities,
		configs:    configs,
		repo:       repo,
		metrics:    metrics,
		validator:  validator.New(),
	}
}

// MountRoutes registers purchasing routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/requests/{id}/transition", h.handleTransition)
	r.Post("/requests/{id}/approval", h.handleApproval)
	r.Get("/requests/{id}/approval-history", h.handleApprovalHistory)
	r.Post("/supplier-quotations/{id}/quantities", h.handleQuantityBatch)
	r.Post("/approval-configurations", h.handleCreateConfig)
	r.Get("/approval-configurations/active", h.handleActiveConfig)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var body transitionRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.BadRequest(w, "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Forbidden(w, "actor identity missing")
		return
	}
	result, err := h.guard.RequestTransition(r.Context(), requestID, Phase(body.TargetPhase), actor)
	if h.metrics != nil {
		h.metrics.ObserveTransition(body.TargetPhase, resultLabel(err))
	}
	if err != nil {
		h.respondError(w, r, "phase transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newTransitionResponse(result))
}

func (h *Handler) handleApproval(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var body approvalRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.BadRequest(w, "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Forbidden(w, "actor identity missing")
		return
	}
	decision := ApprovalDecision{
		Approved:        *body.Approved,
		RejectionReason: body.RejectionReason,
		RejectionAction: RejectionAction(body.RejectionAction),
	}
	outcome, err := h.engine.ResolveApproval(r.Context(), requestID, actor, decision)
	if h.metrics != nil {
		h.metrics.ObserveApproval(string(outcome.Step), resultLabel(err))
	}
	if err != nil {
		h.respondError(w, r, "approval decision", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newApprovalResponse(outcome))
}

func (h *Handler) handleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	gate := Gate(r.URL.Query().Get("gate"))
	if gate != "" && gate != GateA1 && gate != GateA2 {
		httpx.BadRequest(w, "unknown gate")
		return
	}
	if _, err := h.repo.GetRequest(r.Context(), requestID); err != nil {
		h.respondError(w, r, "approval history", err)
		return
	}
	entries, err := h.repo.GetApprovalHistory(r.Context(), requestID, gate)
	if err != nil {
		h.respondError(w, r, "approval history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newHistoryResponse(entries))
}

func (h *Handler) handleQuantityBatch(w http.ResponseWriter, r *http.Request) {
	quotationID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var body quantityBatchRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.BadRequest(w, "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Forbidden(w, "actor identity missing")
		return
	}
	mutations := make([]QuantityMutation, 0, len(body.Items))
	for _, item := range body.Items {
		mutations = append(mutations, item.toMutation())
	}
	if body.DryRun {
		report, err := h.quantities.ValidateBatch(r.Context(), quotationID, mutations)
		if err != nil {
			h.respondError(w, r, "quantity validation", err)
			return
		}
		httpx.JSON(w, http.StatusOK, newValidationReportResponse(report, false))
		return
	}
	report, err := h.quantities.ApplyBatch(r.Context(), quotationID, mutations, actor)
	if err != nil {
		if errors.Is(err, ErrValidationFailed) {
			httpx.JSON(w, http.StatusUnprocessableEntity, newValidationReportResponse(report, false))
			return
		}
		h.respondError(w, r, "quantity batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newValidationReportResponse(report, true))
}

func (h *Handler) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var body configCreateRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.BadRequest(w, "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Forbidden(w, "actor identity missing")
		return
	}
	input := ConfigInput{ValueThreshold: body.ValueThreshold, Reason: body.Reason}
	if body.EffectiveDate != nil {
		input.EffectiveDate = *body.EffectiveDate
	}
	cfg, err := h.configs.Create(r.Context(), actor, input)
	if err != nil {
		h.respondError(w, r, "create approval configuration", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newConfigResponse(cfg))
}

func (h *Handler) handleActiveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Active(r.Context())
	if err != nil {
		h.respondError(w, r, "active approval configuration", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newConfigResponse(cfg))
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.BadRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}

func resultLabel(err error) string {
	if err != nil {
		return "rejected"
	}
	return "ok"
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		httpx.Forbidden(w, err.Error())
	case errors.Is(err, ErrPreconditionNotMet):
		httpx.UnprocessableEntity(w, err.Error())
	case errors.Is(err, ErrInvalidInput):
		httpx.BadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.NotFound(w, err.Error())
	case errors.Is(err, ErrConflictResolved):
		httpx.Conflict(w, err.Error())
	case errors.Is(err, ErrValidationFailed), errors.Is(err, ErrIntegrityViolation):
		httpx.UnprocessableEntity(w, err.Error())
	case errors.Is(err, ErrDependencyFailure):
		httpx.BadGateway(w, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Internal(w)
	}
}
