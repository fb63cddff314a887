package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/suprimenta/suprimenta/internal/shared"
)

// TransitionResult reports the committed outcome of a phase change.
type TransitionResult struct {
	RequestID int64
	FromPhase Phase
	NewPhase  Phase
	// Approval is set when the transition resolved the second approval gate
	// through the engine.
	Approval *ApprovalOutcome
}

// TransitionGuard is the only writer of PurchaseRequest.CurrentPhase. Every
// phase change passes its permission table and structural checks; changes
// that resolve the second approval gate are delegated to the engine.
type TransitionGuard struct {
	repo   RepositoryPort
	engine *ApprovalEngine
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewTransitionGuard constructs the guard.
func NewTransitionGuard(repo RepositoryPort, engine *ApprovalEngine, audit AuditPort, logger *slog.Logger) *TransitionGuard {
	return &TransitionGuard{repo: repo, engine: engine, audit: audit, logger: logger, now: time.Now}
}

// RequestTransition moves a request to targetPhase on behalf of actor.
// Preconditions are evaluated in order and short-circuit: target validity,
// request existence, permission, structural readiness, gate delegation.
// On failure nothing is mutated; on success exactly one audit entry is
// appended.
func (g *TransitionGuard) RequestTransition(ctx context.Context, requestID int64, targetPhase Phase, actor shared.Actor) (TransitionResult, error) {
	if !targetPhase.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: %q is not a known phase", ErrInvalidInput, targetPhase)
	}

	req, err := g.repo.GetRequest(ctx, requestID)
	if err != nil {
		return TransitionResult{}, err
	}
	from := req.CurrentPhase
	if from == targetPhase {
		return TransitionResult{}, fmt.Errorf("%w: request %s is already at phase %s", ErrPreconditionNotMet, req.Number, from)
	}

	if caps := requiredCapabilities(from, targetPhase); !actor.Has(caps...) {
		return TransitionResult{}, fmt.Errorf("%w: moving %s -> %s requires one of %v", ErrPermissionDenied, from, targetPhase, caps)
	}

	if err := g.checkStructural(ctx, req, targetPhase); err != nil {
		return TransitionResult{}, err
	}

	// Resolving the gate is the engine's job; its outcome, not the naive
	// target, decides the committed phase.
	if completesGateA2(from, targetPhase) {
		outcome, err := g.engine.ResolveApproval(ctx, requestID, actor, transitionDecision(targetPhase))
		if err != nil {
			return TransitionResult{}, err
		}
		return TransitionResult{RequestID: requestID, FromPhase: from, NewPhase: outcome.NewPhase, Approval: &outcome}, nil
	}

	err = g.repo.WithRequestTx(ctx, requestID, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if current.CurrentPhase != from {
			return fmt.Errorf("%w: request %s moved to %s while the transition was being validated", ErrPreconditionNotMet, current.Number, current.CurrentPhase)
		}
		if entersGateA2(from, targetPhase) {
			// First contact with the configuration resolver freezes the
			// dual-approval snapshot for the life of the request.
			if _, err := g.engine.FreezeDualApproval(ctx, tx, current); err != nil {
				return err
			}
		}
		return tx.UpdateRequest(ctx, requestID, RequestUpdate{CurrentPhase: &targetPhase})
	})
	if err != nil {
		return TransitionResult{}, err
	}

	g.recordAudit(ctx, actor, req, targetPhase)
	return TransitionResult{RequestID: requestID, FromPhase: from, NewPhase: targetPhase}, nil
}

// checkStructural verifies readiness preconditions that depend on request
// data rather than roles.
func (g *TransitionGuard) checkStructural(ctx context.Context, req PurchaseRequest, target Phase) error {
	switch {
	case req.CurrentPhase == PhaseRecebimento && target == PhaseConfFiscal:
		if req.PhysicalReceiptAt.IsZero() {
			return fmt.Errorf("%w: physical receipt has not been confirmed for request %s", ErrPreconditionNotMet, req.Number)
		}
	case req.CurrentPhase == PhaseCotacao && target == PhaseAprovacaoA2:
		chosen, err := g.repo.HasChosenSupplierQuotation(ctx, req.ID)
		if err != nil {
			return err
		}
		if !chosen {
			return fmt.Errorf("%w: no supplier quotation is marked as chosen for request %s", ErrPreconditionNotMet, req.Number)
		}
	}
	return nil
}

// transitionDecision maps a naive gate-exit target onto the implied approval
// decision.
func transitionDecision(target Phase) ApprovalDecision {
	decision := decisionForTarget(target)
	if !decision.Approved && decision.RejectionReason == "" {
		decision.RejectionReason = "rejected via phase transition"
	}
	return decision
}

func (g *TransitionGuard) recordAudit(ctx context.Context, actor shared.Actor, req PurchaseRequest, target Phase) {
	if g.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:        actor.ID,
		Action:         "PHASE_TRANSITION",
		Entity:         "purchase_request",
		EntityID:       fmt.Sprintf("%d", req.ID),
		Description:    fmt.Sprintf("request %s moved %s -> %s", req.Number, req.CurrentPhase, target),
		BeforeSnapshot: map[string]any{"phase": string(req.CurrentPhase)},
		AfterSnapshot:  map[string]any{"phase": string(target)},
		At:             g.now(),
	}
	if err := g.audit.Record(ctx, log); err != nil && g.logger != nil {
		g.logger.Error("record transition audit", slog.Any("error", err))
	}
}
