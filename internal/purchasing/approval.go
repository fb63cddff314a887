package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/suprimenta/suprimenta/internal/shared"
)

// ApprovalDecision is one approver's verdict at the second gate.
type ApprovalDecision struct {
	Approved        bool
	RejectionReason string
	RejectionAction RejectionAction
}

// ApprovalOutcome describes how far the gate protocol advanced.
type ApprovalOutcome struct {
	IsComplete           bool
	RequiresDualApproval bool
	Step                 ApprovalStep
	NewPhase             Phase
	// NextStep is set when the gate is still open (dual approval awaiting
	// its final step).
	NextStep ApprovalStep
	// SideEffectErr surfaces a post-commit collaborator failure (purchase
	// order creation). The approval itself stands regardless.
	SideEffectErr error
}

// ApprovalEngine runs the single/dual approval protocol for the second gate.
// It is the only writer of A2 approval bookkeeping fields and A2 history
// entries; for gate resolutions it also commits the resulting phase on the
// guard's behalf.
type ApprovalEngine struct {
	repo     RepositoryPort
	configs  ConfigSource
	audit    AuditPort
	notifier NotifierPort
	orders   OrderCreatorPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewApprovalEngine constructs the engine.
func NewApprovalEngine(repo RepositoryPort, configs ConfigSource, audit AuditPort, notifier NotifierPort, orders OrderCreatorPort, logger *slog.Logger) *ApprovalEngine {
	return &ApprovalEngine{
		repo:     repo,
		configs:  configs,
		audit:    audit,
		notifier: notifier,
		orders:   orders,
		logger:   logger,
		now:      time.Now,
	}
}

// ResolveApproval applies one approval decision to the request's second
// gate. History is appended before any phase mutation, inside the same
// serialized transaction, so an entry exists even when a later write fails
// and two concurrent calls cannot both close the gate.
func (e *ApprovalEngine) ResolveApproval(ctx context.Context, requestID int64, actor shared.Actor, decision ApprovalDecision) (ApprovalOutcome, error) {
	if !decision.RejectionAction.Valid() {
		return ApprovalOutcome{}, fmt.Errorf("%w: unknown rejection action %q", ErrInvalidInput, decision.RejectionAction)
	}
	if !decision.Approved && decision.RejectionReason == "" {
		return ApprovalOutcome{}, fmt.Errorf("%w: a rejection requires a reason", ErrInvalidInput)
	}

	var (
		outcome ApprovalOutcome
		number  string
	)
	err := e.repo.WithRequestTx(ctx, requestID, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		number = req.Number
		if req.CurrentPhase != PhaseAprovacaoA2 {
			return fmt.Errorf("%w: request %s is not at the second approval gate", ErrPreconditionNotMet, req.Number)
		}
		if !actor.Has(shared.CapApproverA2) {
			return fmt.Errorf("%w: second-gate decisions require the approver A2 capability", ErrPermissionDenied)
		}
		outcome, err = e.resolve(ctx, tx, req, actor, decision)
		return err
	})
	if err != nil {
		return ApprovalOutcome{}, err
	}

	e.recordAudit(ctx, actor, requestID, number, decision, outcome)
	if outcome.IsComplete {
		e.runSideEffects(ctx, requestID, number, decision, &outcome)
	}
	return outcome, nil
}

func (e *ApprovalEngine) resolve(ctx context.Context, tx TxRepository, req PurchaseRequest, actor shared.Actor, decision ApprovalDecision) (ApprovalOutcome, error) {
	requiresDual, err := e.dualApprovalFlag(ctx, tx, req)
	if err != nil {
		return ApprovalOutcome{}, err
	}

	history, err := tx.GetApprovalHistory(ctx, req.ID, GateA2)
	if err != nil {
		return ApprovalOutcome{}, err
	}
	first, final := currentAttempt(history)
	if final != nil {
		return ApprovalOutcome{}, fmt.Errorf("%w: request %s already has a terminal decision at the second gate", ErrConflictResolved, req.Number)
	}

	step := StepSingle
	if requiresDual {
		if first == nil {
			step = StepFirst
			if actor.Has(shared.CapCEO) {
				return ApprovalOutcome{}, fmt.Errorf("%w: the CEO is reserved for the final approval step; wait for a director's first approval", ErrPermissionDenied)
			}
			if !actor.Has(shared.CapDirector) {
				return ApprovalOutcome{}, fmt.Errorf("%w: dual approval requires a Director for the first step", ErrPermissionDenied)
			}
		} else {
			step = StepFinal
			if first.ApproverID == actor.ID {
				return ApprovalOutcome{}, fmt.Errorf("%w: approver %d already recorded the first step and cannot also close the gate", ErrConflictResolved, actor.ID)
			}
			if !first.Approved {
				// Unreachable when rejections short-circuit, kept as a
				// consistency check over stored history.
				return ApprovalOutcome{}, fmt.Errorf("%w: first step was a rejection; no final step is permitted", ErrPreconditionNotMet)
			}
			// When the first step was made by the CEO, any remaining
			// eligible approver may close the gate.
			firstWasCEO := first.ApproverRole == string(shared.CapCEO)
			if !actor.Has(shared.CapCEO) && !firstWasCEO {
				return ApprovalOutcome{}, fmt.Errorf("%w: the final step of a dual approval must be made by the CEO", ErrPermissionDenied)
			}
		}
	}

	// History first, so a record exists even if a later write fails.
	entry := ApprovalHistoryEntry{
		RequestID:       req.ID,
		Gate:            GateA2,
		ApproverID:      actor.ID,
		Approved:        decision.Approved,
		RejectionReason: decision.RejectionReason,
		Step:            step,
		DecidedValue:    req.TotalValue,
		DualApproval:    requiresDual,
		ApproverRole:    approverRole(actor),
		IP:              actor.IP,
		UserAgent:       actor.UserAgent,
		CreatedAt:       e.now(),
	}
	if _, err := tx.AppendApprovalHistory(ctx, entry); err != nil {
		return ApprovalOutcome{}, err
	}

	outcome := ApprovalOutcome{RequiresDualApproval: requiresDual, Step: step}
	now := e.now()

	if step == StepFirst && decision.Approved {
		// Approved first step: gate stays open, phase unchanged.
		update := RequestUpdate{
			FirstApproverA2ID: &actor.ID,
			FirstApprovalDate: &now,
		}
		if err := tx.UpdateRequest(ctx, req.ID, update); err != nil {
			return ApprovalOutcome{}, err
		}
		outcome.IsComplete = false
		outcome.NewPhase = req.CurrentPhase
		outcome.NextStep = StepFinal
		return outcome, nil
	}

	// Terminal: an approved single/final step, or any rejection.
	outcome.IsComplete = true
	outcome.NewPhase = resolvedPhase(decision)

	approved := decision.Approved
	update := RequestUpdate{
		CurrentPhase: &outcome.NewPhase,
		ApproverA2ID: &actor.ID,
		ApprovedA2:   &approved,
	}
	if step == StepFinal {
		update.FinalApproverID = &actor.ID
		update.FinalApprovalDate = &now
	}
	if err := tx.UpdateRequest(ctx, req.ID, update); err != nil {
		return ApprovalOutcome{}, err
	}
	return outcome, nil
}

// dualApprovalFlag returns the frozen dual-approval snapshot, resolving and
// persisting it on first contact with the configuration resolver. Once
// decided, configuration changes never alter it.
func (e *ApprovalEngine) dualApprovalFlag(ctx context.Context, tx TxRepository, req PurchaseRequest) (bool, error) {
	if req.DualApprovalDecided {
		return req.RequiresDualApproval, nil
	}
	cfg, err := e.configs.Active(ctx, e.now())
	if err != nil {
		return false, err
	}
	requires := RequiresDualApproval(req.TotalValue, cfg)
	if err := tx.UpdateRequest(ctx, req.ID, RequestUpdate{RequiresDualApproval: &requires}); err != nil {
		return false, err
	}
	return requires, nil
}

// FreezeDualApproval resolves and stores the dual-approval snapshot when the
// request enters the second gate. Called by the guard on gate entry.
func (e *ApprovalEngine) FreezeDualApproval(ctx context.Context, tx TxRepository, req PurchaseRequest) (bool, error) {
	return e.dualApprovalFlag(ctx, tx, req)
}

// resolvedPhase maps a terminal decision onto the next phase.
func resolvedPhase(decision ApprovalDecision) Phase {
	if decision.Approved {
		return PhasePedidoCompra
	}
	if decision.RejectionAction == RejectRecotacao {
		return PhaseCotacao
	}
	return PhaseArquivado
}

// currentAttempt returns the first and final entries of the gate's open
// attempt. A rejection at any step resolves the gate and releases the
// attempt: a request sent back to quotation re-enters with a fresh one,
// and the old entries stay in history without binding the protocol. An
// approved terminal entry is binding forever; seeing one while the request
// still sits at the gate means a duplicate decision, not a new attempt.
func currentAttempt(history []ApprovalHistoryEntry) (first, final *ApprovalHistoryEntry) {
	start := 0
	for i := range history {
		if !history[i].Approved {
			start = i + 1
		}
	}
	for i := start; i < len(history); i++ {
		entry := history[i]
		switch entry.Step {
		case StepFirst:
			first = &entry
		case StepSingle, StepFinal:
			final = &entry
		}
	}
	return first, final
}

// approverRole snapshots the capability the actor decides under, highest
// rank first.
func approverRole(actor shared.Actor) string {
	switch {
	case actor.Has(shared.CapCEO):
		return string(shared.CapCEO)
	case actor.Has(shared.CapDirector):
		return string(shared.CapDirector)
	default:
		return string(shared.CapApproverA2)
	}
}

func (e *ApprovalEngine) recordAudit(ctx context.Context, actor shared.Actor, requestID int64, number string, decision ApprovalDecision, outcome ApprovalOutcome) {
	if e.audit == nil {
		return
	}
	verdict := "approved"
	if !decision.Approved {
		verdict = "rejected"
	}
	log := shared.AuditLog{
		ActorID:     actor.ID,
		Action:      "A2_APPROVAL_" + string(outcome.Step),
		Entity:      "purchase_request",
		EntityID:    fmt.Sprintf("%d", requestID),
		Description: fmt.Sprintf("request %s %s at gate A2 (%s step)", number, verdict, outcome.Step),
		AfterSnapshot: map[string]any{
			"phase":         string(outcome.NewPhase),
			"is_complete":   outcome.IsComplete,
			"requires_dual": outcome.RequiresDualApproval,
			"approval_step": string(outcome.Step),
		},
	}
	if err := e.audit.Record(ctx, log); err != nil && e.logger != nil {
		e.logger.Error("record approval audit", slog.Any("error", err))
	}
}

// runSideEffects fires the post-commit collaborators. Their failure never
// rolls back the decision; order-creation failures are surfaced separately
// on the outcome.
func (e *ApprovalEngine) runSideEffects(ctx context.Context, requestID int64, number string, decision ApprovalDecision, outcome *ApprovalOutcome) {
	if decision.Approved {
		if e.orders == nil {
			return
		}
		if err := e.orders.CreateFromRequest(ctx, requestID); err != nil {
			outcome.SideEffectErr = fmt.Errorf("%w: purchase order creation: %v", ErrDependencyFailure, err)
			if e.logger != nil {
				e.logger.Error("create purchase order after approval",
					slog.Int64("request_id", requestID), slog.Any("error", err))
			}
		}
		return
	}
	if e.notifier == nil {
		return
	}
	notice := RejectionNotice{
		RequestID:     requestID,
		RequestNumber: number,
		Gate:          GateA2,
		Reason:        decision.RejectionReason,
		NextPhase:     outcome.NewPhase,
	}
	if err := e.notifier.NotifyRejection(ctx, notice); err != nil && e.logger != nil {
		e.logger.Warn("dispatch rejection notification",
			slog.Int64("request_id", requestID), slog.Any("error", err))
	}
}
