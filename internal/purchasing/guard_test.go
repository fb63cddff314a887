package purchasing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suprimenta/suprimenta/internal/shared"
)

type guardFixture struct {
	repo   *memoryRepo
	audit  *memoryAudit
	orders *memoryOrders
	guard  *TransitionGuard
}

func newGuardFixture(threshold string) *guardFixture {
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	orders := &memoryOrders{}
	engine := NewApprovalEngine(repo, staticConfig{cfg: thresholdConfig(threshold)}, audit, &memoryNotifier{}, orders, testLogger())
	guard := NewTransitionGuard(repo, engine, audit, testLogger())
	return &guardFixture{repo: repo, audit: audit, orders: orders, guard: guard}
}

func TestTransitionValidatesTarget(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseSolicitacao, "100.00")
	buyer := shared.NewActor(1, shared.CapBuyer)

	_, err := fx.guard.RequestTransition(ctx, 1, Phase("aprovacao_a3"), buyer)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = fx.guard.RequestTransition(ctx, 99, PhaseCotacao, buyer)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = fx.guard.RequestTransition(ctx, 1, PhaseSolicitacao, buyer)
	require.ErrorIs(t, err, ErrPreconditionNotMet)
}

func TestTransitionPermissionTable(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseSolicitacao, "100.00")

	// A receiver holds no capability for the intake exit.
	_, err := fx.guard.RequestTransition(ctx, 1, PhaseAprovacaoA1, shared.NewActor(1, shared.CapReceiver))
	require.ErrorIs(t, err, ErrPermissionDenied)

	result, err := fx.guard.RequestTransition(ctx, 1, PhaseAprovacaoA1, shared.NewActor(2, shared.CapManager))
	require.NoError(t, err)
	require.Equal(t, PhaseAprovacaoA1, result.NewPhase)

	// Leaving the first gate needs its approver.
	_, err = fx.guard.RequestTransition(ctx, 1, PhaseCotacao, shared.NewActor(2, shared.CapManager))
	require.ErrorIs(t, err, ErrPermissionDenied)

	result, err = fx.guard.RequestTransition(ctx, 1, PhaseCotacao, shared.NewActor(3, shared.CapApproverA1))
	require.NoError(t, err)
	require.Equal(t, PhaseCotacao, result.NewPhase)

	// Returning to intake is open to any authenticated actor.
	result, err = fx.guard.RequestTransition(ctx, 1, PhaseSolicitacao, shared.NewActor(4, shared.CapReceiver))
	require.NoError(t, err)
	require.Equal(t, PhaseSolicitacao, result.NewPhase)

	// Reactivating an archived request is reserved for admins and managers.
	seedRequest(fx.repo, 2, PhaseArquivado, "100.00")
	_, err = fx.guard.RequestTransition(ctx, 2, PhaseAprovacaoA1, shared.NewActor(5, shared.CapBuyer))
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = fx.guard.RequestTransition(ctx, 2, PhaseAprovacaoA1, shared.NewActor(6, shared.CapAdmin))
	require.NoError(t, err)
}

func TestReceiptConfirmationPrecondition(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseRecebimento, "100.00")
	receiver := shared.NewActor(1, shared.CapReceiver)

	_, err := fx.guard.RequestTransition(ctx, 1, PhaseConfFiscal, receiver)
	require.ErrorIs(t, err, ErrPreconditionNotMet)

	req := fx.repo.requests[1]
	req.PhysicalReceiptAt = time.Now()
	fx.repo.requests[1] = req

	result, err := fx.guard.RequestTransition(ctx, 1, PhaseConfFiscal, receiver)
	require.NoError(t, err)
	require.Equal(t, PhaseConfFiscal, result.NewPhase)
}

func TestChosenQuotationPrecondition(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseCotacao, "100.00")
	buyer := shared.NewActor(1, shared.CapBuyer)

	_, err := fx.guard.RequestTransition(ctx, 1, PhaseAprovacaoA2, buyer)
	require.ErrorIs(t, err, ErrPreconditionNotMet)

	fx.repo.chosen[1] = true
	result, err := fx.guard.RequestTransition(ctx, 1, PhaseAprovacaoA2, buyer)
	require.NoError(t, err)
	require.Equal(t, PhaseAprovacaoA2, result.NewPhase)
}

func TestGateEntryFreezesDualSnapshot(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseCotacao, "7500.00")
	fx.repo.chosen[1] = true

	_, err := fx.guard.RequestTransition(ctx, 1, PhaseAprovacaoA2, shared.NewActor(1, shared.CapBuyer))
	require.NoError(t, err)

	req := fx.repo.requests[1]
	require.True(t, req.DualApprovalDecided)
	require.True(t, req.RequiresDualApproval)
}

func TestGateExitDelegatesToEngine(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4000.00")
	approver := shared.NewActor(10, shared.CapApproverA2)

	result, err := fx.guard.RequestTransition(ctx, 1, PhasePedidoCompra, approver)
	require.NoError(t, err)
	require.NotNil(t, result.Approval)
	require.True(t, result.Approval.IsComplete)
	require.Equal(t, PhasePedidoCompra, result.NewPhase)
	require.Equal(t, []int64{1}, fx.orders.created)
	require.Len(t, fx.repo.history[1], 1)
}

func TestGateExitUnderDualStaysAtGate(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "9000.00")
	director := shared.NewActor(20, shared.CapApproverA2, shared.CapDirector)

	// The naive target says pedido_compra, but the engine's outcome rules:
	// the first of two approvals keeps the request at the gate.
	result, err := fx.guard.RequestTransition(ctx, 1, PhasePedidoCompra, director)
	require.NoError(t, err)
	require.Equal(t, PhaseAprovacaoA2, result.NewPhase)
	require.NotNil(t, result.Approval)
	require.False(t, result.Approval.IsComplete)
	require.Equal(t, PhaseAprovacaoA2, fx.repo.requests[1].CurrentPhase)
	require.Empty(t, fx.orders.created)
}

func TestGateExitRejectionBranches(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4000.00")
	approver := shared.NewActor(10, shared.CapApproverA2)

	result, err := fx.guard.RequestTransition(ctx, 1, PhaseCotacao, approver)
	require.NoError(t, err)
	require.Equal(t, PhaseCotacao, result.NewPhase)

	history := fx.repo.history[1]
	require.Len(t, history, 1)
	require.False(t, history[0].Approved)
	require.NotEmpty(t, history[0].RejectionReason)

	// A transition to arquivado implies the archive action.
	seedRequest(fx.repo, 2, PhaseAprovacaoA2, "4000.00")
	result, err = fx.guard.RequestTransition(ctx, 2, PhaseArquivado, approver)
	require.NoError(t, err)
	require.Equal(t, PhaseArquivado, result.NewPhase)
}

func TestGateExitRequiresApprover(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4000.00")

	_, err := fx.guard.RequestTransition(ctx, 1, PhasePedidoCompra, shared.NewActor(1, shared.CapAdmin))
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, PhaseAprovacaoA2, fx.repo.requests[1].CurrentPhase)
}

func TestTransitionRecordsAudit(t *testing.T) {
	ctx := context.Background()
	fx := newGuardFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseSolicitacao, "100.00")

	_, err := fx.guard.RequestTransition(ctx, 1, PhaseAprovacaoA1, shared.NewActor(2, shared.CapManager))
	require.NoError(t, err)
	require.Len(t, fx.audit.logs, 1)
	require.Equal(t, "PHASE_TRANSITION", fx.audit.logs[0].Action)
	require.Equal(t, "purchase_request", fx.audit.logs[0].Entity)
}
