package purchasing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suprimenta/suprimenta/internal/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engineFixture struct {
	repo     *memoryRepo
	audit    *memoryAudit
	notifier *memoryNotifier
	orders   *memoryOrders
	engine   *ApprovalEngine
}

func newEngineFixture(threshold string) *engineFixture {
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	notifier := &memoryNotifier{}
	orders := &memoryOrders{}
	engine := NewApprovalEngine(repo, staticConfig{cfg: thresholdConfig(threshold)}, audit, notifier, orders, testLogger())
	return &engineFixture{repo: repo, audit: audit, notifier: notifier, orders: orders, engine: engine}
}

func TestSingleApprovalBelowThreshold(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4200.00")
	approver := shared.NewActor(10, shared.CapApproverA2)

	outcome, err := fx.engine.ResolveApproval(ctx, 1, approver, ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.True(t, outcome.IsComplete)
	require.False(t, outcome.RequiresDualApproval)
	require.Equal(t, StepSingle, outcome.Step)
	require.Equal(t, PhasePedidoCompra, outcome.NewPhase)

	req := fx.repo.requests[1]
	require.Equal(t, PhasePedidoCompra, req.CurrentPhase)
	require.True(t, req.ApprovedA2)
	require.Equal(t, int64(10), req.ApproverA2ID)
	require.Equal(t, []int64{1}, fx.orders.created)

	history := fx.repo.history[1]
	require.Len(t, history, 1)
	require.Equal(t, StepSingle, history[0].Step)
	require.Equal(t, "4200.00", history[0].DecidedValue.StringFixed(2))
	require.False(t, history[0].DualApproval)
}

func TestThresholdBoundaryIsSingleApproval(t *testing.T) {
	ctx := context.Background()

	// Exactly at the threshold stays single; one cent above goes dual.
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "5000.00")
	outcome, err := fx.engine.ResolveApproval(ctx, 1, shared.NewActor(10, shared.CapApproverA2), ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.False(t, outcome.RequiresDualApproval)
	require.True(t, outcome.IsComplete)

	fx = newEngineFixture("5000.00")
	seedRequest(fx.repo, 2, PhaseAprovacaoA2, "5000.01")
	outcome, err = fx.engine.ResolveApproval(ctx, 2, shared.NewActor(10, shared.CapApproverA2, shared.CapDirector), ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.True(t, outcome.RequiresDualApproval)
	require.False(t, outcome.IsComplete)
	require.Equal(t, StepFirst, outcome.Step)
	require.Equal(t, StepFinal, outcome.NextStep)
}

func TestDualApprovalProtocol(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "12000.00")

	director := shared.NewActor(20, shared.CapApproverA2, shared.CapDirector)
	ceo := shared.NewActor(30, shared.CapApproverA2, shared.CapCEO)

	// The CEO may not open the gate.
	_, err := fx.engine.ResolveApproval(ctx, 1, ceo, ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrPermissionDenied)

	// Neither may a plain A2 approver.
	_, err = fx.engine.ResolveApproval(ctx, 1, shared.NewActor(40, shared.CapApproverA2), ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrPermissionDenied)

	outcome, err := fx.engine.ResolveApproval(ctx, 1, director, ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.False(t, outcome.IsComplete)
	require.Equal(t, PhaseAprovacaoA2, fx.repo.requests[1].CurrentPhase)
	require.Equal(t, int64(20), fx.repo.requests[1].FirstApproverA2ID)
	require.Empty(t, fx.orders.created)

	// The first approver cannot also close the gate.
	_, err = fx.engine.ResolveApproval(ctx, 1, director, ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrConflictResolved)

	// A second director is not the CEO.
	_, err = fx.engine.ResolveApproval(ctx, 1, shared.NewActor(21, shared.CapApproverA2, shared.CapDirector), ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrPermissionDenied)

	outcome, err = fx.engine.ResolveApproval(ctx, 1, ceo, ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.True(t, outcome.IsComplete)
	require.Equal(t, StepFinal, outcome.Step)
	require.Equal(t, PhasePedidoCompra, outcome.NewPhase)

	req := fx.repo.requests[1]
	require.Equal(t, int64(30), req.FinalApproverID)
	require.Equal(t, []int64{1}, fx.orders.created)
	require.Len(t, fx.repo.history[1], 2)
}

func TestDualFirstRejectionShortCircuits(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "9000.00")
	director := shared.NewActor(20, shared.CapApproverA2, shared.CapDirector)

	outcome, err := fx.engine.ResolveApproval(ctx, 1, director, ApprovalDecision{
		Approved:        false,
		RejectionReason: "budget exceeded",
		RejectionAction: RejectRecotacao,
	})
	require.NoError(t, err)
	require.True(t, outcome.IsComplete)
	require.Equal(t, StepFirst, outcome.Step)
	require.Equal(t, PhaseCotacao, outcome.NewPhase)
	require.Equal(t, PhaseCotacao, fx.repo.requests[1].CurrentPhase)

	// The rejection produced exactly one history entry and one notice.
	require.Len(t, fx.repo.history[1], 1)
	require.Len(t, fx.notifier.notices, 1)
	require.Equal(t, "budget exceeded", fx.notifier.notices[0].Reason)
	require.Empty(t, fx.orders.created)
}

func TestCEOFallbackClosesGate(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	req := seedRequest(fx.repo, 1, PhaseAprovacaoA2, "9000.00")
	req.RequiresDualApproval = true
	req.DualApprovalDecided = true
	fx.repo.requests[1] = req

	// A first step recorded under the CEO role (legacy data) lets any
	// remaining eligible approver close the gate.
	fx.repo.history[1] = []ApprovalHistoryEntry{{
		ID:           1,
		RequestID:    1,
		Gate:         GateA2,
		ApproverID:   30,
		Approved:     true,
		Step:         StepFirst,
		DualApproval: true,
		ApproverRole: string(shared.CapCEO),
	}}

	director := shared.NewActor(20, shared.CapApproverA2, shared.CapDirector)
	outcome, err := fx.engine.ResolveApproval(ctx, 1, director, ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.True(t, outcome.IsComplete)
	require.Equal(t, StepFinal, outcome.Step)
}

func TestApprovalAlreadyResolved(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4000.00")
	approver := shared.NewActor(10, shared.CapApproverA2)

	_, err := fx.engine.ResolveApproval(ctx, 1, approver, ApprovalDecision{Approved: true})
	require.NoError(t, err)

	// The phase moved, so a second decision fails the gate precondition.
	_, err = fx.engine.ResolveApproval(ctx, 1, approver, ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrPreconditionNotMet)

	// With the phase forced back but the terminal entry still present, the
	// idempotency guard rejects the duplicate.
	req := fx.repo.requests[1]
	req.CurrentPhase = PhaseAprovacaoA2
	fx.repo.requests[1] = req
	_, err = fx.engine.ResolveApproval(ctx, 1, approver, ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrConflictResolved)
}

func TestGateReentryAfterRequote(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4000.00")
	approver := shared.NewActor(10, shared.CapApproverA2)

	_, err := fx.engine.ResolveApproval(ctx, 1, approver, ApprovalDecision{
		Approved:        false,
		RejectionReason: "prices outdated",
		RejectionAction: RejectRecotacao,
	})
	require.NoError(t, err)
	require.Equal(t, PhaseCotacao, fx.repo.requests[1].CurrentPhase)

	// Back at the gate, the old terminal entry no longer binds the protocol.
	req := fx.repo.requests[1]
	req.CurrentPhase = PhaseAprovacaoA2
	fx.repo.requests[1] = req

	outcome, err := fx.engine.ResolveApproval(ctx, 1, approver, ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.True(t, outcome.IsComplete)
	require.Equal(t, PhasePedidoCompra, outcome.NewPhase)
	require.Len(t, fx.repo.history[1], 2)
}

func TestApprovalInputValidation(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4000.00")
	approver := shared.NewActor(10, shared.CapApproverA2)

	_, err := fx.engine.ResolveApproval(ctx, 1, approver, ApprovalDecision{Approved: false})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = fx.engine.ResolveApproval(ctx, 1, approver, ApprovalDecision{
		Approved:        false,
		RejectionReason: "x",
		RejectionAction: RejectionAction("descartar"),
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = fx.engine.ResolveApproval(ctx, 1, shared.NewActor(11, shared.CapBuyer), ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = fx.engine.ResolveApproval(ctx, 99, approver, ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApprovalOutsideGatePhase(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseCotacao, "4000.00")

	_, err := fx.engine.ResolveApproval(ctx, 1, shared.NewActor(10, shared.CapApproverA2), ApprovalDecision{Approved: true})
	require.ErrorIs(t, err, ErrPreconditionNotMet)
	require.Empty(t, fx.repo.history[1])
}

func TestDualSnapshotFrozenAgainstConfigChange(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	req := seedRequest(repo, 1, PhaseAprovacaoA2, "9000.00")
	req.RequiresDualApproval = false
	req.DualApprovalDecided = true
	repo.requests[1] = req

	// The active configuration would demand dual approval, but the frozen
	// snapshot says single.
	engine := NewApprovalEngine(repo, staticConfig{cfg: thresholdConfig("5000.00")}, &memoryAudit{}, &memoryNotifier{}, &memoryOrders{}, testLogger())
	outcome, err := engine.ResolveApproval(ctx, 1, shared.NewActor(10, shared.CapApproverA2), ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.False(t, outcome.RequiresDualApproval)
	require.True(t, outcome.IsComplete)
}

func TestOrderCreationFailureDoesNotRevertApproval(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4000.00")
	fx.orders.err = errors.New("orders store down")

	outcome, err := fx.engine.ResolveApproval(ctx, 1, shared.NewActor(10, shared.CapApproverA2), ApprovalDecision{Approved: true})
	require.NoError(t, err)
	require.True(t, outcome.IsComplete)
	require.ErrorIs(t, outcome.SideEffectErr, ErrDependencyFailure)
	require.Equal(t, PhasePedidoCompra, fx.repo.requests[1].CurrentPhase)
}

func TestNotifierFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "4000.00")
	fx.notifier.err = errors.New("queue down")

	outcome, err := fx.engine.ResolveApproval(ctx, 1, shared.NewActor(10, shared.CapApproverA2), ApprovalDecision{
		Approved:        false,
		RejectionReason: "not needed anymore",
	})
	require.NoError(t, err)
	require.True(t, outcome.IsComplete)
	require.Equal(t, PhaseArquivado, outcome.NewPhase)
	require.NoError(t, outcome.SideEffectErr)
}

func TestDualSnapshotPersistedOnFirstContact(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture("5000.00")
	seedRequest(fx.repo, 1, PhaseAprovacaoA2, "8000.00")

	director := shared.NewActor(20, shared.CapApproverA2, shared.CapDirector)
	_, err := fx.engine.ResolveApproval(ctx, 1, director, ApprovalDecision{Approved: true})
	require.NoError(t, err)

	req := fx.repo.requests[1]
	require.True(t, req.DualApprovalDecided)
	require.True(t, req.RequiresDualApproval)
	require.Equal(t, int64(20), req.FirstApproverA2ID)
	require.False(t, req.FirstApprovalDate.IsZero(), "first approval date must be stamped")
}
