package purchasing

import (
	"github.com/suprimenta/suprimenta/internal/shared"
)

// requiredCapabilities returns the capability set allowed to move a request
// from one phase to another. An empty slice means any authenticated actor
// may perform the transition. Rules are evaluated top to bottom; the first
// match wins.
func requiredCapabilities(from, to Phase) []shared.Capability {
	switch {
	case to == PhaseSolicitacao:
		// Correction escape hatch: returning to intake is always allowed.
		return nil
	case from == PhaseArquivado && to == PhaseAprovacaoA1:
		return []shared.Capability{shared.CapAdmin, shared.CapManager}
	case from == PhaseAprovacaoA1:
		// Leaving a gate anywhere but back to intake needs that gate's
		// approver.
		return []shared.Capability{shared.CapApproverA1}
	case from == PhaseAprovacaoA2:
		return []shared.Capability{shared.CapApproverA2}
	case from == PhaseRecebimento && to == PhaseConfFiscal:
		return []shared.Capability{shared.CapAdmin, shared.CapManager, shared.CapBuyer, shared.CapReceiver}
	case from == PhaseRecebimento:
		return []shared.Capability{shared.CapReceiver}
	case from == PhasePedidoCompra && (to == PhaseCotacao || to == PhaseAprovacaoA2):
		return []shared.Capability{shared.CapBuyer, shared.CapAdmin}
	default:
		return []shared.Capability{shared.CapAdmin, shared.CapManager, shared.CapBuyer}
	}
}

// entersGateA2 reports whether the transition moves the request into the
// second approval gate.
func entersGateA2(from, to Phase) bool {
	return to == PhaseAprovacaoA2 && from != PhaseAprovacaoA2
}

// completesGateA2 reports whether the transition would resolve the second
// approval gate and therefore must be driven through the approval engine.
func completesGateA2(from, to Phase) bool {
	if from != PhaseAprovacaoA2 {
		return false
	}
	switch to {
	case PhasePedidoCompra, PhaseCotacao, PhaseArquivado:
		return true
	}
	return false
}

// decisionForTarget maps a naive gate-exit target onto the approval decision
// it implies. The engine's outcome, not the naive target, determines the
// committed phase.
func decisionForTarget(to Phase) ApprovalDecision {
	switch to {
	case PhasePedidoCompra:
		return ApprovalDecision{Approved: true}
	case PhaseCotacao:
		return ApprovalDecision{Approved: false, RejectionAction: RejectRecotacao}
	default:
		return ApprovalDecision{Approved: false, RejectionAction: RejectArquivar}
	}
}
