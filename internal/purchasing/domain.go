package purchasing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Phase enumerates the fixed lifecycle of a purchase request. A request
// occupies exactly one phase at a time; CurrentPhase is written only by the
// transition guard.
type Phase string

const (
	PhaseSolicitacao  Phase = "solicitacao"
	PhaseAprovacaoA1  Phase = "aprovacao_a1"
	PhaseCotacao      Phase = "cotacao"
	PhaseAprovacaoA2  Phase = "aprovacao_a2"
	PhasePedidoCompra Phase = "pedido_compra"
	PhaseRecebimento  Phase = "recebimento"
	PhaseConfFiscal   Phase = "conf_fiscal"
	PhaseConclusao    Phase = "conclusao_compra"
	PhaseArquivado    Phase = "arquivado"
)

// Phases lists every member of the enumeration in lifecycle order.
func Phases() []Phase {
	return []Phase{
		PhaseSolicitacao,
		PhaseAprovacaoA1,
		PhaseCotacao,
		PhaseAprovacaoA2,
		PhasePedidoCompra,
		PhaseRecebimento,
		PhaseConfFiscal,
		PhaseConclusao,
		PhaseArquivado,
	}
}

// Valid reports whether p is a member of the closed enumeration.
func (p Phase) Valid() bool {
	switch p {
	case PhaseSolicitacao, PhaseAprovacaoA1, PhaseCotacao, PhaseAprovacaoA2,
		PhasePedidoCompra, PhaseRecebimento, PhaseConfFiscal, PhaseConclusao,
		PhaseArquivado:
		return true
	}
	return false
}

// Terminal reports whether p is a terminal phase.
func (p Phase) Terminal() bool {
	return p == PhaseArquivado || p == PhaseConclusao
}

// Gate identifies one of the two approval gates.
type Gate string

const (
	GateA1 Gate = "A1"
	GateA2 Gate = "A2"
)

// ApprovalStep tags a history entry as the single decision of a
// single-approval gate or as the first/final decision of a dual one.
type ApprovalStep string

const (
	StepSingle ApprovalStep = "single"
	StepFirst  ApprovalStep = "first"
	StepFinal  ApprovalStep = "final"
)

// Terminal reports whether the step resolves the gate.
func (s ApprovalStep) Terminal() bool {
	return s == StepSingle || s == StepFinal
}

// RejectionAction selects the phase a rejected request falls back to.
type RejectionAction string

const (
	// RejectArquivar archives the request. This is the default when the
	// caller omits an action.
	RejectArquivar RejectionAction = "arquivar"
	// RejectRecotacao sends the request back to quotation.
	RejectRecotacao RejectionAction = "recotacao"
)

// Valid reports whether a is a known rejection action. The empty action is
// valid and means arquivar.
func (a RejectionAction) Valid() bool {
	return a == "" || a == RejectArquivar || a == RejectRecotacao
}

// PurchaseRequest is the aggregate the guard and engine operate on.
type PurchaseRequest struct {
	ID           int64
	Number       string
	CurrentPhase Phase

	// TotalValue may be recomputed while quotation data changes but is
	// frozen for approval purposes once the A2 gate is entered.
	TotalValue decimal.Decimal

	// RequiresDualApproval is a snapshot decided once per request at first
	// contact with the configuration resolver. Later configuration changes
	// never alter it; DualApprovalDecided marks whether the snapshot exists.
	RequiresDualApproval bool
	DualApprovalDecided  bool

	ApproverA1ID   int64
	ApprovedA1     bool
	ApprovalDateA1 time.Time

	ApproverA2ID      int64
	ApprovedA2        bool
	FirstApproverA2ID int64
	FirstApprovalDate time.Time
	FinalApproverID   int64
	FinalApprovalDate time.Time

	PhysicalReceiptAt time.Time
	ActiveQuotationID int64
}

// ApprovalHistoryEntry records one gate decision. Entries are immutable and
// append-only; reconstructing gate state is a query over them.
type ApprovalHistoryEntry struct {
	ID              int64
	RequestID       int64
	Gate            Gate
	ApproverID      int64
	Approved        bool
	RejectionReason string
	Step            ApprovalStep

	// DecidedValue and DualApproval capture the monetary value and the
	// dual-approval flag the decision was made against.
	DecidedValue decimal.Decimal
	DualApproval bool

	// ApproverRole snapshots the capability the approver acted under
	// (director, ceo, approver_a2). The dual protocol's CEO-fallback rule
	// reads it back when closing the gate.
	ApproverRole string

	IP        string
	UserAgent string
	CreatedAt time.Time
}

// ApprovalConfiguration holds one approval threshold. Configurations are
// append-only; the active one is the most recently effective at decision
// time.
type ApprovalConfiguration struct {
	ID             int64
	ValueThreshold decimal.Decimal
	EffectiveDate  time.Time
	Reason         string
	CreatedBy      int64
	CreatedAt      time.Time
}

// SupplierQuotationItem is the slice of a quotation item the quantity
// validator consumes. OriginalQuantity is the baseline taken from the
// matching request item.
type SupplierQuotationItem struct {
	ID                       int64
	SupplierQuotationID      int64
	OriginalQuantity         float64
	AvailableQuantity        float64
	ConfirmedUnit            string
	QuantityAdjustmentReason string
}

// Error taxonomy. Callers branch on these with errors.Is; wrapped variants
// carry the user-displayable detail.
var (
	// ErrPermissionDenied indicates the actor lacks a required capability.
	ErrPermissionDenied = errors.New("purchasing: permission denied")
	// ErrPreconditionNotMet indicates a structural readiness check failed.
	ErrPreconditionNotMet = errors.New("purchasing: precondition not met")
	// ErrInvalidInput indicates a malformed payload or out-of-range enum.
	ErrInvalidInput = errors.New("purchasing: invalid input")
	// ErrNotFound indicates a missing request, quotation or configuration.
	ErrNotFound = errors.New("purchasing: not found")
	// ErrConflictResolved indicates a terminal approval step already exists.
	ErrConflictResolved = errors.New("purchasing: approval already resolved")
	// ErrValidationFailed indicates a rejected quantity batch.
	ErrValidationFailed = errors.New("purchasing: validation failed")
	// ErrIntegrityViolation indicates a critical consistency issue detected
	// just before a mutation.
	ErrIntegrityViolation = errors.New("purchasing: integrity violation")
	// ErrDependencyFailure indicates a downstream side effect failed.
	ErrDependencyFailure = errors.New("purchasing: dependency failure")
)
