package purchasing

import (
	"context"
	"time"

	"github.com/suprimenta/suprimenta/internal/shared"
)

// RepositoryPort describes the storage operations the purchasing services
// depend on. The pgx repository is the production implementation; tests use
// an in-memory one.
type RepositoryPort interface {
	// WithRequestTx runs fn inside a transaction holding the per-request
	// advisory lock, serializing mutations of the same request id.
	WithRequestTx(ctx context.Context, requestID int64, fn func(context.Context, TxRepository) error) error
	// WithQuotationTx does the same keyed by supplier quotation id.
	WithQuotationTx(ctx context.Context, supplierQuotationID int64, fn func(context.Context, TxRepository) error) error

	GetRequest(ctx context.Context, id int64) (PurchaseRequest, error)
	GetApprovalHistory(ctx context.Context, requestID int64, gate Gate) ([]ApprovalHistoryEntry, error)
	ListApprovalConfigurations(ctx context.Context) ([]ApprovalConfiguration, error)
	CreateApprovalConfiguration(ctx context.Context, cfg ApprovalConfiguration) (ApprovalConfiguration, error)
	GetSupplierQuotationItems(ctx context.Context, supplierQuotationID int64) ([]SupplierQuotationItem, error)
	HasChosenSupplierQuotation(ctx context.Context, requestID int64) (bool, error)
}

// RequestUpdate enumerates the request fields a guarded operation may write.
// Nil fields are left untouched. Phase writes belong to the guard; approval
// bookkeeping writes belong to the engine.
type RequestUpdate struct {
	CurrentPhase         *Phase
	RequiresDualApproval *bool
	ApproverA2ID         *int64
	ApprovedA2           *bool
	FirstApproverA2ID    *int64
	FirstApprovalDate    *time.Time
	FinalApproverID      *int64
	FinalApprovalDate    *time.Time
}

// QuantityMutation is one caller-proposed change to a supplier quotation
// item. Nil fields mean "leave unchanged".
type QuantityMutation struct {
	ItemID                   int64
	AvailableQuantity        *float64
	ConfirmedUnit            *string
	QuantityAdjustmentReason *string
}

// TxRepository exposes the operations available inside a serialized
// per-request transaction.
type TxRepository interface {
	GetRequest(ctx context.Context, id int64) (PurchaseRequest, error)
	UpdateRequest(ctx context.Context, id int64, update RequestUpdate) error
	GetApprovalHistory(ctx context.Context, requestID int64, gate Gate) ([]ApprovalHistoryEntry, error)
	AppendApprovalHistory(ctx context.Context, entry ApprovalHistoryEntry) (ApprovalHistoryEntry, error)
	ApplyQuantityMutation(ctx context.Context, supplierQuotationID int64, mutation QuantityMutation) error
}

// AuditPort records immutable audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RejectionNotice carries what the notification collaborator needs when a
// gate decision rejects a request.
type RejectionNotice struct {
	RequestID     int64
	RequestNumber string
	Gate          Gate
	Reason        string
	NextPhase     Phase
}

// NotifierPort dispatches rejection notifications. Failures are logged by
// the caller, never propagated as a core failure.
type NotifierPort interface {
	NotifyRejection(ctx context.Context, notice RejectionNotice) error
}

// OrderCreatorPort creates a purchase order from the chosen supplier
// quotation after final approval. Implementations must be idempotent:
// an existing order for the request short-circuits creation.
type OrderCreatorPort interface {
	CreateFromRequest(ctx context.Context, requestID int64) error
}

// MetricsPort counts processed transitions and approval decisions.
type MetricsPort interface {
	ObserveTransition(targetPhase, result string)
	ObserveApproval(step, result string)
}

// ConfigSource resolves the approval configuration active at an instant.
// The production implementation caches reads in redis in front of the
// repository.
type ConfigSource interface {
	Active(ctx context.Context, at time.Time) (ApprovalConfiguration, error)
}
