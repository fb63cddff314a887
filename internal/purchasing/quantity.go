package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/suprimenta/suprimenta/internal/shared"
)

// Severity classifies how consequential a detected data issue is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the wire name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "LOW"
	}
}

// Validation limits for quantity batches.
const (
	maxBatchItems          = 100
	maxUnitLength          = 50
	maxAdjustmentReasonLen = 500
	minAdjustmentReasonLen = 10
)

// Relative-change escalation bands.
const (
	changeBandMedium   = 0.10
	changeBandHigh     = 0.30
	changeBandCritical = 0.50
)

// ItemValidation is the per-item verdict inside a report.
type ItemValidation struct {
	ItemID   int64
	Valid    bool
	Errors   []string
	Warnings []string
	Severity Severity
}

// ValidationReport is the outcome of validating one quantity batch. The
// batch is all-or-nothing: a single invalid item rejects the whole batch.
type ValidationReport struct {
	SupplierQuotationID int64
	PerItem             map[int64]ItemValidation
	MaxSeverity         Severity
	Valid               bool
}

// QuantityValidator guards mutations of supplier quotation item quantities.
// It never writes business data itself; callers apply accepted batches
// through the storage collaborator.
type QuantityValidator struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewQuantityValidator constructs the validator.
func NewQuantityValidator(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *QuantityValidator {
	return &QuantityValidator{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// ValidateBatch checks a batch of proposed mutations against the quotation's
// current items and returns a severity-classified report.
func (v *QuantityValidator) ValidateBatch(ctx context.Context, supplierQuotationID int64, mutations []QuantityMutation) (ValidationReport, error) {
	if len(mutations) == 0 {
		return ValidationReport{}, fmt.Errorf("%w: quantity batch is empty", ErrInvalidInput)
	}
	if len(mutations) > maxBatchItems {
		return ValidationReport{}, fmt.Errorf("%w: quantity batch has %d items, limit is %d", ErrInvalidInput, len(mutations), maxBatchItems)
	}

	existing, err := v.repo.GetSupplierQuotationItems(ctx, supplierQuotationID)
	if err != nil {
		return ValidationReport{}, err
	}
	byID := make(map[int64]SupplierQuotationItem, len(existing))
	for _, item := range existing {
		byID[item.ID] = item
	}

	report := ValidationReport{
		SupplierQuotationID: supplierQuotationID,
		PerItem:             make(map[int64]ItemValidation, len(mutations)),
		Valid:               true,
	}
	seen := make(map[int64]bool, len(mutations))
	for _, mutation := range mutations {
		result := ItemValidation{ItemID: mutation.ItemID, Valid: true}
		if seen[mutation.ItemID] {
			result.Valid = false
			result.Errors = append(result.Errors, "item appears more than once in the batch")
			raiseSeverity(&result, SeverityHigh)
		}
		seen[mutation.ItemID] = true

		item, ok := byID[mutation.ItemID]
		if !ok {
			result.Valid = false
			result.Errors = append(result.Errors, "item does not belong to this supplier quotation")
			raiseSeverity(&result, SeverityHigh)
			report.merge(result)
			continue
		}

		v.checkQuantity(&result, item, mutation)
		v.checkUnit(&result, mutation)
		v.checkReason(&result, mutation)
		report.merge(result)
	}
	return report, nil
}

// ApplyBatch validates the batch and, when accepted, applies every mutation
// in one serialized transaction. When the maximum severity is CRITICAL the
// attempt is recorded in the audit trail before anything is written, so a
// failed apply still leaves a trace.
func (v *QuantityValidator) ApplyBatch(ctx context.Context, supplierQuotationID int64, mutations []QuantityMutation, actor shared.Actor) (ValidationReport, error) {
	report, err := v.ValidateBatch(ctx, supplierQuotationID, mutations)
	if err != nil {
		return ValidationReport{}, err
	}
	if !report.Valid {
		return report, fmt.Errorf("%w: %d of %d items rejected", ErrValidationFailed, report.invalidCount(), len(mutations))
	}

	if report.MaxSeverity == SeverityCritical {
		log := shared.AuditLog{
			ActorID:     actor.ID,
			Action:      "QUANTITY_CRITICAL_CHANGE",
			Entity:      "supplier_quotation",
			EntityID:    fmt.Sprintf("%d", supplierQuotationID),
			Description: fmt.Sprintf("critical quantity change attempted on quotation %d (%d items)", supplierQuotationID, len(mutations)),
			At:          v.now(),
		}
		// Critical-change entries may not be dropped; failing to record
		// them blocks the mutation.
		if err := v.audit.Record(ctx, log); err != nil {
			return report, fmt.Errorf("%w: audit trail rejected critical-change entry: %v", ErrDependencyFailure, err)
		}
	}

	err = v.repo.WithQuotationTx(ctx, supplierQuotationID, func(ctx context.Context, tx TxRepository) error {
		for _, mutation := range mutations {
			if err := tx.ApplyQuantityMutation(ctx, supplierQuotationID, mutation); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

func (v *QuantityValidator) checkQuantity(result *ItemValidation, item SupplierQuotationItem, mutation QuantityMutation) {
	if mutation.AvailableQuantity == nil {
		return
	}
	qty := *mutation.AvailableQuantity
	if math.IsNaN(qty) || math.IsInf(qty, 0) {
		result.Valid = false
		result.Errors = append(result.Errors, "available quantity must be a finite number")
		raiseSeverity(result, SeverityHigh)
		return
	}
	if qty < 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "available quantity cannot be negative")
		raiseSeverity(result, SeverityHigh)
		return
	}
	if qty == 0 {
		result.Warnings = append(result.Warnings, "quantity zero makes the item unavailable")
		raiseSeverity(result, SeverityMedium)
	}

	change := relativeChange(item.OriginalQuantity, qty)
	switch {
	case change > changeBandCritical:
		raiseSeverity(result, SeverityCritical)
		reason := item.QuantityAdjustmentReason
		if mutation.QuantityAdjustmentReason != nil {
			reason = *mutation.QuantityAdjustmentReason
		}
		if len(strings.TrimSpace(reason)) < minAdjustmentReasonLen {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("a change above %.0f%% requires an adjustment reason of at least %d characters", changeBandCritical*100, minAdjustmentReasonLen))
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("quantity deviates %.0f%% from the requested amount", change*100))
		}
	case change > changeBandHigh:
		raiseSeverity(result, SeverityHigh)
		result.Warnings = append(result.Warnings, fmt.Sprintf("quantity deviates %.0f%% from the requested amount", change*100))
	case change > changeBandMedium:
		raiseSeverity(result, SeverityMedium)
		result.Warnings = append(result.Warnings, fmt.Sprintf("quantity deviates %.0f%% from the requested amount", change*100))
	}
}

func (v *QuantityValidator) checkUnit(result *ItemValidation, mutation QuantityMutation) {
	if mutation.ConfirmedUnit == nil {
		return
	}
	unit := strings.TrimSpace(*mutation.ConfirmedUnit)
	if unit == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "confirmed unit cannot be blank")
		raiseSeverity(result, SeverityMedium)
		return
	}
	if len(unit) > maxUnitLength {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("confirmed unit exceeds %d characters", maxUnitLength))
		raiseSeverity(result, SeverityMedium)
	}
}

func (v *QuantityValidator) checkReason(result *ItemValidation, mutation QuantityMutation) {
	if mutation.QuantityAdjustmentReason == nil {
		return
	}
	if len(*mutation.QuantityAdjustmentReason) > maxAdjustmentReasonLen {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("adjustment reason exceeds %d characters", maxAdjustmentReasonLen))
		raiseSeverity(result, SeverityMedium)
	}
}

// relativeChange is |new-original| / max(original, 1), guarding the ratio
// against tiny baselines.
func relativeChange(original, proposed float64) float64 {
	base := original
	if base < 1 {
		base = 1
	}
	return math.Abs(proposed-original) / base
}

func raiseSeverity(result *ItemValidation, severity Severity) {
	if severity > result.Severity {
		result.Severity = severity
	}
}

func (r *ValidationReport) merge(result ItemValidation) {
	r.PerItem[result.ItemID] = result
	if result.Severity > r.MaxSeverity {
		r.MaxSeverity = result.Severity
	}
	if !result.Valid {
		r.Valid = false
	}
}

func (r *ValidationReport) invalidCount() int {
	count := 0
	for _, item := range r.PerItem {
		if !item.Valid {
			count++
		}
	}
	return count
}
