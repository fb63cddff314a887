package purchasing

import (
	"sort"
	"time"
)

type transitionRequest struct {
	TargetPhase string `json:"target_phase" validate:"required"`
}

type approvalRequest struct {
	Approved        *bool  `json:"approved" validate:"required"`
	RejectionReason string `json:"rejection_reason" validate:"max=500"`
	RejectionAction string `json:"rejection_action" validate:"omitempty,oneof=arquivar recotacao"`
}

type quantityItemInput struct {
	ItemID                   int64    `json:"item_id" validate:"required,gt=0"`
	AvailableQuantity        *float64 `json:"available_quantity"`
	ConfirmedUnit            *string  `json:"confirmed_unit"`
	QuantityAdjustmentReason *string  `json:"quantity_adjustment_reason"`
}

type quantityBatchRequest struct {
	Items []quantityItemInput `json:"items" validate:"required,min=1,max=100,dive"`
	// DryRun reports the validation verdict without applying anything.
	DryRun bool `json:"dry_run"`
}

type configCreateRequest struct {
	ValueThreshold string     `json:"value_threshold" validate:"required"`
	EffectiveDate  *time.Time `json:"effective_date"`
	Reason         string     `json:"reason" validate:"max=500"`
}

type transitionResponse struct {
	RequestID int64             `json:"request_id"`
	FromPhase string            `json:"from_phase"`
	NewPhase  string            `json:"new_phase"`
	Approval  *approvalResponse `json:"approval,omitempty"`
}

type approvalResponse struct {
	IsComplete           bool   `json:"is_complete"`
	RequiresDualApproval bool   `json:"requires_dual_approval"`
	Step                 string `json:"step"`
	NewPhase             string `json:"new_phase,omitempty"`
	NextStep             string `json:"next_step,omitempty"`
	Warning              string `json:"warning,omitempty"`
}

type historyEntryResponse struct {
	ID              int64     `json:"id"`
	Gate            string    `json:"gate"`
	ApproverID      int64     `json:"approver_id"`
	ApproverRole    string    `json:"approver_role,omitempty"`
	Approved        bool      `json:"approved"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	Step            string    `json:"step"`
	DecidedValue    string    `json:"decided_value"`
	DualApproval    bool      `json:"dual_approval"`
	CreatedAt       time.Time `json:"created_at"`
}

type itemValidationResponse struct {
	ItemID   int64    `json:"item_id"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Severity string   `json:"severity"`
}

type validationReportResponse struct {
	SupplierQuotationID int64                    `json:"supplier_quotation_id"`
	Valid               bool                     `json:"valid"`
	MaxSeverity         string                   `json:"max_severity"`
	Applied             bool                     `json:"applied"`
	Items               []itemValidationResponse `json:"items"`
}

type configResponse struct {
	ID             int64     `json:"id"`
	ValueThreshold string    `json:"value_threshold"`
	EffectiveDate  time.Time `json:"effective_date"`
	Reason         string    `json:"reason,omitempty"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

func newTransitionResponse(result TransitionResult) transitionResponse {
	resp := transitionResponse{
		RequestID: result.RequestID,
		FromPhase: string(result.FromPhase),
		NewPhase:  string(result.NewPhase),
	}
	if result.Approval != nil {
		approval := newApprovalResponse(*result.Approval)
		resp.Approval = &approval
	}
	return resp
}

func newApprovalResponse(outcome ApprovalOutcome) approvalResponse {
	resp := approvalResponse{
		IsComplete:           outcome.IsComplete,
		RequiresDualApproval: outcome.RequiresDualApproval,
		Step:                 string(outcome.Step),
		NewPhase:             string(outcome.NewPhase),
		NextStep:             string(outcome.NextStep),
	}
	if outcome.SideEffectErr != nil {
		resp.Warning = outcome.SideEffectErr.Error()
	}
	return resp
}

func newHistoryResponse(entries []ApprovalHistoryEntry) []historyEntryResponse {
	out := make([]historyEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyEntryResponse{
			ID:              entry.ID,
			Gate:            string(entry.Gate),
			ApproverID:      entry.ApproverID,
			ApproverRole:    entry.ApproverRole,
			Approved:        entry.Approved,
			RejectionReason: entry.RejectionReason,
			Step:            string(entry.Step),
			DecidedValue:    entry.DecidedValue.StringFixed(2),
			DualApproval:    entry.DualApproval,
			CreatedAt:       entry.CreatedAt,
		})
	}
	return out
}

func newValidationReportResponse(report ValidationReport, applied bool) validationReportResponse {
	resp := validationReportResponse{
		SupplierQuotationID: report.SupplierQuotationID,
		Valid:               report.Valid,
		MaxSeverity:         report.MaxSeverity.String(),
		Applied:             applied,
		Items:               make([]itemValidationResponse, 0, len(report.PerItem)),
	}
	for _, item := range report.PerItem {
		resp.Items = append(resp.Items, itemValidationResponse{
			ItemID:   item.ItemID,
			Valid:    item.Valid,
			Errors:   item.Errors,
			Warnings: item.Warnings,
			Severity: item.Severity.String(),
		})
	}
	sort.Slice(resp.Items, func(i, j int) bool { return resp.Items[i].ItemID < resp.Items[j].ItemID })
	return resp
}

func newConfigResponse(cfg ApprovalConfiguration) configResponse {
	return configResponse{
		ID:             cfg.ID,
		ValueThreshold: cfg.ValueThreshold.StringFixed(2),
		EffectiveDate:  cfg.EffectiveDate,
		Reason:         cfg.Reason,
		CreatedBy:      cfg.CreatedBy,
		CreatedAt:      cfg.CreatedAt,
	}
}

func (m quantityItemInput) toMutation() QuantityMutation {
	return QuantityMutation{
		ItemID:                   m.ItemID,
		AvailableQuantity:        m.AvailableQuantity,
		ConfirmedUnit:            m.ConfirmedUnit,
		QuantityAdjustmentReason: m.QuantityAdjustmentReason,
	}
}
