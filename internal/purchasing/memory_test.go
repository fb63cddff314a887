package purchasing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suprimenta/suprimenta/internal/shared"
)

type memoryRepo struct {
	requests  map[int64]PurchaseRequest
	history   map[int64][]ApprovalHistoryEntry
	configs   []ApprovalConfiguration
	items     map[int64][]SupplierQuotationItem
	chosen    map[int64]bool
	nextID    int64
	updateErr error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests: make(map[int64]PurchaseRequest),
		history:  make(map[int64][]ApprovalHistoryEntry),
		items:    make(map[int64][]SupplierQuotationItem),
		chosen:   make(map[int64]bool),
	}
}

func (r *memoryRepo) WithRequestTx(ctx context.Context, requestID int64, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) WithQuotationTx(ctx context.Context, supplierQuotationID int64, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	req, ok := r.requests[id]
	if !ok {
		return PurchaseRequest{}, ErrNotFound
	}
	return req, nil
}

func (r *memoryRepo) GetApprovalHistory(ctx context.Context, requestID int64, gate Gate) ([]ApprovalHistoryEntry, error) {
	var entries []ApprovalHistoryEntry
	for _, entry := range r.history[requestID] {
		if gate == "" || entry.Gate == gate {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *memoryRepo) ListApprovalConfigurations(ctx context.Context) ([]ApprovalConfiguration, error) {
	return append([]ApprovalConfiguration(nil), r.configs...), nil
}

func (r *memoryRepo) CreateApprovalConfiguration(ctx context.Context, cfg ApprovalConfiguration) (ApprovalConfiguration, error) {
	r.nextID++
	cfg.ID = r.nextID
	cfg.CreatedAt = time.Now()
	r.configs = append(r.configs, cfg)
	return cfg, nil
}

func (r *memoryRepo) GetSupplierQuotationItems(ctx context.Context, supplierQuotationID int64) ([]SupplierQuotationItem, error) {
	items, ok := r.items[supplierQuotationID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]SupplierQuotationItem(nil), items...), nil
}

func (r *memoryRepo) HasChosenSupplierQuotation(ctx context.Context, requestID int64) (bool, error) {
	return r.chosen[requestID], nil
}

func (tx *memoryTx) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return tx.repo.GetRequest(ctx, id)
}

func (tx *memoryTx) UpdateRequest(ctx context.Context, id int64, update RequestUpdate) error {
	if tx.repo.updateErr != nil {
		return tx.repo.updateErr
	}
	req, ok := tx.repo.requests[id]
	if !ok {
		return ErrNotFound
	}
	if update.CurrentPhase != nil {
		req.CurrentPhase = *update.CurrentPhase
	}
	if update.RequiresDualApproval != nil {
		req.RequiresDualApproval = *update.RequiresDualApproval
		req.DualApprovalDecided = true
	}
	if update.ApproverA2ID != nil {
		req.ApproverA2ID = *update.ApproverA2ID
	}
	if update.ApprovedA2 != nil {
		req.ApprovedA2 = *update.ApprovedA2
	}
	if update.FirstApproverA2ID != nil {
		req.FirstApproverA2ID = *update.FirstApproverA2ID
	}
	if update.FirstApprovalDate != nil {
		req.FirstApprovalDate = *update.FirstApprovalDate
	}
	if update.FinalApproverID != nil {
		req.FinalApproverID = *update.FinalApproverID
	}
	if update.FinalApprovalDate != nil {
		req.FinalApprovalDate = *update.FinalApprovalDate
	}
	tx.repo.requests[id] = req
	return nil
}

func (tx *memoryTx) GetApprovalHistory(ctx context.Context, requestID int64, gate Gate) ([]ApprovalHistoryEntry, error) {
	return tx.repo.GetApprovalHistory(ctx, requestID, gate)
}

func (tx *memoryTx) AppendApprovalHistory(ctx context.Context, entry ApprovalHistoryEntry) (ApprovalHistoryEntry, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.history[entry.RequestID] = append(tx.repo.history[entry.RequestID], entry)
	return entry, nil
}

func (tx *memoryTx) ApplyQuantityMutation(ctx context.Context, supplierQuotationID int64, mutation QuantityMutation) error {
	items := tx.repo.items[supplierQuotationID]
	for i := range items {
		if items[i].ID != mutation.ItemID {
			continue
		}
		if mutation.AvailableQuantity != nil {
			items[i].AvailableQuantity = *mutation.AvailableQuantity
		}
		if mutation.ConfirmedUnit != nil {
			items[i].ConfirmedUnit = *mutation.ConfirmedUnit
		}
		if mutation.QuantityAdjustmentReason != nil {
			items[i].QuantityAdjustmentReason = *mutation.QuantityAdjustmentReason
		}
		tx.repo.items[supplierQuotationID] = items
		return nil
	}
	return ErrNotFound
}

type memoryAudit struct {
	logs []shared.AuditLog
	err  error
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

type memoryNotifier struct {
	notices []RejectionNotice
	err     error
}

func (n *memoryNotifier) NotifyRejection(ctx context.Context, notice RejectionNotice) error {
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

type memoryOrders struct {
	created []int64
	err     error
}

func (o *memoryOrders) CreateFromRequest(ctx context.Context, requestID int64) error {
	if o.err != nil {
		return o.err
	}
	o.created = append(o.created, requestID)
	return nil
}

type staticConfig struct {
	cfg ApprovalConfiguration
	err error
}

func (s staticConfig) Active(ctx context.Context, at time.Time) (ApprovalConfiguration, error) {
	if s.err != nil {
		return ApprovalConfiguration{}, s.err
	}
	return s.cfg, nil
}

func seedRequest(repo *memoryRepo, id int64, phase Phase, total string) PurchaseRequest {
	req := PurchaseRequest{
		ID:           id,
		Number:       "SC-2026-001",
		CurrentPhase: phase,
		TotalValue:   decimal.RequireFromString(total),
	}
	repo.requests[id] = req
	return req
}

func thresholdConfig(threshold string) ApprovalConfiguration {
	return ApprovalConfiguration{
		ID:             1,
		ValueThreshold: decimal.RequireFromString(threshold),
		EffectiveDate:  time.Now().Add(-24 * time.Hour),
	}
}
