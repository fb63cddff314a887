package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/suprimenta/suprimenta/internal/platform/db"
	"github.com/suprimenta/suprimenta/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithRequestTx wraps fn in a repeatable-read transaction holding the
// per-request advisory lock. Reads, history appends and phase writes inside
// fn form one atomic unit per request id.
func (r *Repository) WithRequestTx(ctx context.Context, requestID int64, fn func(context.Context, TxRepository) error) error {
	return r.withLockedTx(ctx, shared.PurchaseRequestLockKey(requestID), fn)
}

// WithQuotationTx is WithRequestTx keyed by supplier quotation id.
func (r *Repository) WithQuotationTx(ctx context.Context, supplierQuotationID int64, fn func(context.Context, TxRepository) error) error {
	return r.withLockedTx(ctx, shared.SupplierQuotationLockKey(supplierQuotationID), fn)
}

func (r *Repository) withLockedTx(ctx context.Context, lockKey int64, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
			return err
		}
		return fn(ctx, &txRepo{tx: tx})
	})
}

const requestColumns = `id, number, current_phase, total_value::text,
	COALESCE(requires_dual_approval, FALSE), requires_dual_approval IS NOT NULL,
	COALESCE(approver_a1_id, 0), COALESCE(approved_a1, FALSE), COALESCE(approval_date_a1, 'epoch'),
	COALESCE(approver_a2_id, 0), COALESCE(approved_a2, FALSE),
	COALESCE(first_approver_a2_id, 0), COALESCE(first_approval_date, 'epoch'),
	COALESCE(final_approver_id, 0), COALESCE(final_approval_date, 'epoch'),
	COALESCE(physical_receipt_at, 'epoch'), COALESCE(active_quotation_id, 0)`

// GetRequest returns a purchase request by id.
func (r *Repository) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM purchase_requests WHERE id=$1`, id))
}

func (tx *txRepo) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return scanRequest(tx.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM purchase_requests WHERE id=$1`, id))
}

func scanRequest(row pgx.Row) (PurchaseRequest, error) {
	var (
		req      PurchaseRequest
		rawValue string
	)
	err := row.Scan(
		&req.ID, &req.Number, &req.CurrentPhase, &rawValue,
		&req.RequiresDualApproval, &req.DualApprovalDecided,
		&req.ApproverA1ID, &req.ApprovedA1, &req.ApprovalDateA1,
		&req.ApproverA2ID, &req.ApprovedA2,
		&req.FirstApproverA2ID, &req.FirstApprovalDate,
		&req.FinalApproverID, &req.FinalApprovalDate,
		&req.PhysicalReceiptAt, &req.ActiveQuotationID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequest{}, fmt.Errorf("%w: purchase request", ErrNotFound)
		}
		return PurchaseRequest{}, err
	}
	req.TotalValue, err = decimal.NewFromString(rawValue)
	if err != nil {
		return PurchaseRequest{}, fmt.Errorf("purchasing: malformed total value %q: %w", rawValue, err)
	}
	normalizeEpochs(&req)
	return req, nil
}

// 'epoch' stands in for NULL timestamps in the COALESCE above; map it back
// to the zero time the domain uses.
func normalizeEpochs(req *PurchaseRequest) {
	epoch := time.Unix(0, 0).UTC()
	for _, ts := range []*time.Time{
		&req.ApprovalDateA1, &req.FirstApprovalDate,
		&req.FinalApprovalDate, &req.PhysicalReceiptAt,
	} {
		if ts.Equal(epoch) {
			*ts = time.Time{}
		}
	}
}

// UpdateRequest writes the non-nil fields of update.
func (tx *txRepo) UpdateRequest(ctx context.Context, id int64, update RequestUpdate) error {
	sql := `UPDATE purchase_requests SET updated_at = NOW()`
	args := []any{id}
	arg := 2
	add := func(column string, value any) {
		sql += fmt.Sprintf(", %s = $%d", column, arg)
		args = append(args, value)
		arg++
	}
	if update.CurrentPhase != nil {
		add("current_phase", string(*update.CurrentPhase))
	}
	if update.RequiresDualApproval != nil {
		add("requires_dual_approval", *update.RequiresDualApproval)
	}
	if update.ApproverA2ID != nil {
		add("approver_a2_id", *update.ApproverA2ID)
	}
	if update.ApprovedA2 != nil {
		add("approved_a2", *update.ApprovedA2)
	}
	if update.FirstApproverA2ID != nil {
		add("first_approver_a2_id", *update.FirstApproverA2ID)
	}
	if update.FirstApprovalDate != nil {
		add("first_approval_date", *update.FirstApprovalDate)
	}
	if update.FinalApproverID != nil {
		add("final_approver_id", *update.FinalApproverID)
	}
	if update.FinalApprovalDate != nil {
		add("final_approval_date", *update.FinalApprovalDate)
	}
	sql += ` WHERE id = $1`
	tag, err := tx.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase request", ErrNotFound)
	}
	return nil
}

const historyColumns = `id, request_id, gate, approver_id, approved,
	COALESCE(rejection_reason, ''), approval_step, decided_value::text, dual_approval,
	COALESCE(approver_role, ''), COALESCE(ip, ''), COALESCE(user_agent, ''), created_at`

// GetApprovalHistory returns gate entries ordered oldest first. An empty
// gate returns entries for every gate.
func (r *Repository) GetApprovalHistory(ctx context.Context, requestID int64, gate Gate) ([]ApprovalHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+historyColumns+` FROM approval_history WHERE request_id=$1 AND ($2 = '' OR gate=$2) ORDER BY id`, requestID, gate)
	if err != nil {
		return nil, err
	}
	return collectHistory(rows)
}

func (tx *txRepo) GetApprovalHistory(ctx context.Context, requestID int64, gate Gate) ([]ApprovalHistoryEntry, error) {
	rows, err := tx.tx.Query(ctx, `SELECT `+historyColumns+` FROM approval_history WHERE request_id=$1 AND ($2 = '' OR gate=$2) ORDER BY id`, requestID, gate)
	if err != nil {
		return nil, err
	}
	return collectHistory(rows)
}

func collectHistory(rows pgx.Rows) ([]ApprovalHistoryEntry, error) {
	defer rows.Close()
	var entries []ApprovalHistoryEntry
	for rows.Next() {
		var (
			entry    ApprovalHistoryEntry
			rawValue string
		)
		if err := rows.Scan(
			&entry.ID, &entry.RequestID, &entry.Gate, &entry.ApproverID, &entry.Approved,
			&entry.RejectionReason, &entry.Step, &rawValue, &entry.DualApproval,
			&entry.ApproverRole, &entry.IP, &entry.UserAgent, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(rawValue)
		if err != nil {
			return nil, fmt.Errorf("purchasing: malformed decided value %q: %w", rawValue, err)
		}
		entry.DecidedValue = value
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendApprovalHistory inserts an immutable gate entry.
func (tx *txRepo) AppendApprovalHistory(ctx context.Context, entry ApprovalHistoryEntry) (ApprovalHistoryEntry, error) {
	err := tx.tx.QueryRow(ctx, `INSERT INTO approval_history
	(request_id, gate, approver_id, approved, rejection_reason, approval_step, decided_value, dual_approval, approver_role, ip, user_agent, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))
RETURNING id`,
		entry.RequestID, entry.Gate, entry.ApproverID, entry.Approved, entry.RejectionReason,
		entry.Step, entry.DecidedValue.String(), entry.DualApproval, entry.ApproverRole,
		entry.IP, entry.UserAgent, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return ApprovalHistoryEntry{}, err
	}
	return entry, nil
}

// ApplyQuantityMutation writes the non-nil fields of an accepted mutation.
func (tx *txRepo) ApplyQuantityMutation(ctx context.Context, supplierQuotationID int64, mutation QuantityMutation) error {
	sql := `UPDATE supplier_quotation_items SET updated_at = NOW()`
	args := []any{mutation.ItemID, supplierQuotationID}
	arg := 3
	add := func(column string, value any) {
		sql += fmt.Sprintf(", %s = $%d", column, arg)
		args = append(args, value)
		arg++
	}
	if mutation.AvailableQuantity != nil {
		add("available_quantity", *mutation.AvailableQuantity)
	}
	if mutation.ConfirmedUnit != nil {
		add("confirmed_unit", *mutation.ConfirmedUnit)
	}
	if mutation.QuantityAdjustmentReason != nil {
		add("quantity_adjustment_reason", *mutation.QuantityAdjustmentReason)
	}
	sql += ` WHERE id = $1 AND supplier_quotation_id = $2`
	tag, err := tx.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: supplier quotation item", ErrNotFound)
	}
	return nil
}

// ListApprovalConfigurations returns every configuration, newest effective
// date first.
func (r *Repository) ListApprovalConfigurations(ctx context.Context) ([]ApprovalConfiguration, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, value_threshold::text, effective_date, COALESCE(reason, ''), created_by, created_at
FROM approval_configurations ORDER BY effective_date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []ApprovalConfiguration
	for rows.Next() {
		var (
			cfg          ApprovalConfiguration
			rawThreshold string
		)
		if err := rows.Scan(&cfg.ID, &rawThreshold, &cfg.EffectiveDate, &cfg.Reason, &cfg.CreatedBy, &cfg.CreatedAt); err != nil {
			return nil, err
		}
		threshold, err := decimal.NewFromString(rawThreshold)
		if err != nil {
			return nil, fmt.Errorf("purchasing: malformed threshold %q: %w", rawThreshold, err)
		}
		cfg.ValueThreshold = threshold
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return configs, nil
}

// CreateApprovalConfiguration appends a new configuration. Existing ones are
// never modified; the newest effective date supersedes.
func (r *Repository) CreateApprovalConfiguration(ctx context.Context, cfg ApprovalConfiguration) (ApprovalConfiguration, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO approval_configurations (value_threshold, effective_date, reason, created_by, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, NOW()) RETURNING id, created_at`,
		cfg.ValueThreshold.String(), cfg.EffectiveDate, cfg.Reason, cfg.CreatedBy,
	).Scan(&cfg.ID, &cfg.CreatedAt)
	if err != nil {
		return ApprovalConfiguration{}, err
	}
	return cfg, nil
}

// GetSupplierQuotationItems returns the items of a supplier quotation with
// the original-quantity baseline joined in from the request items.
func (r *Repository) GetSupplierQuotationItems(ctx context.Context, supplierQuotationID int64) ([]SupplierQuotationItem, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT TRUE FROM supplier_quotations WHERE id=$1`, supplierQuotationID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier quotation", ErrNotFound)
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.supplier_quotation_id,
	COALESCE(ri.quantity, 0), COALESCE(i.available_quantity, 0),
	COALESCE(i.confirmed_unit, ''), COALESCE(i.quantity_adjustment_reason, '')
FROM supplier_quotation_items i
LEFT JOIN request_items ri ON ri.id = i.request_item_id
WHERE i.supplier_quotation_id = $1 ORDER BY i.id`, supplierQuotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SupplierQuotationItem
	for rows.Next() {
		var item SupplierQuotationItem
		if err := rows.Scan(&item.ID, &item.SupplierQuotationID, &item.OriginalQuantity,
			&item.AvailableQuantity, &item.ConfirmedUnit, &item.QuantityAdjustmentReason); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// HasChosenSupplierQuotation reports whether the request's active quotation
// has at least one supplier quotation marked as chosen.
func (r *Repository) HasChosenSupplierQuotation(ctx context.Context, requestID int64) (bool, error) {
	var chosen bool
	err := r.pool.QueryRow(ctx, `SELECT TRUE
FROM supplier_quotations sq
JOIN quotations q ON q.id = sq.quotation_id
WHERE q.request_id = $1 AND q.active AND sq.chosen
LIMIT 1`, requestID).Scan(&chosen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return chosen, nil
}
