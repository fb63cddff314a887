package purchasing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suprimenta/suprimenta/internal/shared"
)

// OrderCreator materialises a purchase order from the chosen supplier
// quotation once the second gate approves. Creation is idempotent: an
// existing order for the request, or a concurrent attempt that already
// claimed the idempotency key, short-circuits without error.
type OrderCreator struct {
	pool        *pgxpool.Pool
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
}

// NewOrderCreator constructs the collaborator.
func NewOrderCreator(pool *pgxpool.Pool, idempotency *shared.IdempotencyStore, logger *slog.Logger) *OrderCreator {
	return &OrderCreator{pool: pool, idempotency: idempotency, logger: logger}
}

// CreateFromRequest creates the order unless one already exists.
func (c *OrderCreator) CreateFromRequest(ctx context.Context, requestID int64) error {
	var existing int64
	err := c.pool.QueryRow(ctx, `SELECT id FROM purchase_orders WHERE request_id=$1`, requestID).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	key := fmt.Sprintf("PO:%d", requestID)
	if c.idempotency != nil {
		if err := c.idempotency.CheckAndInsert(ctx, key, "purchasing.orders"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil
			}
			return err
		}
	}

	tag, err := c.pool.Exec(ctx, `INSERT INTO purchase_orders (request_id, supplier_quotation_id, created_at)
SELECT q.request_id, sq.id, NOW()
FROM supplier_quotations sq
JOIN quotations q ON q.id = sq.quotation_id
WHERE q.request_id = $1 AND q.active AND sq.chosen
LIMIT 1`, requestID)
	if err != nil {
		if c.idempotency != nil {
			_ = c.idempotency.Delete(ctx, key)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if c.idempotency != nil {
			_ = c.idempotency.Delete(ctx, key)
		}
		return fmt.Errorf("%w: no chosen supplier quotation to create an order from", ErrPreconditionNotMet)
	}
	if c.logger != nil {
		c.logger.Info("purchase order created", slog.Int64("request_id", requestID))
	}
	return nil
}
