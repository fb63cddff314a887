package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs. Entries are append-only;
// corrections are made by writing new entries, never by editing history.
type AuditLog struct {
	CorrelationID  uuid.UUID
	ActorID        int64
	Action         string
	Entity         string
	EntityID       string
	Description    string
	BeforeSnapshot map[string]any
	AfterSnapshot  map[string]any
	At             time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.CorrelationID == uuid.Nil {
		log.CorrelationID = uuid.New()
	}
	before, err := marshalSnapshot(log.BeforeSnapshot)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(log.AfterSnapshot)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (correlation_id, actor_id, action, entity, entity_id, description, before_snapshot, after_snapshot, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		log.CorrelationID, log.ActorID, log.Action, log.Entity, log.EntityID, log.Description, before, after, log.At)
	return err
}

func marshalSnapshot(snapshot map[string]any) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	return json.Marshal(snapshot)
}
