package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// WebhookPayload is a raw webhook body kept for audit and replay. Payloads
// that could not be matched to a request are stored with a reason instead of
// being dropped.
type WebhookPayload struct {
	ID         uuid.UUID       `db:"id"          json:"id"`
	SnapshotID *string         `db:"snapshot_id" json:"snapshot_id,omitempty"`
	Body       json.RawMessage `db:"body"        json:"body"`
	Reason     string          `db:"reason"      json:"reason"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
}

// AuditRepository persists unresolvable webhook payloads.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// SaveUnresolved stores a payload that could not be attributed to a request.
func (r *AuditRepository) SaveUnresolved(ctx context.Context, snapshotID *string, body json.RawMessage, reason string) error {
	query := `
		INSERT INTO webhook_payloads (id, snapshot_id, body, reason, received_at)
		VALUES ($1, $2, $3, $4, NOW())`

	if _, err := r.db.ExecContext(ctx, query, uuid.New(), snapshotID, body, reason); err != nil {
		return fmt.Errorf("save unresolved payload: %w", err)
	}
	return nil
}

// List returns the most recent unresolved payloads for operator review.
func (r *AuditRepository) List(ctx context.Context, limit int) ([]WebhookPayload, error) {
	query := `
		SELECT id, snapshot_id, body, reason, received_at
		FROM webhook_payloads
		ORDER BY received_at DESC
		LIMIT $1`

	var payloads []WebhookPayload
	if err := r.db.SelectContext(ctx, &payloads, query, limit); err != nil {
		return nil, fmt.Errorf("list unresolved payloads: %w", err)
	}
	return payloads, nil
}
