package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the outbound_webhook table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS outbound_webhook (
			id              VARCHAR(36) PRIMARY KEY,
			event_type      VARCHAR(40) NOT NULL,
			payload         JSONB NOT NULL,
			target_url      TEXT NOT NULL,
			status          VARCHAR(20) NOT NULL DEFAULT 'pending',
			attempts        INT NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			plan_id         VARCHAR(36)
		);
		CREATE INDEX IF NOT EXISTS idx_outbound_webhook_status ON outbound_webhook(status);
		CREATE INDEX IF NOT EXISTS idx_outbound_webhook_plan ON outbound_webhook(plan_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, w *OutboundWebhook) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO outbound_webhook (
			id, event_type, payload, target_url, status, attempts, created_at, plan_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`, w.ID, w.EventType, []byte(w.Payload), w.TargetURL, w.Status, w.Attempts, w.CreatedAt, w.PlanID)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*OutboundWebhook, error) {
	var w OutboundWebhook
	var payload []byte
	var lastAttempt sql.NullTime
	var planID sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT id, event_type, payload, target_url, status, attempts, last_attempt_at, created_at, plan_id
		FROM outbound_webhook WHERE id = $1
	`, id).Scan(&w.ID, &w.EventType, &payload, &w.TargetURL, &w.Status, &w.Attempts, &lastAttempt, &w.CreatedAt, &planID)
	if err == sql.ErrNoRows {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select webhook: %w", err)
	}

	w.Payload = payload
	if lastAttempt.Valid {
		w.LastAttemptAt = &lastAttempt.Time
	}
	if planID.Valid {
		w.PlanID = planID.String
	}
	return &w, nil
}

func (p *PostgresStore) RecordAttempt(ctx context.Context, id string, attempts int, status string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE outbound_webhook
		SET attempts = $2, status = $3, last_attempt_at = $4
		WHERE id = $1
	`, id, attempts, status, at)
	if err != nil {
		return fmt.Errorf("update webhook attempt: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWebhookNotFound
	}
	return nil
}
