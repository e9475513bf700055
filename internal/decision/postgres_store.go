package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed decision store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the decision tables if they don't exist. The partial
// unique index on request_id is the idempotency guarantee under concurrent
// duplicates.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bnpl_decision (
			id                   VARCHAR(36) PRIMARY KEY,
			user_id              VARCHAR(64) NOT NULL,
			request_id           VARCHAR(64) NOT NULL DEFAULT '',
			requested_cents      BIGINT NOT NULL,
			approved             BOOLEAN NOT NULL DEFAULT FALSE,
			credit_limit_cents   BIGINT NOT NULL DEFAULT 0,
			amount_granted_cents BIGINT NOT NULL DEFAULT 0,
			score_numeric        NUMERIC(5,1) NOT NULL DEFAULT 0,
			score_band           VARCHAR(20) NOT NULL DEFAULT '',
			risk_factors         JSONB NOT NULL DEFAULT '{}',
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_bnpl_decision_request
			ON bnpl_decision(request_id) WHERE request_id <> '';
		CREATE INDEX IF NOT EXISTS idx_bnpl_decision_user
			ON bnpl_decision(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS bnpl_plan (
			id          VARCHAR(36) PRIMARY KEY,
			decision_id VARCHAR(36) NOT NULL REFERENCES bnpl_decision(id),
			user_id     VARCHAR(64) NOT NULL,
			total_cents BIGINT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_bnpl_plan_decision ON bnpl_plan(decision_id);

		CREATE TABLE IF NOT EXISTS bnpl_installment (
			id           VARCHAR(36) PRIMARY KEY,
			plan_id      VARCHAR(36) NOT NULL REFERENCES bnpl_plan(id),
			due_date     TIMESTAMPTZ NOT NULL,
			amount_cents BIGINT NOT NULL,
			status       VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_bnpl_installment_plan ON bnpl_installment(plan_id);
	`)
	return err
}

func (p *PostgresStore) CreateDecision(ctx context.Context, d *Decision) error {
	factors, err := json.Marshal(d.RiskFactors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO bnpl_decision (
			id, user_id, request_id, requested_cents, approved,
			credit_limit_cents, amount_granted_cents,
			score_numeric, score_band, risk_factors, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (request_id) WHERE request_id <> '' DO NOTHING
	`, d.ID, d.UserID, d.RequestID, d.AmountRequestedCents, d.Approved,
		d.CreditLimitCents, d.AmountGrantedCents,
		d.Score, d.ScoreBand, factors, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDuplicateRequest
	}
	return nil
}

func (p *PostgresStore) GetDecisionByRequestID(ctx context.Context, requestID string) (*Decision, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, request_id, requested_cents, approved,
		       credit_limit_cents, amount_granted_cents,
		       score_numeric, score_band, risk_factors, created_at
		FROM bnpl_decision
		WHERE request_id = $1
	`, requestID)

	d, err := scanDecision(row)
	if err != nil {
		return nil, err
	}
	if d.Approved {
		if err := p.attachPlan(ctx, d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (p *PostgresStore) CreatePlan(ctx context.Context, plan *Plan) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bnpl_plan (id, decision_id, user_id, total_cents, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, plan.ID, plan.DecisionID, plan.UserID, plan.TotalCents, plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for _, inst := range plan.Installments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bnpl_installment (id, plan_id, due_date, amount_cents, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, inst.ID, inst.PlanID, inst.DueDate, inst.AmountCents, inst.Status, inst.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert installment: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	plan := &Plan{
		InstallmentsCount: DefaultInstallmentsCount,
		DaysBetween:       DefaultDaysBetween,
	}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, decision_id, user_id, total_cents, created_at
		FROM bnpl_plan WHERE id = $1
	`, planID).Scan(&plan.ID, &plan.DecisionID, &plan.UserID, &plan.TotalCents, &plan.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select plan: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, plan_id, due_date, amount_cents, status, created_at
		FROM bnpl_installment WHERE plan_id = $1
		ORDER BY due_date ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("select installments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var inst Installment
		if err := rows.Scan(&inst.ID, &inst.PlanID, &inst.DueDate, &inst.AmountCents, &inst.Status, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		plan.Installments = append(plan.Installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	plan.InstallmentsCount = len(plan.Installments)
	return plan, nil
}

func (p *PostgresStore) ListDecisionsByUser(ctx context.Context, userID string, limit int) ([]*Decision, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, request_id, requested_cents, approved,
		       credit_limit_cents, amount_granted_cents,
		       score_numeric, score_band, risk_factors, created_at
		FROM bnpl_decision
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("select decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range out {
		if d.Approved {
			if err := p.attachPlan(ctx, d); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// attachPlan loads the plan referencing a decision, if one exists.
func (p *PostgresStore) attachPlan(ctx context.Context, d *Decision) error {
	var planID string
	err := p.db.QueryRowContext(ctx, `
		SELECT id FROM bnpl_plan WHERE decision_id = $1
	`, d.ID).Scan(&planID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select plan id: %w", err)
	}

	plan, err := p.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	d.Plan = plan
	return nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scan code.
type scannable interface {
	Scan(dest ...any) error
}

func scanDecision(row scannable) (*Decision, error) {
	var d Decision
	var factors []byte
	err := row.Scan(&d.ID, &d.UserID, &d.RequestID, &d.AmountRequestedCents, &d.Approved,
		&d.CreditLimitCents, &d.AmountGrantedCents,
		&d.Score, &d.ScoreBand, &factors, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan decision: %w", err)
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &d.RiskFactors); err != nil {
			return nil, fmt.Errorf("unmarshal risk factors: %w", err)
		}
	}
	return &d, nil
}
