// Package decision implements the BNPL decision flow.
//
// A decision request fetches the user's bank history, scores it through the
// risk engine, persists the resulting Decision (and Plan when approved), and
// notifies the ledger webhook. Requests carrying a request ID are idempotent:
// replays return the original Decision without side effects.
package decision

import (
	"context"
	"errors"
	"time"

	"github.com/perzequiel/gerald-gateway/internal/bank"
	"github.com/perzequiel/gerald-gateway/internal/risk"
)

var (
	ErrDecisionNotFound = errors.New("decision not found")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrDuplicateRequest = errors.New("duplicate request id")
)

// Metric outcomes for decision_total.
const (
	OutcomeApproved = "approved"
	OutcomeDeclined = "declined"
	OutcomeError    = "error"
)

// ErrorBucket is the credit_limit_bucket label for the error outcome.
const ErrorBucket = "$0"

// Installment statuses.
const (
	InstallmentPending = "pending"
	InstallmentPaid    = "paid"
	InstallmentOverdue = "overdue"
)

// Decision is the immutable outcome of one scored request.
type Decision struct {
	ID                   string      `json:"id"`
	UserID               string      `json:"user_id"`
	RequestID            string      `json:"request_id"`
	AmountRequestedCents int64       `json:"amount_requested_cents"`
	Approved             bool        `json:"approved"`
	CreditLimitCents     int64       `json:"credit_limit_cents"`
	AmountGrantedCents   int64       `json:"amount_granted_cents"`
	Score                float64     `json:"score"`
	ScoreBand            string      `json:"score_band"`
	RiskFactors          RiskFactors `json:"risk_factors"`
	CreatedAt            time.Time   `json:"created_at"`

	// Plan is attached when Approved. Not a column; loaded separately.
	Plan *Plan `json:"plan,omitempty"`
}

// RiskFactors is the explainability blob persisted alongside a decision.
type RiskFactors struct {
	Error            string        `json:"error,omitempty"`
	FinalScore       float64       `json:"final_score"`
	BalanceScore     float64       `json:"balance_score"`
	IncomeSpendScore float64       `json:"income_spend_score"`
	NSFScore         float64       `json:"nsf_score"`
	NSFCount         int           `json:"nsf_count"`
	UtilizationLabel string        `json:"utilization_label,omitempty"`
	PaybackLabel     string        `json:"payback_label,omitempty"`
	InCooldown       bool          `json:"in_cooldown"`
	Reasons          []risk.Reason `json:"reasons,omitempty"`
}

// Plan is the installment schedule for an approved decision.
type Plan struct {
	ID                string        `json:"id"`
	DecisionID        string        `json:"decision_id"`
	UserID            string        `json:"user_id"`
	TotalCents        int64         `json:"total_cents"`
	InstallmentsCount int           `json:"installments_count"`
	DaysBetween       int           `json:"days_between_installments"`
	CreatedAt         time.Time     `json:"created_at"`
	Installments      []Installment `json:"installments"`
}

// Installment is one scheduled repayment.
type Installment struct {
	ID          string    `json:"id"`
	PlanID      string    `json:"plan_id"`
	DueDate     time.Time `json:"due_date"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// DecideRequest is the POST /v1/decision body.
type DecideRequest struct {
	UserID               string `json:"user_id" binding:"required"`
	AmountRequestedCents int64  `json:"amount_requested_cents" binding:"min=0"`
}

// DecideResponse is the POST /v1/decision reply.
type DecideResponse struct {
	Approved           bool   `json:"approved"`
	CreditLimitCents   int64  `json:"credit_limit_cents"`
	AmountGrantedCents int64  `json:"amount_granted_cents"`
	PlanID             string `json:"plan_id"`
}

// Store persists decisions, plans, and installments.
type Store interface {
	// CreateDecision inserts a decision. A request-id collision returns
	// ErrDuplicateRequest; the caller re-reads and returns the winner.
	CreateDecision(ctx context.Context, d *Decision) error
	// GetDecisionByRequestID returns a decision with its plan attached.
	GetDecisionByRequestID(ctx context.Context, requestID string) (*Decision, error)
	// CreatePlan inserts a plan and its installments atomically.
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID string) (*Plan, error)
	// ListDecisionsByUser returns up to limit decisions, newest first,
	// with plans attached to approved ones.
	ListDecisionsByUser(ctx context.Context, userID string, limit int) ([]*Decision, error)
}

// TransactionSource fetches a user's bank history.
type TransactionSource interface {
	Transactions(ctx context.Context, userID string) ([]bank.Transaction, error)
}

// EventSource fetches user lifecycle events for the cooldown check.
type EventSource interface {
	Events(ctx context.Context, userID string) ([]risk.Event, error)
}

// Metrics receives decision counters.
type Metrics interface {
	Decision(outcome string)
	LimitBucket(bucket string)
}

// ApprovalEvent is the payload handed to the webhook dispatcher.
type ApprovalEvent struct {
	PlanID             string
	DecisionID         string
	UserID             string
	RequestID          string
	AmountGrantedCents int64
}

// WebhookDispatcher notifies the ledger of an approval. Implementations
// must not block the caller on retries.
type WebhookDispatcher interface {
	DispatchApproval(ctx context.Context, ev ApprovalEvent)
}

// No-op capability implementations, used when a concern is not configured.

type nopEventSource struct{}

func (nopEventSource) Events(context.Context, string) ([]risk.Event, error) { return nil, nil }

type nopMetrics struct{}

func (nopMetrics) Decision(string)    {}
func (nopMetrics) LimitBucket(string) {}

type nopDispatcher struct{}

func (nopDispatcher) DispatchApproval(context.Context, ApprovalEvent) {}
