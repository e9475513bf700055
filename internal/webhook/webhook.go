// Package webhook delivers outbound ledger notifications with retries.
//
// Every dispatch is backed by an outbound_webhook row that is updated after
// each attempt, so operators can watch retries in flight and redirect the
// target URL of a webhook that is still retrying.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrWebhookNotFound = errors.New("webhook not found")

// Delivery statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// EventBNPLApproved is the event type sent on plan approval.
const EventBNPLApproved = "BNPL_APPROVED"

// OutboundWebhook is one notification and its delivery state.
type OutboundWebhook struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	TargetURL     string          `json:"target_url"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PlanID        string          `json:"plan_id,omitempty"`
}

// ApprovalPayload is the JSON body POSTed to the ledger.
type ApprovalPayload struct {
	Event              string `json:"event"`
	PlanID             string `json:"plan_id"`
	DecisionID         string `json:"decision_id"`
	UserID             string `json:"user_id"`
	AmountGrantedCents int64  `json:"amount_granted_cents"`
	RequestID          string `json:"request_id"`
}

// Store persists outbound webhooks and their attempt history.
type Store interface {
	Create(ctx context.Context, w *OutboundWebhook) error
	// Get re-reads the row; the dispatcher calls it before every attempt
	// so target URL changes take effect mid-retry.
	Get(ctx context.Context, id string) (*OutboundWebhook, error)
	// RecordAttempt commits one attempt's result immediately.
	RecordAttempt(ctx context.Context, id string, attempts int, status string, at time.Time) error
}
