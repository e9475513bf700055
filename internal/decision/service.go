package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perzequiel/gerald-gateway/internal/features"
	"github.com/perzequiel/gerald-gateway/internal/idgen"
	"github.com/perzequiel/gerald-gateway/internal/logging"
	"github.com/perzequiel/gerald-gateway/internal/risk"
	"github.com/perzequiel/gerald-gateway/internal/traces"
)

// Service orchestrates the decision flow.
type Service struct {
	store    Store
	source   TransactionSource
	engine   *risk.Engine
	events   EventSource
	metrics  Metrics
	webhooks WebhookDispatcher
	now      func() time.Time
}

// NewService creates a decision service. Events, metrics, and webhooks
// default to no-ops; wire them with the With* methods.
func NewService(store Store, source TransactionSource, engine *risk.Engine) *Service {
	return &Service{
		store:    store,
		source:   source,
		engine:   engine,
		events:   nopEventSource{},
		metrics:  nopMetrics{},
		webhooks: nopDispatcher{},
		now:      time.Now,
	}
}

// WithEvents wires a user-event source for the cooldown check.
func (s *Service) WithEvents(events EventSource) *Service {
	s.events = events
	return s
}

// WithMetrics wires the decision counters.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// WithWebhooks wires the ledger approval dispatcher.
func (s *Service) WithWebhooks(w WebhookDispatcher) *Service {
	s.webhooks = w
	return s
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Decide runs the full flow: idempotency lookup, fetch, score, persist,
// count, notify. The returned Decision has its Plan attached when approved.
func (s *Service) Decide(ctx context.Context, userID string, amountRequestedCents int64, requestID string) (*Decision, error) {
	ctx, span := traces.StartSpan(ctx, "decision.Decide",
		traces.UserID(userID), traces.RequestID(requestID), traces.AmountCents(amountRequestedCents))
	defer span.End()

	log := logging.L(ctx)

	if requestID != "" {
		existing, err := s.store.GetDecisionByRequestID(ctx, requestID)
		if err == nil {
			log.Info("idempotent replay", "request_id", requestID, "decision_id", existing.ID)
			return existing, nil
		}
		if !errors.Is(err, ErrDecisionNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	txns, err := s.source.Transactions(ctx, userID)
	if err != nil {
		log.Warn("bank fetch failed", "user_id", userID, "error", err)
		return nil, err
	}

	events, err := s.events.Events(ctx, userID)
	if err != nil {
		// Events are advisory; the transaction fallback still covers
		// the cooldown check.
		log.Warn("event fetch failed, falling back to transactions", "user_id", userID, "error", err)
	}

	now := s.now().UTC()
	d := &Decision{
		ID:                   idgen.New(),
		UserID:               userID,
		RequestID:            requestID,
		AmountRequestedCents: amountRequestedCents,
		CreatedAt:            now,
	}

	outcome := OutcomeDeclined
	bucket := ""

	assessment, err := s.engine.Evaluate(txns, events)
	switch {
	case errors.Is(err, features.ErrEmptyTransactions):
		outcome = OutcomeError
		bucket = ErrorBucket
		d.RiskFactors = RiskFactors{Error: "no_transaction_history"}
	case err != nil:
		return nil, fmt.Errorf("risk evaluation: %w", err)
	default:
		d.Score = assessment.FinalScore
		d.ScoreBand = assessment.Tier
		d.CreditLimitCents = assessment.LimitCents
		d.RiskFactors = riskFactors(assessment)
		bucket = assessment.Tier

		granted := min64(amountRequestedCents, assessment.LimitCents)
		if assessment.Approvable && granted > 0 {
			d.Approved = true
			d.AmountGrantedCents = granted
			outcome = OutcomeApproved
		}
	}

	if err := s.store.CreateDecision(ctx, d); err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			// A concurrent duplicate won the insert; theirs is the
			// decision of record.
			existing, lookupErr := s.store.GetDecisionByRequestID(ctx, requestID)
			if lookupErr != nil {
				return nil, fmt.Errorf("duplicate re-read: %w", lookupErr)
			}
			log.Info("lost idempotency race, returning winner", "request_id", requestID)
			return existing, nil
		}
		return nil, fmt.Errorf("persist decision: %w", err)
	}

	if d.Approved {
		plan := BuildPlan(d.ID, d.UserID, d.AmountGrantedCents, now)
		if err := s.store.CreatePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("persist plan: %w", err)
		}
		d.Plan = plan
		span.SetAttributes(traces.PlanID(plan.ID), traces.DecisionID(d.ID))
	}

	s.metrics.Decision(outcome)
	s.metrics.LimitBucket(bucket)

	if d.Approved {
		s.webhooks.DispatchApproval(ctx, ApprovalEvent{
			PlanID:             d.Plan.ID,
			DecisionID:         d.ID,
			UserID:             d.UserID,
			RequestID:          d.RequestID,
			AmountGrantedCents: d.AmountGrantedCents,
		})
	}

	log.Info("decision taken",
		"decision_id", d.ID,
		"user_id", d.UserID,
		"outcome", outcome,
		"score", d.Score,
		"tier", d.ScoreBand,
		"granted_cents", d.AmountGrantedCents,
	)
	return d, nil
}

// History returns the user's most recent decisions, capped at limit.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Decision, error) {
	return s.store.ListDecisionsByUser(ctx, userID, limit)
}

// GetPlan returns a plan with its installments.
func (s *Service) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	return s.store.GetPlan(ctx, planID)
}

func riskFactors(a risk.Assessment) RiskFactors {
	return RiskFactors{
		FinalScore:       a.FinalScore,
		BalanceScore:     a.BalanceScore,
		IncomeSpendScore: a.IncomeSpendScore,
		NSFScore:         a.NSFScore,
		NSFCount:         a.Features.NSFCount,
		UtilizationLabel: a.Utilization.Label,
		PaybackLabel:     a.Payback.Label,
		InCooldown:       a.Cooldown.InCooldown,
		Reasons:          a.Reasons,
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
