package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/perzequiel/gerald-gateway/internal/decision"
	"github.com/perzequiel/gerald-gateway/internal/idgen"
	"github.com/perzequiel/gerald-gateway/internal/logging"
	"github.com/perzequiel/gerald-gateway/internal/retry"
)

// DefaultMaxAttempts is one initial delivery plus five retries.
const DefaultMaxAttempts = 6

var webhookLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "webhook_latency_seconds",
	Help:    "Latency of outbound webhook POST attempts.",
	Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
})

func init() {
	prometheus.MustRegister(webhookLatency)
}

// Compile-time check that Dispatcher satisfies the orchestrator's capability.
var _ decision.WebhookDispatcher = (*Dispatcher)(nil)

// Dispatcher posts ledger notifications with exponential backoff. All
// failures are treated as transient; the final status is failed only after
// the attempt budget is exhausted.
type Dispatcher struct {
	store       Store
	targetURL   string
	client      *http.Client
	backoff     retry.Policy
	maxAttempts int
}

// NewDispatcher creates a dispatcher for the given ledger target URL.
func NewDispatcher(store Store, targetURL string) *Dispatcher {
	return &Dispatcher{
		store:     store,
		targetURL: targetURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
				ResponseHeaderTimeout: 5 * time.Second,
			},
		},
		backoff:     retry.NewExponential(),
		maxAttempts: DefaultMaxAttempts,
	}
}

// WithBackoff overrides the retry policy. Test hook.
func (d *Dispatcher) WithBackoff(p retry.Policy) *Dispatcher {
	d.backoff = p
	return d
}

// WithMaxAttempts overrides the attempt budget.
func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n >= 1 {
		d.maxAttempts = n
	}
	return d
}

// DispatchApproval persists the webhook row and delivers it in the
// background. Row creation and delivery both run on a context detached
// from the caller, so an aborted HTTP request cannot drop a notification
// for a decision that is already durable.
func (d *Dispatcher) DispatchApproval(ctx context.Context, ev decision.ApprovalEvent) {
	log := logging.L(ctx)

	payload, err := json.Marshal(ApprovalPayload{
		Event:              EventBNPLApproved,
		PlanID:             ev.PlanID,
		DecisionID:         ev.DecisionID,
		UserID:             ev.UserID,
		AmountGrantedCents: ev.AmountGrantedCents,
		RequestID:          ev.RequestID,
	})
	if err != nil {
		log.Error("webhook payload marshal failed", "plan_id", ev.PlanID, "error", err)
		return
	}

	w := &OutboundWebhook{
		ID:        idgen.New(),
		EventType: EventBNPLApproved,
		Payload:   payload,
		TargetURL: d.targetURL,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		PlanID:    ev.PlanID,
	}
	bg := logging.WithLogger(context.Background(), log)
	if err := d.store.Create(bg, w); err != nil {
		log.Error("webhook row create failed", "plan_id", ev.PlanID, "error", err)
		return
	}
	go func() {
		ok, attempts := d.Deliver(bg, w.ID)
		if ok {
			log.Info("webhook delivered", "webhook_id", w.ID, "attempts", attempts)
		} else {
			log.Warn("webhook failed permanently", "webhook_id", w.ID, "attempts", attempts)
		}
	}()
}

// Deliver runs the attempt loop for a persisted webhook and returns whether
// a 2xx was received and how many attempts were consumed.
func (d *Dispatcher) Deliver(ctx context.Context, id string) (bool, int) {
	log := logging.L(ctx)
	attempts := 0

	for attempts < d.maxAttempts {
		if attempts > 0 {
			if err := retry.Sleep(ctx, d.backoff, attempts); err != nil {
				return false, attempts
			}
		}

		w, err := d.store.Get(ctx, id)
		if err != nil {
			log.Error("webhook refresh failed", "webhook_id", id, "error", err)
			return false, attempts
		}

		attempts++
		ok := d.post(ctx, w.TargetURL, w.Payload)

		status := StatusFailed
		if ok {
			status = StatusSuccess
		}
		if err := d.store.RecordAttempt(ctx, id, attempts, status, time.Now().UTC()); err != nil {
			log.Error("webhook attempt record failed", "webhook_id", id, "error", err)
		}

		if ok {
			return true, attempts
		}
		log.Warn("webhook attempt failed", "webhook_id", id, "attempt", attempts)
	}

	return false, attempts
}

// post sends one attempt and observes its latency. Any transport error or
// non-2xx status is a failure.
func (d *Dispatcher) post(ctx context.Context, targetURL string, payload []byte) bool {
	timer := prometheus.NewTimer(webhookLatency)
	defer timer.ObserveDuration()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
