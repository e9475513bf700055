package decision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perzequiel/gerald-gateway/internal/bank"
	"github.com/perzequiel/gerald-gateway/internal/risk"
	"github.com/perzequiel/gerald-gateway/internal/utilization"
)

var serviceNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeSource returns canned transactions or an error.
type fakeSource struct {
	txns []bank.Transaction
	err  error
}

func (f *fakeSource) Transactions(context.Context, string) ([]bank.Transaction, error) {
	return f.txns, f.err
}

// fakeEvents returns canned user events.
type fakeEvents struct {
	events []risk.Event
}

func (f *fakeEvents) Events(context.Context, string) ([]risk.Event, error) {
	return f.events, nil
}

// recordingMetrics counts emissions per label.
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	buckets  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: make(map[string]int), buckets: make(map[string]int)}
}

func (r *recordingMetrics) Decision(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *recordingMetrics) LimitBucket(bucket string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[bucket]++
}

// recordingDispatcher captures approval events.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []ApprovalEvent
}

func (r *recordingDispatcher) DispatchApproval(_ context.Context, ev ApprovalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testEngine(t *testing.T) *risk.Engine {
	t.Helper()
	analyzer, err := utilization.NewAnalyzer(utilization.DefaultConfig())
	require.NoError(t, err)
	engine, err := risk.NewEngine(risk.DefaultConfig(), analyzer)
	require.NoError(t, err)
	return engine.WithClock(func() time.Time { return serviceNow })
}

func intp(v int64) *int64 { return &v }

func tierATransactions() []bank.Transaction {
	return []bank.Transaction{{
		Date:         time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		AmountCents:  500000,
		Type:         "credit",
		BalanceCents: intp(500000),
	}}
}

func newTestService(t *testing.T, source TransactionSource) (*Service, *MemoryStore, *recordingMetrics, *recordingDispatcher) {
	t.Helper()
	store := NewMemoryStore()
	metrics := newRecordingMetrics()
	dispatcher := &recordingDispatcher{}
	svc := NewService(store, source, testEngine(t)).
		WithMetrics(metrics).
		WithWebhooks(dispatcher).
		WithClock(func() time.Time { return serviceNow })
	return svc, store, metrics, dispatcher
}

func TestDecide_ApprovedTierA(t *testing.T) {
	svc, _, metrics, dispatcher := newTestService(t, &fakeSource{txns: tierATransactions()})

	d, err := svc.Decide(context.Background(), "U1", 40000, "req-1")
	require.NoError(t, err)

	assert.True(t, d.Approved)
	assert.Equal(t, int64(20000), d.CreditLimitCents)
	assert.Equal(t, int64(20000), d.AmountGrantedCents)
	assert.Equal(t, "Tier A", d.ScoreBand)

	require.NotNil(t, d.Plan)
	require.Len(t, d.Plan.Installments, 4)
	for _, inst := range d.Plan.Installments {
		assert.Equal(t, int64(5000), inst.AmountCents)
	}

	assert.Equal(t, 1, metrics.outcomes[OutcomeApproved])
	assert.Equal(t, 1, metrics.buckets["Tier A"])

	require.Equal(t, 1, dispatcher.count())
	ev := dispatcher.events[0]
	assert.Equal(t, d.Plan.ID, ev.PlanID)
	assert.Equal(t, d.ID, ev.DecisionID)
	assert.Equal(t, int64(20000), ev.AmountGrantedCents)
	assert.Equal(t, "req-1", ev.RequestID)
}

func TestDecide_GrantCappedByRequest(t *testing.T) {
	svc, _, _, _ := newTestService(t, &fakeSource{txns: tierATransactions()})

	d, err := svc.Decide(context.Background(), "U1", 7500, "req-cap")
	require.NoError(t, err)

	assert.True(t, d.Approved)
	assert.Equal(t, int64(20000), d.CreditLimitCents)
	assert.Equal(t, int64(7500), d.AmountGrantedCents)
	assert.Equal(t, int64(7500), d.Plan.TotalCents)
}

func TestDecide_ZeroRequestIsDeclined(t *testing.T) {
	svc, _, metrics, dispatcher := newTestService(t, &fakeSource{txns: tierATransactions()})

	d, err := svc.Decide(context.Background(), "U1", 0, "req-zero")
	require.NoError(t, err)

	assert.False(t, d.Approved)
	assert.Equal(t, int64(0), d.AmountGrantedCents)
	assert.Nil(t, d.Plan)
	assert.Equal(t, 1, metrics.outcomes[OutcomeDeclined])
	assert.Equal(t, 0, dispatcher.count())
}

func TestDecide_EmptyTransactionsIsErrorOutcome(t *testing.T) {
	svc, store, metrics, dispatcher := newTestService(t, &fakeSource{txns: nil})

	d, err := svc.Decide(context.Background(), "U2", 5000, "req-2")
	require.NoError(t, err)

	assert.False(t, d.Approved)
	assert.Equal(t, int64(0), d.CreditLimitCents)
	assert.Equal(t, int64(0), d.AmountGrantedCents)
	assert.Equal(t, "no_transaction_history", d.RiskFactors.Error)
	assert.Nil(t, d.Plan)

	assert.Equal(t, 1, metrics.outcomes[OutcomeError])
	assert.Equal(t, 1, metrics.buckets[ErrorBucket])
	assert.Equal(t, 0, dispatcher.count())

	// The error outcome is still a durable decision.
	stored, err := store.GetDecisionByRequestID(context.Background(), "req-2")
	require.NoError(t, err)
	assert.Equal(t, d.ID, stored.ID)
}

func TestDecide_BankUnavailable(t *testing.T) {
	svc, store, metrics, _ := newTestService(t, &fakeSource{err: bank.ErrBankUnavailable})

	_, err := svc.Decide(context.Background(), "U3", 5000, "req-3")
	require.Error(t, err)
	assert.ErrorIs(t, err, bank.ErrBankUnavailable)

	// No decision persisted, no metrics.
	_, err = store.GetDecisionByRequestID(context.Background(), "req-3")
	assert.ErrorIs(t, err, ErrDecisionNotFound)
	assert.Empty(t, metrics.outcomes)
}

func TestDecide_IdempotentReplay(t *testing.T) {
	svc, _, metrics, dispatcher := newTestService(t, &fakeSource{txns: tierATransactions()})

	first, err := svc.Decide(context.Background(), "U1", 40000, "req-same")
	require.NoError(t, err)
	second, err := svc.Decide(context.Background(), "U1", 40000, "req-same")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AmountGrantedCents, second.AmountGrantedCents)
	require.NotNil(t, second.Plan)
	assert.Equal(t, first.Plan.ID, second.Plan.ID)

	// Side effects exactly once.
	assert.Equal(t, 1, metrics.outcomes[OutcomeApproved])
	assert.Equal(t, 1, dispatcher.count())
}

func TestDecide_ConcurrentDuplicates(t *testing.T) {
	svc, store, metrics, dispatcher := newTestService(t, &fakeSource{txns: tierATransactions()})

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := svc.Decide(context.Background(), "U1", 40000, "req-race")
			if assert.NoError(t, err) {
				ids[i] = d.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}

	stored, err := store.GetDecisionByRequestID(context.Background(), "req-race")
	require.NoError(t, err)
	assert.Equal(t, ids[0], stored.ID)

	assert.Equal(t, 1, metrics.outcomes[OutcomeApproved])
	assert.Equal(t, 1, dispatcher.count())
}

func TestDecide_CooldownDeny(t *testing.T) {
	svc, _, metrics, dispatcher := newTestService(t, &fakeSource{txns: tierATransactions()})
	svc.WithEvents(&fakeEvents{events: []risk.Event{
		{Type: "advance_taken", Timestamp: serviceNow.Add(-24 * time.Hour).Format(time.RFC3339)},
	}})

	d, err := svc.Decide(context.Background(), "U5", 40000, "req-5")
	require.NoError(t, err)

	assert.False(t, d.Approved)
	assert.Equal(t, int64(0), d.CreditLimitCents)
	assert.Equal(t, "Deny", d.ScoreBand)
	assert.True(t, d.RiskFactors.InCooldown)
	assert.Nil(t, d.Plan)

	assert.Equal(t, 1, metrics.outcomes[OutcomeDeclined])
	assert.Equal(t, 1, metrics.buckets["Deny"])
	assert.Equal(t, 0, dispatcher.count())
}

func TestHistory_NewestFirstCapped(t *testing.T) {
	svc, _, _, _ := newTestService(t, &fakeSource{txns: tierATransactions()})

	base := serviceNow
	for i := 0; i < 12; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		svc.WithClock(func() time.Time { return tick })
		_, err := svc.Decide(context.Background(), "U-hist", 1000, "")
		require.NoError(t, err)
	}

	history, err := svc.History(context.Background(), "U-hist", HistoryLimit)
	require.NoError(t, err)
	require.Len(t, history, 10)

	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.After(history[i-1].CreatedAt))
	}
}
