package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perzequiel/gerald-gateway/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeBank serves a minimal bank API: a healthy single-credit history for
// any user, no events feed.
func fakeBank(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/bank/transactions":
			_, _ = w.Write([]byte(`[
				{"id":"t1","date":"2026-05-01","amount_cents":500000,"type":"credit","balance_cents":500000}
			]`))
		case "/bank/events":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func testConfig(bankURL string) *config.Config {
	return &config.Config{
		Port:       "0",
		Env:        "development",
		LogLevel:   "error",
		BankAPIURL: bankURL,

		TierALimit: 20000, TierBLimit: 12000, TierCLimit: 6000, TierDLimit: 2000,
		TierAMinScore: 75, TierBMinScore: 55, TierCMinScore: 35,

		BalanceWeight: 0.5, IncomeSpendWeight: 0.3, NSFWeight: 0.2,
		BalanceNegCap: 10000, NSFPenalty: 25, PaybackPenalty: 10,
		UtilPenaltyHighRisk: 15, UtilPenaltyMediumRisk: 7.5,

		UtilMu: 0.6, UtilSigmaLeft: 0.5, UtilSigmaRight: 0.25, UtilWeight: 0.45,
		BurnMu: 30, BurnSigmaLeft: 10, BurnSigmaRight: 30, BurnWeight: 0.35,
		SpendMu: 0.033, SpendSigma: 0.02, SpendWeight: 0.20,

		LabelHealthy: 80, LabelMediumRisk: 60, LabelHighRisk: 40, LabelVeryHighRisk: 20,

		CooldownHours:      72,
		WebhookMaxAttempts: 6,
	}
}

func newTestServer(t *testing.T, bankURL string) *Server {
	t.Helper()
	s, err := New(testConfig(bankURL))
	require.NoError(t, err)
	return s
}

func TestHealthEndpoint(t *testing.T) {
	bankSrv := fakeBank(t)
	defer bankSrv.Close()
	s := newTestServer(t, bankSrv.URL)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "bank_api", resp.Checks[0].Name)
	assert.True(t, resp.Checks[0].Healthy)
}

func TestHealthEndpoint_DegradedWhenBankDown(t *testing.T) {
	bankSrv := fakeBank(t)
	s := newTestServer(t, bankSrv.URL)
	bankSrv.Close() // bank goes away after start-up

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

func TestLivenessEndpoint(t *testing.T) {
	bankSrv := fakeBank(t)
	defer bankSrv.Close()
	s := newTestServer(t, bankSrv.URL)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessEndpoint(t *testing.T) {
	bankSrv := fakeBank(t)
	defer bankSrv.Close()
	s := newTestServer(t, bankSrv.URL)

	// Not ready until Run has started listening.
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.ready.Store(true)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	bankSrv := fakeBank(t)
	defer bankSrv.Close()
	s := newTestServer(t, bankSrv.URL)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestDecisionEndToEnd(t *testing.T) {
	bankSrv := fakeBank(t)
	defer bankSrv.Close()
	s := newTestServer(t, bankSrv.URL)

	body := `{"user_id":"u1","amount_requested_cents":15000}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Approved           bool   `json:"approved"`
		CreditLimitCents   int64  `json:"credit_limit_cents"`
		AmountGrantedCents int64  `json:"amount_granted_cents"`
		PlanID             string `json:"plan_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Approved)
	assert.Equal(t, int64(20000), resp.CreditLimitCents)
	assert.Equal(t, int64(15000), resp.AmountGrantedCents)
	assert.NotEmpty(t, resp.PlanID)
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	bankSrv := fakeBank(t)
	defer bankSrv.Close()
	s := newTestServer(t, bankSrv.URL)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
}

func TestGeneratedRequestIDIsIdempotencyKey(t *testing.T) {
	bankSrv := fakeBank(t)
	defer bankSrv.Close()
	s := newTestServer(t, bankSrv.URL)

	body := `{"user_id":"u1","amount_requested_cents":9000}`

	first := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	// The ID the middleware minted and echoed must be the persisted
	// idempotency key: replaying with it returns the same decision.
	echoed := first.Header().Get("X-Request-ID")
	require.NotEmpty(t, echoed)

	replay := httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/decision", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", echoed)
	s.Router().ServeHTTP(replay, req)

	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, first.Body.String(), replay.Body.String())
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://gerald:s3cret@db:5432/gerald?sslmode=disable")
	assert.NotContains(t, masked, "s3cret")
	assert.Contains(t, masked, "gerald:****@db:5432")

	// No credentials, nothing to mask.
	assert.Equal(t, "postgres://db:5432/gerald", maskDSN("postgres://db:5432/gerald"))
}
