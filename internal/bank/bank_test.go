package bank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactions_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bank/transactions", r.URL.Path)
		assert.Equal(t, "user-1", r.URL.Query().Get("user_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "t1", "date": "2026-01-05", "amount_cents": 1500, "type": "debit", "balance_cents": 48500, "nsf": false, "description": "coffee"},
			{"id": "t2", "date": "2026-01-06T10:30:00Z", "amount_cents": 250000, "type": "credit", "balance_cents": 298500, "category": "payroll"}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	txns, err := client.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "t1", txns[0].ID)
	assert.Equal(t, int64(1500), txns[0].AmountCents)
	assert.Equal(t, "debit", txns[0].Type)
	require.NotNil(t, txns[0].BalanceCents)
	assert.Equal(t, int64(48500), *txns[0].BalanceCents)
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), txns[0].Date)

	assert.Equal(t, "credit", txns[1].Type)
	assert.Equal(t, "payroll", txns[1].Category)
	assert.Equal(t, time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC), txns[1].Date)
}

func TestTransactions_WrappedEnvelopes(t *testing.T) {
	for name, body := range map[string]string{
		"transactions key": `{"transactions": [{"id": "a", "amount": 100}]}`,
		"data key":         `{"data": [{"id": "a", "amount": 100}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			txns, err := NewClient(srv.URL).Transactions(context.Background(), "u")
			require.NoError(t, err)
			require.Len(t, txns, 1)
			assert.Equal(t, "a", txns[0].ID)
			assert.Equal(t, int64(100), txns[0].AmountCents)
		})
	}
}

func TestTransactions_AlternativeKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{
			"transaction_id": "alt-1",
			"transaction_date": "2026-02-01",
			"amount": 999,
			"transaction_type": "CREDIT",
			"balance": 5000,
			"is_nsf": true,
			"memo": "legacy memo",
			"merchant_name": "ACME"
		}]`))
	}))
	defer srv.Close()

	txns, err := NewClient(srv.URL).Transactions(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, txns, 1)

	tx := txns[0]
	assert.Equal(t, "alt-1", tx.ID)
	assert.Equal(t, "credit", tx.Type)
	assert.Equal(t, int64(999), tx.AmountCents)
	require.NotNil(t, tx.BalanceCents)
	assert.Equal(t, int64(5000), *tx.BalanceCents)
	assert.True(t, tx.NSF)
	assert.Equal(t, "legacy memo", tx.Description)
	assert.Equal(t, "ACME", tx.Merchant)
}

func TestTransactions_MissingBalanceIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": "x", "amount_cents": 100, "balance_cents": null}]`))
	}))
	defer srv.Close()

	txns, err := NewClient(srv.URL).Transactions(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Nil(t, txns[0].BalanceCents)
}

func TestTransactions_UnixTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 2026-03-15T12:00:00Z
		_, _ = w.Write([]byte(`[{"id": "x", "timestamp": 1773576000, "amount_cents": 1}]`))
	}))
	defer srv.Close()

	txns, err := NewClient(srv.URL).Transactions(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), txns[0].Date)
}

func TestTransactions_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Transactions(context.Background(), "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBankUnavailable)
}

func TestTransactions_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed on purpose

	_, err := NewClient(srv.URL).Transactions(context.Background(), "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBankUnavailable)
}

func TestTransactions_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transactions": "not a list"`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Transactions(context.Background(), "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBankUnavailable)
}

func TestDay(t *testing.T) {
	in := time.Date(2026, 7, 4, 23, 59, 58, 123, time.FixedZone("X", -3600))
	got := Day(in)
	assert.Equal(t, time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC), got)
}
