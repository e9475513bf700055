// Package bank fetches user transactions from the external bank API.
//
// The bank API is loosely specified: responses may be a bare JSON array or
// wrapped in {"transactions": [...]} or {"data": [...]}, and individual fields
// come under several alternative keys. Everything is normalized into the
// Transaction entity here, at the edge.
package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrBankUnavailable indicates the bank API could not be reached or returned
// a non-2xx response. Surfaced to clients as 503.
var ErrBankUnavailable = errors.New("bank API unavailable")

var bankFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "bank_fetch_failures_total",
	Help: "Total bank transaction fetch failures.",
})

func init() {
	prometheus.MustRegister(bankFetchFailures)
}

// Transaction is a single bank transaction, normalized to cents and a
// calendar day. BalanceCents is the balance reported after the transaction;
// nil when the bank did not report one.
type Transaction struct {
	ID           string
	Date         time.Time // calendar day, UTC midnight
	AmountCents  int64
	Type         string // "debit" | "credit"
	BalanceCents *int64
	NSF          bool
	Description  string
	Category     string
	Merchant     string
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Client fetches transactions over HTTP with the contract timeouts
// (connect 2s, read 5s).
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a bank API client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
				ResponseHeaderTimeout: 5 * time.Second,
			},
		},
	}
}

// Transactions fetches all transactions for a user.
// Any transport, HTTP, or decode failure maps to ErrBankUnavailable and
// increments bank_fetch_failures_total.
func (c *Client) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	u := fmt.Sprintf("%s/bank/transactions?user_id=%s", c.baseURL, url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		bankFetchFailures.Inc()
		return nil, fmt.Errorf("%w: build request: %v", ErrBankUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		bankFetchFailures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrBankUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bankFetchFailures.Inc()
		return nil, fmt.Errorf("%w: status %d", ErrBankUnavailable, resp.StatusCode)
	}

	raw, err := decodeEnvelope(resp.Body)
	if err != nil {
		bankFetchFailures.Inc()
		return nil, fmt.Errorf("%w: decode response: %v", ErrBankUnavailable, err)
	}

	txns := make([]Transaction, 0, len(raw))
	for _, r := range raw {
		txns = append(txns, mapTransaction(r))
	}
	return txns, nil
}

// decodeEnvelope handles the three response shapes the bank API is known to
// produce: a bare array, {"transactions": […]}, and {"data": […]}.
func decodeEnvelope(body io.Reader) ([]map[string]json.RawMessage, error) {
	var root json.RawMessage
	if err := json.NewDecoder(body).Decode(&root); err != nil {
		return nil, err
	}

	var list []map[string]json.RawMessage
	if err := json.Unmarshal(root, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Transactions []map[string]json.RawMessage `json:"transactions"`
		Data         []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(root, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Transactions != nil {
		return wrapped.Transactions, nil
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	return nil, nil
}

// mapTransaction converts a raw bank record to the domain entity, trying
// each known alternative key in order.
func mapTransaction(raw map[string]json.RawMessage) Transaction {
	tx := Transaction{
		ID:          firstString(raw, "id", "transaction_id"),
		Type:        strings.ToLower(firstString(raw, "type", "transaction_type")),
		Description: firstString(raw, "description", "memo"),
		Category:    firstString(raw, "category"),
		Merchant:    firstString(raw, "merchant", "merchant_name"),
		NSF:         firstBool(raw, "nsf", "is_nsf"),
	}
	if tx.Type == "" {
		tx.Type = "debit"
	}

	if amt, ok := firstInt(raw, "amount_cents", "amount"); ok {
		tx.AmountCents = amt
	}
	if bal, ok := firstInt(raw, "balance_cents", "balance"); ok {
		tx.BalanceCents = &bal
	}
	tx.Date = parseDate(raw)

	return tx
}

func parseDate(raw map[string]json.RawMessage) time.Time {
	for _, key := range []string{"date", "transaction_date", "timestamp"} {
		v, ok := raw[key]
		if !ok {
			continue
		}

		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, s); err == nil {
					return Day(t)
				}
			}
			continue
		}

		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			if unix, err := n.Int64(); err == nil {
				return Day(time.Unix(unix, 0))
			}
		}
	}
	return Day(time.Now())
}

func firstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstInt(raw map[string]json.RawMessage, keys ...string) (int64, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			continue
		}
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func firstBool(raw map[string]json.RawMessage, keys ...string) bool {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			var b bool
			if err := json.Unmarshal(v, &b); err == nil && b {
				return true
			}
		}
	}
	return false
}
