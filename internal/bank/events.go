package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// UserEvent is a lifecycle event reported by the bank aggregator, such as a
// prior cash advance. Timestamp stays a string; the consumer decides which
// formats it accepts.
type UserEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Events fetches lifecycle events for a user. Aggregators that do not expose
// an events feed return 404; that is an empty history, not a failure.
func (c *Client) Events(ctx context.Context, userID string) ([]UserEvent, error) {
	u := fmt.Sprintf("%s/bank/events?user_id=%s", c.baseURL, url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build events request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBankUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: events status %d", ErrBankUnavailable, resp.StatusCode)
	}

	return decodeEvents(resp.Body)
}

// decodeEvents accepts a bare array or an {"events": [...]} envelope.
func decodeEvents(r io.Reader) ([]UserEvent, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read events body: %w", err)
	}

	var events []UserEvent
	if err := json.Unmarshal(body, &events); err == nil {
		return events, nil
	}

	var envelope struct {
		Events []UserEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return envelope.Events, nil
}
