package risk

import (
	"math"
	"strings"
	"time"

	"github.com/perzequiel/gerald-gateway/internal/bank"
)

// advanceEventTypes are the user-event types that mark a disbursement.
var advanceEventTypes = map[string]bool{
	"advance_taken": true,
	"cash_advance":  true,
	"disbursement":  true,
}

// advanceDescriptionHints mark a credit transaction as a disbursement when
// no explicit event exists.
var advanceDescriptionHints = []string{"advance", "gerald", "disbursement"}

// Event is a user lifecycle event from the events source. Timestamp is the
// raw ISO-8601 string; unparsable timestamps are skipped.
type Event struct {
	Type      string
	Timestamp string
}

// Cooldown is the result of the advance cooldown check.
type Cooldown struct {
	InCooldown     bool
	RemainingHours float64
	LastAdvanceAt  *time.Time
}

// ComputeCooldown finds the most recent advance and checks it against the
// cooldown window. Events are authoritative; transactions are only scanned
// when no advance event exists.
func ComputeCooldown(events []Event, txns []bank.Transaction, cooldownHours int, now time.Time) Cooldown {
	last := lastAdvanceFromEvents(events)
	if last == nil {
		last = lastAdvanceFromTransactions(txns)
	}
	if last == nil {
		return Cooldown{}
	}

	elapsed := now.UTC().Sub(*last).Hours()
	if elapsed >= float64(cooldownHours) {
		return Cooldown{LastAdvanceAt: last}
	}

	remaining := float64(cooldownHours) - elapsed
	return Cooldown{
		InCooldown:     true,
		RemainingHours: math.Round(remaining*10) / 10,
		LastAdvanceAt:  last,
	}
}

func lastAdvanceFromEvents(events []Event) *time.Time {
	var last *time.Time
	for _, ev := range events {
		if !advanceEventTypes[strings.ToLower(ev.Type)] {
			continue
		}
		ts, err := parseEventTime(ev.Timestamp)
		if err != nil {
			continue
		}
		if last == nil || ts.After(*last) {
			t := ts
			last = &t
		}
	}
	return last
}

func lastAdvanceFromTransactions(txns []bank.Transaction) *time.Time {
	var last *time.Time
	for _, tx := range txns {
		if tx.Type != "credit" || !looksLikeAdvance(tx) {
			continue
		}
		if last == nil || tx.Date.After(*last) {
			t := tx.Date
			last = &t
		}
	}
	return last
}

func looksLikeAdvance(tx bank.Transaction) bool {
	if strings.EqualFold(tx.Category, "cash_advance") {
		return true
	}
	desc := strings.ToLower(tx.Description)
	for _, hint := range advanceDescriptionHints {
		if strings.Contains(desc, hint) {
			return true
		}
	}
	return false
}

func parseEventTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	_, err := time.Parse(time.RFC3339, s)
	return time.Time{}, err
}
