// Package features derives financial signals from raw bank transactions.
package features

import (
	"errors"
	"sort"
	"time"

	"github.com/perzequiel/gerald-gateway/internal/bank"
)

// ErrEmptyTransactions indicates there is no transaction history to score.
var ErrEmptyTransactions = errors.New("no transactions to extract features from")

// Features are the extracted signals consumed by the risk engine.
type Features struct {
	AvgDailyBalanceCents float64
	MonthlyIncomeCents   float64
	MonthlySpendCents    float64
	NSFCount             int
}

// Extract computes features over the full transaction history.
//
// Balances use a carry-forward model: each calendar day in the inclusive
// range takes the first balance reported that day, and days without a
// reported balance inherit the previous day's value (starting from 0).
func Extract(txns []bank.Transaction) (Features, error) {
	if len(txns) == 0 {
		return Features{}, ErrEmptyTransactions
	}

	sorted := make([]bank.Transaction, len(txns))
	copy(sorted, txns)
	// Stable keeps within-day input order, which fixes which balance
	// counts as first-of-day.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	first := sorted[0].Date
	last := sorted[len(sorted)-1].Date

	f := Features{
		AvgDailyBalanceCents: avgDailyBalance(sorted, first, last),
	}

	var totalIncome, totalSpend float64
	for _, tx := range sorted {
		switch tx.Type {
		case "credit":
			totalIncome += float64(tx.AmountCents)
		case "debit":
			totalSpend += float64(tx.AmountCents)
		}
		if isNSF(tx) {
			f.NSFCount++
		}
	}

	// Inclusive day count: a Jan 1..Jan 31 history spans 31 days.
	periodDays := int(last.Sub(first).Hours()/24) + 1
	months := float64(periodDays) / 30.0
	if months < 1.0/30.0 {
		months = 1.0 / 30.0
	}
	f.MonthlyIncomeCents = totalIncome / months
	f.MonthlySpendCents = totalSpend / months

	return f, nil
}

// avgDailyBalance averages the first-of-day balance over every calendar day
// in [first, last], carrying the last known balance across gap days.
func avgDailyBalance(sorted []bank.Transaction, first, last time.Time) float64 {
	firstOfDay := make(map[time.Time]int64)
	for _, tx := range sorted {
		if tx.BalanceCents == nil {
			continue
		}
		if _, seen := firstOfDay[tx.Date]; !seen {
			firstOfDay[tx.Date] = *tx.BalanceCents
		}
	}

	var sum float64
	var days int
	var carry int64
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if bal, ok := firstOfDay[d]; ok {
			carry = bal
		}
		sum += float64(carry)
		days++
	}
	return sum / float64(days)
}

// isNSF reports whether a transaction counts as a non-sufficient-funds
// event. A flagged transaction that also overdraws contributes once.
func isNSF(tx bank.Transaction) bool {
	if tx.NSF {
		return true
	}
	return tx.Type == "debit" && tx.BalanceCents != nil && *tx.BalanceCents < 0
}
