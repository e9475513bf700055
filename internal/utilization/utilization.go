// Package utilization scores how a user's spending relates to their paycheck
// cycle. Scores come from Gaussian curves centered on healthy reference
// values, so both underuse and overuse move the score down.
package utilization

import (
	"fmt"
	"math"

	"github.com/perzequiel/gerald-gateway/internal/bank"
)

// Labels ordered from best to worst. Unknown means the paycheck signal was
// too weak to analyze at all.
const (
	LabelHealthy      = "healthy"
	LabelMediumRisk   = "medium-risk"
	LabelHighRisk     = "high-risk"
	LabelVeryHighRisk = "very-high-risk"
	LabelCriticalRisk = "critical-risk"
	LabelUnknown      = "unknown"
)

// MinConfidence is the paycheck confidence below which no analysis is run.
const MinConfidence = 0.3

// PaycheckInfo describes the user's inferred pay cycle. AvgPaycheckCents or
// PeriodDays at zero or below means the value is unknown.
type PaycheckInfo struct {
	AvgPaycheckCents float64
	PeriodDays       int
	Confidence       float64
}

// Config holds the Gaussian parameters and label thresholds.
// Weights must sum to 1.
type Config struct {
	UtilMu         float64
	UtilSigmaLeft  float64
	UtilSigmaRight float64
	UtilWeight     float64

	BurnMu         float64
	BurnSigmaLeft  float64
	BurnSigmaRight float64
	BurnWeight     float64

	SpendMu     float64
	SpendSigma  float64
	SpendWeight float64

	LabelHealthy      float64
	LabelMediumRisk   float64
	LabelHighRisk     float64
	LabelVeryHighRisk float64
}

// DefaultConfig returns the production scoring parameters.
func DefaultConfig() Config {
	return Config{
		UtilMu: 0.6, UtilSigmaLeft: 0.5, UtilSigmaRight: 0.25, UtilWeight: 0.45,
		BurnMu: 30, BurnSigmaLeft: 10, BurnSigmaRight: 30, BurnWeight: 0.35,
		SpendMu: 0.033, SpendSigma: 0.02, SpendWeight: 0.20,
		LabelHealthy: 80, LabelMediumRisk: 60, LabelHighRisk: 40, LabelVeryHighRisk: 20,
	}
}

// Result carries the cycle metrics and composite score. Pointer fields are
// nil when the underlying metric could not be computed.
type Result struct {
	Utilization        *float64
	AvgDailySpendCents *float64
	BurnDays           *float64
	DailySpendRatio    *float64

	UtilizationScore float64 // [0,1]
	BurnScore        float64 // [0,1]
	SpendScore       float64 // [0,1]
	Composite        *float64 // [0,100], nil when unknown
	Label            string
}

// Analyzer computes utilization results. Construct once via NewAnalyzer.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer validates the config and returns an analyzer.
// Weight sums outside 1.0 (within 0.01) are a construction error.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	sum := cfg.UtilWeight + cfg.BurnWeight + cfg.SpendWeight
	if math.Abs(sum-1.0) > 0.01 {
		return nil, fmt.Errorf("utilization weights must sum to 1.0, got %.4f", sum)
	}
	return &Analyzer{cfg: cfg}, nil
}

// Analyze scores the most recent pay cycle, the window of PeriodDays
// calendar days ending at the last transaction day.
func (a *Analyzer) Analyze(txns []bank.Transaction, paycheck PaycheckInfo) Result {
	if paycheck.Confidence < MinConfidence || paycheck.AvgPaycheckCents <= 0 || paycheck.PeriodDays <= 0 {
		return Result{Label: LabelUnknown}
	}
	if len(txns) == 0 {
		return Result{Label: LabelUnknown}
	}

	cycleEnd := bank.Day(txns[0].Date)
	for _, tx := range txns[1:] {
		if d := bank.Day(tx.Date); d.After(cycleEnd) {
			cycleEnd = d
		}
	}
	cycleStart := cycleEnd.AddDate(0, 0, -paycheck.PeriodDays)

	var totalDebits float64
	for _, tx := range txns {
		d := bank.Day(tx.Date)
		if tx.Type == "debit" && !d.Before(cycleStart) && !d.After(cycleEnd) {
			totalDebits += float64(tx.AmountCents)
		}
	}

	if totalDebits == 0 {
		// No spending in the cycle means there is no utilization
		// behavior to judge, which is not the same as bad behavior.
		zero := 0.0
		return Result{AvgDailySpendCents: &zero, Label: LabelUnknown}
	}

	res := Result{}

	util := totalDebits / paycheck.AvgPaycheckCents
	res.Utilization = &util

	daysInCycle := paycheck.PeriodDays
	if daysInCycle < 1 {
		daysInCycle = 1
	}
	dailySpend := totalDebits / float64(daysInCycle)
	res.AvgDailySpendCents = &dailySpend

	if dailySpend > 0 {
		burn := paycheck.AvgPaycheckCents / dailySpend
		res.BurnDays = &burn
	}

	ratio := dailySpend / paycheck.AvgPaycheckCents
	res.DailySpendRatio = &ratio

	res.UtilizationScore = asymGaussian(res.Utilization, a.cfg.UtilMu, a.cfg.UtilSigmaLeft, a.cfg.UtilSigmaRight)
	res.BurnScore = asymGaussian(res.BurnDays, a.cfg.BurnMu, a.cfg.BurnSigmaLeft, a.cfg.BurnSigmaRight)
	res.SpendScore = asymGaussian(res.DailySpendRatio, a.cfg.SpendMu, a.cfg.SpendSigma, a.cfg.SpendSigma)

	composite := 100 * (a.cfg.UtilWeight*res.UtilizationScore +
		a.cfg.BurnWeight*res.BurnScore +
		a.cfg.SpendWeight*res.SpendScore)
	res.Composite = &composite
	res.Label = a.label(composite)

	return res
}

func (a *Analyzer) label(composite float64) string {
	switch {
	case composite >= a.cfg.LabelHealthy:
		return LabelHealthy
	case composite >= a.cfg.LabelMediumRisk:
		return LabelMediumRisk
	case composite >= a.cfg.LabelHighRisk:
		return LabelHighRisk
	case composite >= a.cfg.LabelVeryHighRisk:
		return LabelVeryHighRisk
	default:
		return LabelCriticalRisk
	}
}

// asymGaussian evaluates exp(-(x-mu)^2 / (2*sigma^2)) with a side-dependent
// sigma. A nil input scores 0.
func asymGaussian(x *float64, mu, sigmaLeft, sigmaRight float64) float64 {
	if x == nil {
		return 0
	}
	sigma := sigmaRight
	if *x < mu {
		sigma = sigmaLeft
	}
	if sigma <= 0 {
		return 0
	}
	d := *x - mu
	return math.Exp(-(d * d) / (2 * sigma * sigma))
}

// IsRisky reports whether a label carries the full utilization penalty.
func IsRisky(label string) bool {
	switch label {
	case LabelHighRisk, LabelVeryHighRisk, LabelCriticalRisk:
		return true
	}
	return false
}
