// Package risk scores users and selects the BNPL credit tier.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/perzequiel/gerald-gateway/internal/bank"
	"github.com/perzequiel/gerald-gateway/internal/features"
	"github.com/perzequiel/gerald-gateway/internal/utilization"
)

// Tier names. They double as credit_limit_bucket labels.
const (
	TierA    = "Tier A"
	TierB    = "Tier B"
	TierC    = "Tier C"
	TierD    = "Tier D"
	TierDeny = "Deny"
)

// Reason codes for the explainability trail.
const (
	ReasonCooldown    = "cooldown_active"
	ReasonLowBalance  = "low_balance"
	ReasonNSF         = "nsf_history"
	ReasonUtilization = "risky_utilization"
	ReasonPayback     = "negative_payback"
	ReasonTier        = "tier_selected"
)

// Reason is one structured entry in the decision explainability trail.
type Reason struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Config holds scoring weights, penalties, and the tier policy.
type Config struct {
	// Component weights, must sum to 1.
	BalanceWeight     float64
	IncomeSpendWeight float64
	NSFWeight         float64

	BalanceNegCapCents    int64
	NSFPenalty            float64
	PaybackPenalty        float64
	UtilPenaltyHighRisk   float64
	UtilPenaltyMediumRisk float64

	TierALimitCents int64
	TierBLimitCents int64
	TierCLimitCents int64
	TierDLimitCents int64
	TierAMinScore   float64
	TierBMinScore   float64
	TierCMinScore   float64

	CooldownHours int
}

// DefaultConfig returns the production risk policy.
func DefaultConfig() Config {
	return Config{
		BalanceWeight: 0.5, IncomeSpendWeight: 0.3, NSFWeight: 0.2,
		BalanceNegCapCents: 10000, NSFPenalty: 25, PaybackPenalty: 10,
		UtilPenaltyHighRisk: 15, UtilPenaltyMediumRisk: 7.5,
		TierALimitCents: 20000, TierBLimitCents: 12000,
		TierCLimitCents: 6000, TierDLimitCents: 2000,
		TierAMinScore: 75, TierBMinScore: 55, TierCMinScore: 35,
		CooldownHours: 72,
	}
}

// Assessment is the full scoring output for one decision.
type Assessment struct {
	FinalScore       float64
	BalanceScore     float64
	IncomeSpendScore float64
	NSFScore         float64
	BaseScore        float64

	Tier       string
	LimitCents int64
	Approvable bool

	Features    features.Features
	Utilization utilization.Result
	Payback     Payback
	Cooldown    Cooldown
	Reasons     []Reason
}

// Engine composes feature extraction, utilization analysis, payback, and
// cooldown into one assessment. Construct once via NewEngine and share.
type Engine struct {
	cfg      Config
	analyzer *utilization.Analyzer
	now      func() time.Time
}

// NewEngine validates the config and returns an engine.
func NewEngine(cfg Config, analyzer *utilization.Analyzer) (*Engine, error) {
	sum := cfg.BalanceWeight + cfg.IncomeSpendWeight + cfg.NSFWeight
	if math.Abs(sum-1.0) > 0.01 {
		return nil, fmt.Errorf("risk weights must sum to 1.0, got %.4f", sum)
	}
	if cfg.BalanceNegCapCents <= 0 {
		return nil, fmt.Errorf("balance negative cap must be positive, got %d", cfg.BalanceNegCapCents)
	}
	return &Engine{cfg: cfg, analyzer: analyzer, now: time.Now}, nil
}

// Evaluate scores a user's history. Empty histories return
// features.ErrEmptyTransactions; the caller decides how to surface that.
func (e *Engine) Evaluate(txns []bank.Transaction, events []Event) (Assessment, error) {
	f, err := features.Extract(txns)
	if err != nil {
		return Assessment{}, err
	}

	a := Assessment{Features: f}

	paycheck := inferPaycheck(f)
	a.Utilization = e.analyzer.Analyze(txns, paycheck)

	var avgPaycheck *float64
	if paycheck.AvgPaycheckCents > 0 {
		avgPaycheck = &paycheck.AvgPaycheckCents
	}
	var dailySpend float64
	if a.Utilization.AvgDailySpendCents != nil {
		dailySpend = *a.Utilization.AvgDailySpendCents
	}
	a.Payback = ComputePayback(f.AvgDailyBalanceCents, a.Utilization.BurnDays, dailySpend, avgPaycheck)

	a.Cooldown = ComputeCooldown(events, txns, e.cfg.CooldownHours, e.now())

	a.BalanceScore = e.balanceScore(f.AvgDailyBalanceCents)
	a.IncomeSpendScore = incomeSpendScore(f.MonthlyIncomeCents, f.MonthlySpendCents)
	a.NSFScore = e.nsfScore(f.NSFCount)

	a.BaseScore = e.cfg.BalanceWeight*a.BalanceScore +
		e.cfg.IncomeSpendWeight*a.IncomeSpendScore +
		e.cfg.NSFWeight*a.NSFScore

	a.FinalScore = clamp(a.BaseScore-e.utilPenalty(a.Utilization.Label)-e.paybackPenalty(a.Payback.Label), 0, 100)

	a.Tier, a.LimitCents = e.selectTier(&a)
	a.Approvable = a.Tier != TierDeny
	a.Reasons = e.reasons(&a)

	return a, nil
}

// inferPaycheck treats monthly income as one paycheck on a 30-day cycle.
// No income means no signal at all.
func inferPaycheck(f features.Features) utilization.PaycheckInfo {
	if f.MonthlyIncomeCents <= 0 {
		return utilization.PaycheckInfo{}
	}
	return utilization.PaycheckInfo{
		AvgPaycheckCents: f.MonthlyIncomeCents,
		PeriodDays:       30,
		Confidence:       0.8,
	}
}

// balanceScore is 100 for a non-negative average balance and decays
// linearly to 0 at the configured negative cap.
func (e *Engine) balanceScore(avgDailyBalanceCents float64) float64 {
	if avgDailyBalanceCents >= 0 {
		return 100
	}
	negCap := float64(e.cfg.BalanceNegCapCents)
	deficit := math.Min(-avgDailyBalanceCents, negCap)
	return clamp(100*(1-deficit/negCap), 0, 100)
}

func incomeSpendScore(monthlyIncomeCents, monthlySpendCents float64) float64 {
	if monthlySpendCents <= 0 {
		return 100
	}
	return clamp(100*monthlyIncomeCents/monthlySpendCents, 0, 100)
}

func (e *Engine) nsfScore(nsfCount int) float64 {
	return clamp(100-float64(nsfCount)*e.cfg.NSFPenalty, 0, 100)
}

func (e *Engine) utilPenalty(label string) float64 {
	if utilization.IsRisky(label) {
		return e.cfg.UtilPenaltyHighRisk
	}
	if label == utilization.LabelMediumRisk {
		return e.cfg.UtilPenaltyMediumRisk
	}
	return 0
}

func (e *Engine) paybackPenalty(label string) float64 {
	if label == PaybackNegative {
		return e.cfg.PaybackPenalty
	}
	return 0
}

// selectTier applies the tier policy top down; first match wins. Tier D is
// the unconditional floor so every non-cooldown user gets a trial limit.
func (e *Engine) selectTier(a *Assessment) (string, int64) {
	if a.Cooldown.InCooldown {
		return TierDeny, 0
	}

	paybackOK := a.Payback.Label == PaybackPositive || a.Payback.Label == PaybackNeutral
	// Unknown utilization is absence of evidence, not adverse evidence,
	// so it does not block the top tier.
	utilOK := a.Utilization.Label == utilization.LabelHealthy ||
		a.Utilization.Label == utilization.LabelMediumRisk ||
		a.Utilization.Label == utilization.LabelUnknown

	switch {
	case a.FinalScore >= e.cfg.TierAMinScore && utilOK && paybackOK:
		return TierA, e.cfg.TierALimitCents
	case a.FinalScore >= e.cfg.TierBMinScore && paybackOK:
		return TierB, e.cfg.TierBLimitCents
	case a.FinalScore >= e.cfg.TierCMinScore:
		return TierC, e.cfg.TierCLimitCents
	default:
		return TierD, e.cfg.TierDLimitCents
	}
}

func (e *Engine) reasons(a *Assessment) []Reason {
	var rs []Reason
	if a.Cooldown.InCooldown {
		rs = append(rs, Reason{
			Code:   ReasonCooldown,
			Detail: fmt.Sprintf("advance cooldown active, %.1fh remaining", a.Cooldown.RemainingHours),
		})
	}
	if a.Features.AvgDailyBalanceCents < 0 {
		rs = append(rs, Reason{
			Code:   ReasonLowBalance,
			Detail: fmt.Sprintf("average daily balance %.0f cents", a.Features.AvgDailyBalanceCents),
		})
	}
	if a.Features.NSFCount > 0 {
		rs = append(rs, Reason{
			Code:   ReasonNSF,
			Detail: fmt.Sprintf("%d NSF events on record", a.Features.NSFCount),
		})
	}
	if utilization.IsRisky(a.Utilization.Label) || a.Utilization.Label == utilization.LabelMediumRisk {
		rs = append(rs, Reason{
			Code:   ReasonUtilization,
			Detail: fmt.Sprintf("utilization label %s", a.Utilization.Label),
		})
	}
	if a.Payback.Label == PaybackNegative {
		rs = append(rs, Reason{
			Code:   ReasonPayback,
			Detail: fmt.Sprintf("projected capacity %.0f cents below threshold", a.Payback.CapacityCents),
		})
	}
	rs = append(rs, Reason{
		Code:   ReasonTier,
		Detail: fmt.Sprintf("%s at score %.1f", a.Tier, a.FinalScore),
	})
	return rs
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WithClock overrides the engine's clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}
