// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// External endpoints
	BankAPIURL       string
	LedgerWebhookURL string // ledger base URL; empty disables webhook dispatch
	LedgerModeFail   bool   // appends ?mode=fail to the ledger target URL (retry drills)

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string

	// BNPL tier limits in cents
	TierALimit int64
	TierBLimit int64
	TierCLimit int64
	TierDLimit int64

	// Minimum scores for tiers (Tier D has no minimum, it is the fallback)
	TierAMinScore float64
	TierBMinScore float64
	TierCMinScore float64

	// Risk component weights (must sum to 1.0)
	BalanceWeight     float64
	IncomeSpendWeight float64
	NSFWeight         float64

	// Risk penalties and caps
	BalanceNegCap         int64
	NSFPenalty            float64
	PaybackPenalty        float64
	UtilPenaltyHighRisk   float64
	UtilPenaltyMediumRisk float64

	// Gaussian scoring parameters (weights must sum to 1.0).
	// Utilization and burn use asymmetric widths; overspending and
	// too-short burns sit on the steeper side.
	UtilMu         float64
	UtilSigmaLeft  float64
	UtilSigmaRight float64
	UtilWeight     float64
	BurnMu         float64
	BurnSigmaLeft  float64
	BurnSigmaRight float64
	BurnWeight     float64
	SpendMu        float64
	SpendSigma     float64
	SpendWeight    float64

	// Utilization label thresholds
	LabelHealthy      float64
	LabelMediumRisk   float64
	LabelHighRisk     float64
	LabelVeryHighRisk float64

	// Cooldown between advances
	CooldownHours int

	// Webhook dispatch
	WebhookMaxAttempts int
}

// Defaults
const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultBankAPIURL = "http://localhost:8001"

	DefaultCooldownHours      = 72
	DefaultWebhookMaxAttempts = 6
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		BankAPIURL:       getEnv("BANK_API_URL", DefaultBankAPIURL),
		LedgerWebhookURL: os.Getenv("LEDGER_WEBHOOK_URL"), // Optional, disables dispatch if unset
		LedgerModeFail:   os.Getenv("LEDGER_MODE_FAIL") == "fail",
		DatabaseURL:      databaseURL(),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		TierALimit: getEnvInt64("BNPL_TIER_A_LIMIT", 20000), // $200
		TierBLimit: getEnvInt64("BNPL_TIER_B_LIMIT", 12000), // $120
		TierCLimit: getEnvInt64("BNPL_TIER_C_LIMIT", 6000),  // $60
		TierDLimit: getEnvInt64("BNPL_TIER_D_LIMIT", 2000),  // $20

		TierAMinScore: getEnvFloat("BNPL_TIER_A_MIN_SCORE", 75.0),
		TierBMinScore: getEnvFloat("BNPL_TIER_B_MIN_SCORE", 55.0),
		TierCMinScore: getEnvFloat("BNPL_TIER_C_MIN_SCORE", 35.0),

		BalanceWeight:     getEnvFloat("RISK_BALANCE_WEIGHT", 0.5),
		IncomeSpendWeight: getEnvFloat("RISK_INCOME_SPEND_WEIGHT", 0.3),
		NSFWeight:         getEnvFloat("RISK_NSF_WEIGHT", 0.2),

		BalanceNegCap:         getEnvInt64("RISK_BALANCE_NEG_CAP", 10000),
		NSFPenalty:            getEnvFloat("RISK_NSF_PENALTY", 25.0),
		PaybackPenalty:        getEnvFloat("RISK_PAYBACK_PENALTY", 10.0),
		UtilPenaltyHighRisk:   getEnvFloat("UTIL_PENALTY_HIGH_RISK", 15.0),
		UtilPenaltyMediumRisk: getEnvFloat("UTIL_PENALTY_MEDIUM_RISK", 7.5),

		// UTIL_SIGMA / BURN_SIGMA set both sides symmetrically; the
		// _LEFT / _RIGHT variants override a single side.
		UtilMu:         getEnvFloat("UTIL_MU", 0.6),
		UtilSigmaLeft:  getEnvFloat("UTIL_SIGMA_LEFT", getEnvFloat("UTIL_SIGMA", 0.5)),
		UtilSigmaRight: getEnvFloat("UTIL_SIGMA_RIGHT", getEnvFloat("UTIL_SIGMA", 0.25)),
		UtilWeight:     getEnvFloat("UTIL_WEIGHT", 0.45),
		BurnMu:         getEnvFloat("BURN_MU", 30.0),
		BurnSigmaLeft:  getEnvFloat("BURN_SIGMA_LEFT", getEnvFloat("BURN_SIGMA", 10.0)),
		BurnSigmaRight: getEnvFloat("BURN_SIGMA_RIGHT", getEnvFloat("BURN_SIGMA", 30.0)),
		BurnWeight:     getEnvFloat("BURN_WEIGHT", 0.35),
		SpendMu:        getEnvFloat("SPEND_MU", 0.033),
		SpendSigma:     getEnvFloat("SPEND_SIGMA", 0.02),
		SpendWeight:    getEnvFloat("SPEND_WEIGHT", 0.20),

		LabelHealthy:      getEnvFloat("LABEL_HEALTHY", 80),
		LabelMediumRisk:   getEnvFloat("LABEL_MEDIUM_RISK", 60),
		LabelHighRisk:     getEnvFloat("LABEL_HIGH_RISK", 40),
		LabelVeryHighRisk: getEnvFloat("LABEL_VERY_HIGH_RISK", 20),

		CooldownHours:      int(getEnvInt64("COOLDOWN_HOURS", DefaultCooldownHours)),
		WebhookMaxAttempts: int(getEnvInt64("WEBHOOK_MAX_ATTEMPTS", DefaultWebhookMaxAttempts)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// databaseURL returns DATABASE_URL when set, otherwise assembles a DSN from
// the discrete DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME variables.
func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	name := getEnv("DB_NAME", "gerald")
	u := &url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + port,
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	if pw := os.Getenv("DB_PASSWORD"); pw != "" {
		u.User = url.UserPassword(user, pw)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// Validate checks configuration consistency. Weight-sum failures are fatal
// at start-up: a misconfigured scoring engine must never take decisions.
func (c *Config) Validate() error {
	if err := weightsSumToOne("risk weights", c.BalanceWeight, c.IncomeSpendWeight, c.NSFWeight); err != nil {
		return err
	}
	if err := weightsSumToOne("gaussian weights", c.UtilWeight, c.BurnWeight, c.SpendWeight); err != nil {
		return err
	}
	if c.BankAPIURL == "" {
		return fmt.Errorf("BANK_API_URL is required")
	}
	if c.BalanceNegCap <= 0 {
		return fmt.Errorf("RISK_BALANCE_NEG_CAP must be positive, got %d", c.BalanceNegCap)
	}
	if c.CooldownHours < 0 {
		return fmt.Errorf("COOLDOWN_HOURS must not be negative, got %d", c.CooldownHours)
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1, got %d", c.WebhookMaxAttempts)
	}
	return nil
}

func weightsSumToOne(name string, weights ...float64) error {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("%s must sum to 1.0, got %.4f", name, sum)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
