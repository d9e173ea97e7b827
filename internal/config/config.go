package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application-level settings.
type Config struct {
	// Server
	ServerAddr string
	Production bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PostgreSQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Credits
	DailyBonusCredits    int64 // credits granted per daily login bonus
	ReferralBonusCredits int64 // credits granted to both referrer and referee

	// Readings
	SpreadCostCredits   int64 // credits debited per tarot spread
	QuestionCostCredits int64 // credits debited per paid follow-up question

	// Payments
	WebhookSecret   string        // shared secret the payment provider sends in X-Webhook-Secret
	WebhookDedupTTL time.Duration // Redis fast-path TTL for processed payment ids

	// Invoice
	InvoiceIssuerName    string
	InvoiceIssuerAddress string

	// Admin Authentication
	AdminToken string // Bearer token for admin API access
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ServerAddr:           envOr("SERVER_ADDR", ":8080"),
		Production:           envBoolOr("PRODUCTION", false),
		RedisAddr:            envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        envOr("REDIS_PASSWORD", ""),
		RedisDB:              envIntOr("REDIS_DB", 0),
		DBHost:               envOr("DB_HOST", "localhost"),
		DBPort:               envOr("DB_PORT", "5432"),
		DBUser:               envOr("DB_USER", "postgres"),
		DBPassword:           envOr("DB_PASSWORD", "postgres"),
		DBName:               envOr("DB_NAME", "mysticorb"),
		DBSSLMode:            envOr("DB_SSLMODE", "disable"),
		DailyBonusCredits:    int64(envIntOr("DAILY_BONUS_CREDITS", 1)),
		ReferralBonusCredits: int64(envIntOr("REFERRAL_BONUS_CREDITS", 3)),
		SpreadCostCredits:    int64(envIntOr("SPREAD_COST_CREDITS", 1)),
		QuestionCostCredits:  int64(envIntOr("QUESTION_COST_CREDITS", 1)),
		WebhookSecret:        envOr("WEBHOOK_SECRET", ""),
		WebhookDedupTTL:      envDurationOr("WEBHOOK_DEDUP_TTL", 48*time.Hour),
		InvoiceIssuerName:    envOr("INVOICE_ISSUER_NAME", "MysticOrb"),
		InvoiceIssuerAddress: envOr("INVOICE_ISSUER_ADDRESS", ""),
		AdminToken:           envOr("ADMIN_TOKEN", ""),
	}
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
