package auth

import (
	"context"
	"time"
)

// ─────────────────────────────────────────────
// User represents a registered MysticOrb user.
// ─────────────────────────────────────────────

type User struct {
	ID            string `json:"id" gorm:"primaryKey"`
	Email         string `json:"email" gorm:"uniqueIndex"`
	Password      string `json:"-"` // bcrypt hash, never serialised
	Nickname      string `json:"nickname"`
	EmailVerified bool   `json:"email_verified"`
	// VerifyToken is the one-shot email verification token.
	VerifyToken string `json:"-" gorm:"index"`
	// APIKey is the non-expiring key issued on registration.
	APIKey string `json:"api_key" gorm:"uniqueIndex"`
	// Status is one of: active, banned, suspended.
	Status string `json:"status" gorm:"default:active"`

	// Referral program. Each user owns a shareable code and may redeem
	// someone else's code at most once, ever.
	ReferralCode     string `json:"referral_code" gorm:"uniqueIndex"`
	ReferralRedeemed bool   `json:"referral_redeemed"`

	// Daily login bonus bookkeeping. LastLoginAt is the moment of the last
	// successful bonus claim; eligibility is calendar-day based, not a
	// rolling 24h window.
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LoginStreak int        `json:"login_streak"`

	// Cumulative activity counters fed to the achievement tracker.
	TotalReadings  int `json:"total_readings"`
	TotalQuestions int `json:"total_questions"` // lifetime follow-up questions, non-cached answers only

	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ─────────────────────────────────────────────
// UserService – the single identity interface.
//
// Supports:
//   - Email registration + login
//   - Email verification (gates the referral program)
//   - API key lookup (used by middleware)
// ─────────────────────────────────────────────

type UserService interface {
	// Register creates a new user via email + password.
	// A unique API key and referral code are generated and returned with the User.
	Register(ctx context.Context, email, password, nickname string) (*User, error)

	// Login authenticates via email + password, returns the user (incl. API key).
	Login(ctx context.Context, email, password string) (*User, error)

	// VerifyEmail consumes a one-shot verification token and marks the
	// owning user as email-verified.
	VerifyEmail(ctx context.Context, token string) (*User, error)

	// GetByAPIKey looks up a user by their API key.
	// This is the main method used by the auth middleware on every request.
	GetByAPIKey(ctx context.Context, apiKey string) (*User, error)

	// GetByID retrieves a user by their internal ID.
	GetByID(ctx context.Context, userID string) (*User, error)

	// GetByReferralCode retrieves the owner of a referral code.
	GetByReferralCode(ctx context.Context, code string) (*User, error)

	// ResetAPIKey regenerates the user's API key (invalidates old one).
	ResetAPIKey(ctx context.Context, userID string) (*User, error)

	// SetStatus sets user account status (active / banned / suspended).
	SetStatus(ctx context.Context, userID string, status string) error
}
