package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ─────────────────────────────────────────────
// Credit Ledger
//
// Holds each user's spendable credit balance, debits it for paid
// actions (readings, follow-up questions) and credits it from
// purchases, daily bonuses, referrals and achievements. The balance
// is a materialized view of the transaction ledger: every mutation
// appends an immutable Transaction row in the same database
// transaction that moves the balance, so the two can never diverge.
// ─────────────────────────────────────────────

// Account is a user's credit balance row.
type Account struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"uniqueIndex"`
	Balance   int64     `json:"balance"` // spendable credits, never negative
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionType categorises ledger entries.
type TransactionType string

const (
	TxPurchase         TransactionType = "PURCHASE"          // credits bought via the payment provider
	TxDebit            TransactionType = "DEBIT"             // reading / question consumption
	TxDailyBonus       TransactionType = "DAILY_BONUS"       // daily login reward
	TxReferralBonus    TransactionType = "REFERRAL_BONUS"    // referral redemption reward
	TxAchievementBonus TransactionType = "ACHIEVEMENT_BONUS" // one-time achievement reward
)

// PaymentStatusCompleted is the only payment status this engine stores;
// purchases are credited only once the provider reports completion and
// are immutable afterwards.
const PaymentStatusCompleted = "COMPLETED"

// Transaction is an immutable ledger entry. Rows are never updated or
// deleted once written.
type Transaction struct {
	ID           string          `json:"id" gorm:"primaryKey"`
	UserID       string          `json:"user_id" gorm:"index"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"` // positive = credit, negative = debit
	BalanceAfter int64           `json:"balance_after"`
	Description  string          `json:"description,omitempty"`

	// Purchase-only fields. Pointers so non-purchase rows stay NULL and
	// the unique indexes only bite on real values.
	PaymentID          *string `json:"payment_id,omitempty" gorm:"uniqueIndex"`
	PaymentProvider    string  `json:"payment_provider,omitempty"`
	PaymentAmountCents int64   `json:"payment_amount_cents,omitempty"`
	PaymentCurrency    string  `json:"payment_currency,omitempty"`
	PaymentStatus      string  `json:"payment_status,omitempty"`
	CreditsGranted     int64   `json:"credits_granted,omitempty"`

	// Invoice number, assigned exactly once when the purchase completes.
	// The unique index turns a numbering race into a loud failure instead
	// of a silent duplicate.
	InvoiceSeq    int     `json:"invoice_seq,omitempty"`
	InvoiceNumber *string `json:"invoice_number,omitempty" gorm:"uniqueIndex"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// PurchaseEvent is the payment provider's "payment completed" webhook
// payload, already authenticated by the handler.
type PurchaseEvent struct {
	PaymentID       string `json:"payment_id"`
	PaymentProvider string `json:"payment_provider"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	UserID          string `json:"user_id"`
	CreditsGranted  int64  `json:"credits_granted"`
}

// BalanceNotifier receives balance updates after a ledger mutation
// commits. Implemented by the websocket hub; nil disables pushes.
type BalanceNotifier interface {
	NotifyBalance(userID string, balance int64, txType TransactionType)
}

// ─────────────────────────────────────────────
// Service – the single entry point for balance
// mutations. Everything else (bonus scheduler,
// referral redeemer, achievement tracker, the
// purchase webhook) goes through it.
// ─────────────────────────────────────────────

type Service interface {
	// GetAccount returns the user's current balance info.
	// Creates an account with zero balance if not exists.
	GetAccount(ctx context.Context, userID string) (*Account, error)

	// Debit atomically removes amount credits, or fails with
	// ErrInsufficientCredits leaving no trace. Two concurrent debits can
	// never both succeed against a balance that only covers one: the
	// check-then-act runs as a single conditional UPDATE in the database.
	Debit(ctx context.Context, userID string, amount int64, reason string) (*Account, error)

	// DebitInTx performs the same conditional debit inside an existing DB
	// transaction so callers can couple the charge atomically with the
	// record it pays for. The whole transaction unwinds on failure.
	DebitInTx(tx *gorm.DB, userID string, amount int64, reason string) (*Account, error)

	// Credit adds a non-negative amount of the given type. Always
	// succeeds (no upper bound).
	Credit(ctx context.Context, userID string, amount int64, typ TransactionType, description string) (*Account, error)

	// CreditInTx appends a credit inside an existing DB transaction so
	// callers can couple it atomically with their own guard updates
	// (bonus claim timestamps, referral flags, achievement unlocks).
	CreditInTx(tx *gorm.DB, userID string, amount int64, typ TransactionType, description string) (*Account, error)

	// CreditPurchase credits a completed purchase exactly once, keyed on
	// the provider's payment id, and assigns the per-year invoice number
	// in the same database transaction. Duplicate deliveries return
	// ErrDuplicatePayment without side effects.
	CreditPurchase(ctx context.Context, ev PurchaseEvent) (*Transaction, *Account, error)

	// History returns the user's ledger entries, newest first.
	History(ctx context.Context, userID string, limit, offset int) ([]Transaction, error)

	// SumAmounts returns the sum of all transaction amounts for the user.
	// Used for balance reconciliation: it must always equal the account
	// balance.
	SumAmounts(ctx context.Context, userID string) (int64, error)

	// CountCompletedPurchases counts completed purchases created in
	// [from, to). Used for invoice sequence assignment.
	CountCompletedPurchases(ctx context.Context, from, to time.Time) (int64, error)

	// GetTransaction fetches a single ledger entry by id.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
}
