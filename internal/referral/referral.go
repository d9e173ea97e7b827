package referral

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mysticorb/mysticorb-server/internal/auth"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/monitoring"
)

// ─────────────────────────────────────────────
// Referral Redemption
//
// A referee may redeem exactly one referral code, ever; a referrer
// may be credited by any number of referees. Both sides receive a
// fixed reward in the same database transaction that flips the
// referee's one-way redeemed flag, so a retried request cannot
// credit twice.
// ─────────────────────────────────────────────

var (
	ErrInvalidCode     = errors.New("referral code not found")
	ErrSelfReferral    = errors.New("cannot redeem your own referral code")
	ErrAlreadyRedeemed = errors.New("referral code already redeemed")
	ErrEmailUnverified = errors.New("email verification required")
)

// Redemption records a referrer/referee pairing. The unique index on
// the referee makes a second redemption loud even if the flag guard
// were ever bypassed.
type Redemption struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ReferrerID string    `json:"referrer_id" gorm:"index"`
	RefereeID  string    `json:"referee_id" gorm:"uniqueIndex"`
	Reward     int64     `json:"reward"`
	CreatedAt  time.Time `json:"created_at"`
}

// Result is a successful redemption outcome.
type Result struct {
	Reward     int64  `json:"reward"`
	Balance    int64  `json:"balance"` // referee's new balance
	ReferrerID string `json:"referrer_id"`
}

// Redeemer validates and performs referral redemptions.
type Redeemer struct {
	db       *gorm.DB
	ledger   ledger.Service
	notifier ledger.BalanceNotifier
	reward   int64
}

// NewRedeemer creates a referral Redeemer.
func NewRedeemer(db *gorm.DB, l ledger.Service, notifier ledger.BalanceNotifier, reward int64) *Redeemer {
	return &Redeemer{db: db, ledger: l, notifier: notifier, reward: reward}
}

// Redeem applies a referral code on behalf of the referee.
func (r *Redeemer) Redeem(ctx context.Context, refereeID, code string) (*Result, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidCode
	}

	var result Result
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var referee auth.User
		if err := tx.Where("id = ?", refereeID).First(&referee).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return auth.ErrUserNotFound
			}
			return err
		}
		if !referee.EmailVerified {
			return ErrEmailUnverified
		}
		if referee.ReferralRedeemed {
			return ErrAlreadyRedeemed
		}

		var referrer auth.User
		if err := tx.Where("referral_code = ?", code).First(&referrer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidCode
			}
			return err
		}
		if referrer.ID == refereeID {
			return ErrSelfReferral
		}

		// One-way flag flip with a conditional guard: a concurrent
		// duplicate request loses here and the whole transaction unwinds.
		res := tx.Model(&auth.User{}).
			Where("id = ? AND referral_redeemed = ?", refereeID, false).
			Updates(map[string]interface{}{
				"referral_redeemed": true,
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyRedeemed
		}

		if err := tx.Create(&Redemption{
			ReferrerID: referrer.ID,
			RefereeID:  refereeID,
			Reward:     r.reward,
			CreatedAt:  time.Now(),
		}).Error; err != nil {
			return err
		}

		if _, err := r.ledger.CreditInTx(tx, referrer.ID, r.reward, ledger.TxReferralBonus,
			"referral bonus: invited "+referee.Email); err != nil {
			return err
		}
		acc, err := r.ledger.CreditInTx(tx, refereeID, r.reward, ledger.TxReferralBonus,
			"referral bonus: code "+code)
		if err != nil {
			return err
		}

		result = Result{Reward: r.reward, Balance: acc.Balance, ReferrerID: referrer.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.LedgerTransactionsTotal.WithLabelValues(string(ledger.TxReferralBonus)).Add(2)
	if r.notifier != nil {
		r.notifier.NotifyBalance(refereeID, result.Balance, ledger.TxReferralBonus)
	}
	return &result, nil
}
