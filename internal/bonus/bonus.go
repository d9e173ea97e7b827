package bonus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/mysticorb/mysticorb-server/internal/auth"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/logging"
	"github.com/mysticorb/mysticorb-server/internal/monitoring"
)

// ─────────────────────────────────────────────
// Daily Login Bonus
//
// One claim per calendar day per user, keyed to local midnight
// boundaries rather than a rolling 24h window: 23:59 and 00:01 the
// next day are two different days, two logins 20 hours apart on the
// same day are one. The eligibility check and the credit run as a
// single database transaction so two simultaneous claims (two open
// tabs) cannot both credit.
// ─────────────────────────────────────────────

var ErrAlreadyClaimedToday = errors.New("bonus already claimed today")

// Result is a successful claim outcome.
type Result struct {
	Reward  int64 `json:"reward"`
	Balance int64 `json:"balance"`
	Streak  int   `json:"streak"`
}

// Scheduler decides and performs daily bonus claims.
type Scheduler struct {
	db       *gorm.DB
	rdb      *redis.Client // nil disables the claimed-today fast path
	ledger   ledger.Service
	notifier ledger.BalanceNotifier
	reward   int64
	now      func() time.Time // injectable clock for tests
}

// NewScheduler creates a daily bonus Scheduler.
func NewScheduler(db *gorm.DB, rdb *redis.Client, l ledger.Service, notifier ledger.BalanceNotifier, reward int64) *Scheduler {
	return &Scheduler{db: db, rdb: rdb, ledger: l, notifier: notifier, reward: reward, now: time.Now}
}

// SetClock overrides the scheduler's clock. Tests only.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Eligible reports whether the user can claim a bonus at the given time.
func (s *Scheduler) Eligible(user *auth.User, now time.Time) bool {
	if user.LastLoginAt == nil {
		return true
	}
	return !sameCalendarDay(*user.LastLoginAt, now)
}

// Claim credits the daily bonus if not yet claimed today.
// Idempotent per calendar day: the second attempt returns
// ErrAlreadyClaimedToday without crediting.
func (s *Scheduler) Claim(ctx context.Context, userID string) (*Result, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Fast path. The conditional UPDATE below stays authoritative; the
	// marker is removed again if the claim does not go through.
	markerSet := false
	if s.rdb != nil {
		key := claimedKey(userID, now)
		ok, err := s.rdb.SetNX(ctx, key, 1, time.Until(dayStart.AddDate(0, 0, 1))).Result()
		if err == nil && !ok {
			return nil, ErrAlreadyClaimedToday
		}
		if err != nil {
			logging.Sugar.Warnf("[bonus] claim cache unavailable: %v", err)
		} else {
			markerSet = true
		}
	}

	var result Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user auth.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return auth.ErrUserNotFound
			}
			return err
		}

		// Streak continues only when the previous claim was yesterday.
		streak := 1
		if user.LastLoginAt != nil {
			yesterday := dayStart.AddDate(0, 0, -1)
			if !user.LastLoginAt.Before(yesterday) && user.LastLoginAt.Before(dayStart) {
				streak = user.LoginStreak + 1
			}
		}

		// Calendar-day guard enforced by the database. Zero rows means a
		// concurrent claim (or an earlier one today) already won.
		res := tx.Model(&auth.User{}).
			Where("id = ? AND (last_login_at IS NULL OR last_login_at < ?)", userID, dayStart).
			Updates(map[string]interface{}{
				"last_login_at": now,
				"login_streak":  streak,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyClaimedToday
		}

		acc, err := s.ledger.CreditInTx(tx, userID, s.reward, ledger.TxDailyBonus, "daily login bonus")
		if err != nil {
			return err
		}

		result = Result{Reward: s.reward, Balance: acc.Balance, Streak: streak}
		return nil
	})
	if err != nil {
		// Let the user retry today if the claim itself failed.
		if markerSet && !errors.Is(err, ErrAlreadyClaimedToday) {
			s.rdb.Del(ctx, claimedKey(userID, now))
		}
		return nil, err
	}

	monitoring.LedgerTransactionsTotal.WithLabelValues(string(ledger.TxDailyBonus)).Inc()
	if s.notifier != nil {
		s.notifier.NotifyBalance(userID, result.Balance, ledger.TxDailyBonus)
	}
	return &result, nil
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func sameCalendarDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func claimedKey(userID string, now time.Time) string {
	return fmt.Sprintf("bonus:claimed:%s:%s", userID, now.Format("2006-01-02"))
}
