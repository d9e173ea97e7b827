package achievement

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/logging"
	"github.com/mysticorb/mysticorb-server/internal/monitoring"
)

// ─────────────────────────────────────────────
// Achievements
//
// A static catalog of unlock predicates evaluated against cumulative
// activity counters after every activity event. Each unlock is a
// one-time transition: the unlock row and the reward credit are
// written in one database transaction, and re-evaluating an unlocked
// achievement is a no-op.
// ─────────────────────────────────────────────

// Counters is the cumulative activity snapshot predicates run against.
type Counters struct {
	TotalReadings   int
	TotalQuestions  int
	SpreadTypesUsed int // distinct spread types ever used
	LoginStreak     int // consecutive daily bonus claims
}

// Achievement is a static catalog entry.
type Achievement struct {
	ID       string              `json:"id"`
	Title    string              `json:"title"`
	Reward   int64               `json:"reward"`
	Unlocked func(Counters) bool `json:"-"`
}

// SpreadTypeCount is the number of spread types the product offers;
// the explorer achievement unlocks once all of them have been used.
const SpreadTypeCount = 5

// Catalog is the full achievement list. Order is presentation order.
var Catalog = []Achievement{
	{ID: "first_reading", Title: "First Steps", Reward: 1,
		Unlocked: func(c Counters) bool { return c.TotalReadings >= 1 }},
	{ID: "seeker", Title: "Seeker", Reward: 2,
		Unlocked: func(c Counters) bool { return c.TotalReadings >= 10 }},
	{ID: "devoted", Title: "Devoted", Reward: 5,
		Unlocked: func(c Counters) bool { return c.TotalReadings >= 50 }},
	{ID: "explorer", Title: "Explorer", Reward: 3,
		Unlocked: func(c Counters) bool { return c.SpreadTypesUsed >= SpreadTypeCount }},
	{ID: "curious", Title: "Curious Mind", Reward: 2,
		Unlocked: func(c Counters) bool { return c.TotalQuestions >= 25 }},
	{ID: "weekly_streak", Title: "Seven Suns", Reward: 3,
		Unlocked: func(c Counters) bool { return c.LoginStreak >= 7 }},
}

// Unlock is a user's earned achievement.
type Unlock struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UserID        string    `json:"user_id" gorm:"uniqueIndex:idx_user_achievement"`
	AchievementID string    `json:"achievement_id" gorm:"uniqueIndex:idx_user_achievement"`
	CreatedAt     time.Time `json:"created_at"`
}

// Tracker evaluates unlock conditions and credits rewards.
type Tracker struct {
	db       *gorm.DB
	ledger   ledger.Service
	notifier ledger.BalanceNotifier
}

// NewTracker creates an achievement Tracker.
func NewTracker(db *gorm.DB, l ledger.Service, notifier ledger.BalanceNotifier) *Tracker {
	return &Tracker{db: db, ledger: l, notifier: notifier}
}

// Unlocked returns the ids of the user's earned achievements.
func (t *Tracker) Unlocked(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := t.db.WithContext(ctx).Model(&Unlock{}).
		Where("user_id = ?", userID).
		Order("created_at").
		Pluck("achievement_id", &ids).Error
	return ids, err
}

// Evaluate tests every locked achievement against the counters and,
// for each predicate that newly holds, unlocks it and credits the
// reward — atomically per achievement. Returns the newly unlocked
// entries. Idempotent: already-unlocked achievements are skipped.
func (t *Tracker) Evaluate(ctx context.Context, userID string, counters Counters) ([]Achievement, error) {
	unlockedIDs, err := t.Unlocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlocked := make(map[string]bool, len(unlockedIDs))
	for _, id := range unlockedIDs {
		unlocked[id] = true
	}

	var newly []Achievement
	for _, a := range Catalog {
		if unlocked[a.ID] || !a.Unlocked(counters) {
			continue
		}

		won := false
		err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Re-check inside the transaction: a concurrent evaluation may
			// have unlocked it since the read above. The composite unique
			// index backs this up.
			var n int64
			if err := tx.Model(&Unlock{}).
				Where("user_id = ? AND achievement_id = ?", userID, a.ID).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return nil
			}

			if err := tx.Create(&Unlock{
				UserID:        userID,
				AchievementID: a.ID,
				CreatedAt:     time.Now(),
			}).Error; err != nil {
				return err
			}
			if _, err := t.ledger.CreditInTx(tx, userID, a.Reward, ledger.TxAchievementBonus,
				"achievement unlocked: "+a.Title); err != nil {
				return err
			}

			won = true
			return nil
		})
		if err != nil {
			return newly, err
		}
		if !won {
			continue
		}

		monitoring.LedgerTransactionsTotal.WithLabelValues(string(ledger.TxAchievementBonus)).Inc()
		logging.Sugar.Infow("[achievement] unlocked", "user_id", userID, "achievement", a.ID)
		newly = append(newly, a)
	}

	if len(newly) > 0 && t.notifier != nil {
		if acc, err := t.ledger.GetAccount(ctx, userID); err == nil {
			t.notifier.NotifyBalance(userID, acc.Balance, ledger.TxAchievementBonus)
		}
	}
	return newly, nil
}
