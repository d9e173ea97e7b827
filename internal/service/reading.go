package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mysticorb/mysticorb-server/internal/achievement"
	"github.com/mysticorb/mysticorb-server/internal/auth"
	"github.com/mysticorb/mysticorb-server/internal/config"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/logging"
	"github.com/mysticorb/mysticorb-server/internal/monitoring"
	"github.com/mysticorb/mysticorb-server/internal/pricing"
)

// Service errors
var (
	ErrUnknownSpread   = errors.New("unknown spread type")
	ErrReadingNotFound = errors.New("reading not found")
)

// SpreadTypes are the spread layouts the product offers. The explorer
// achievement unlocks once a user has tried all of them.
var SpreadTypes = []string{"single", "three_card", "celtic_cross", "horseshoe", "zodiac"}

// Reading is one tarot reading session. QuestionCount doubles as the
// next follow-up question's session index.
type Reading struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	UserID        string    `json:"user_id" gorm:"index"`
	SpreadType    string    `json:"spread_type"`
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// SpreadUse records that a user has tried a spread type, once each.
type SpreadUse struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"user_id" gorm:"uniqueIndex:idx_user_spread"`
	SpreadType string    `json:"spread_type" gorm:"uniqueIndex:idx_user_spread"`
	CreatedAt  time.Time `json:"created_at"`
}

// ContentProvider produces the actual reading/answer content. The
// content catalog and AI pipeline live outside this engine; only the
// cached flag matters here, because cached answers do not advance the
// lifetime question counter.
type ContentProvider interface {
	Answer(ctx context.Context, readingID, question string) (answer string, cached bool, err error)
}

// EchoProvider is the development stand-in for the external content
// engine. Never cached.
type EchoProvider struct{}

func (EchoProvider) Answer(_ context.Context, _, question string) (string, bool, error) {
	return "The cards are silent on: " + question, false, nil
}

// ReadingService orchestrates the paid reading flow:
//
//	debit + record reading in one transaction → bump counters →
//	evaluate achievements
type ReadingService struct {
	db       *gorm.DB
	ledger   ledger.Service
	tracker  *achievement.Tracker
	content  ContentProvider
	notifier ledger.BalanceNotifier
	cfg      *config.Config
}

// NewReadingService creates the service. notifier may be nil.
func NewReadingService(db *gorm.DB, l ledger.Service, tracker *achievement.Tracker, content ContentProvider, notifier ledger.BalanceNotifier, cfg *config.Config) *ReadingService {
	return &ReadingService{db: db, ledger: l, tracker: tracker, content: content, notifier: notifier, cfg: cfg}
}

// ReadingResult is the outcome of starting a reading.
type ReadingResult struct {
	Reading  *Reading                  `json:"reading"`
	Cost     int64                     `json:"cost"`
	Balance  int64                     `json:"balance"`
	Unlocked []achievement.Achievement `json:"unlocked,omitempty"`
}

// StartReading debits the spread cost and opens a reading session.
// The charge and the reading record are one database transaction: a
// failure to record unwinds the debit too.
// userID is injected by the API key middleware (not from the request body).
func (s *ReadingService) StartReading(ctx context.Context, userID, spreadType string) (*ReadingResult, error) {
	if !validSpread(spreadType) {
		return nil, ErrUnknownSpread
	}

	reading := &Reading{
		ID:         uuid.NewString(),
		UserID:     userID,
		SpreadType: spreadType,
		CreatedAt:  time.Now(),
	}
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := s.ledger.DebitInTx(tx, userID, s.cfg.SpreadCostCredits, "tarot reading: "+spreadType)
		if err != nil {
			return err
		}
		balance = acc.Balance

		if err := tx.Create(reading).Error; err != nil {
			return err
		}

		// First use of this spread type only; replays are expected.
		var n int64
		if err := tx.Model(&SpreadUse{}).
			Where("user_id = ? AND spread_type = ?", userID, spreadType).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			if err := tx.Create(&SpreadUse{
				UserID:     userID,
				SpreadType: spreadType,
				CreatedAt:  time.Now(),
			}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&auth.User{}).
			Where("id = ?", userID).
			Update("total_readings", gorm.Expr("total_readings + 1")).Error
	})
	if err != nil {
		return nil, err
	}

	monitoring.LedgerTransactionsTotal.WithLabelValues(string(ledger.TxDebit)).Inc()
	if s.notifier != nil {
		s.notifier.NotifyBalance(userID, balance, ledger.TxDebit)
	}

	unlocked := s.evaluateAchievements(ctx, userID)
	return &ReadingResult{
		Reading:  reading,
		Cost:     s.cfg.SpreadCostCredits,
		Balance:  balance,
		Unlocked: unlocked,
	}, nil
}

// QuestionResult is the outcome of a follow-up question.
type QuestionResult struct {
	Answer   string                    `json:"answer"`
	Cached   bool                      `json:"cached"`
	Cost     int64                     `json:"cost"`
	Balance  int64                     `json:"balance"`
	Unlocked []achievement.Achievement `json:"unlocked,omitempty"`
}

// AskQuestion prices, charges and answers a follow-up question in a
// reading session. The first session question is free; every 5th
// lifetime question is free; cached answers do not advance the
// lifetime counter.
func (s *ReadingService) AskQuestion(ctx context.Context, userID, readingID, question string) (*QuestionResult, error) {
	var reading Reading
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", readingID, userID).
		First(&reading).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReadingNotFound
		}
		return nil, err
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	cost := int64(pricing.QuestionCost(reading.QuestionCount, user.TotalQuestions)) * s.cfg.QuestionCostCredits

	// Ask the content engine before touching the balance: a provider
	// failure must not leave the user charged for an answer they never
	// received.
	answer, cached, err := s.content.Answer(ctx, readingID, question)
	if err != nil {
		logging.Sugar.Errorw("[reading] content provider failed",
			"user_id", userID, "reading_id", readingID, "err", err)
		return nil, err
	}

	var balance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cost > 0 {
			acc, err := s.ledger.DebitInTx(tx, userID, cost, "follow-up question")
			if err != nil {
				return err
			}
			balance = acc.Balance
		}

		if err := tx.Model(&Reading{}).
			Where("id = ?", readingID).
			Update("question_count", gorm.Expr("question_count + 1")).Error; err != nil {
			return err
		}
		if !cached {
			return tx.Model(&auth.User{}).
				Where("id = ?", userID).
				Update("total_questions", gorm.Expr("total_questions + 1")).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cost > 0 {
		monitoring.LedgerTransactionsTotal.WithLabelValues(string(ledger.TxDebit)).Inc()
		if s.notifier != nil {
			s.notifier.NotifyBalance(userID, balance, ledger.TxDebit)
		}
	} else if acc, err := s.ledger.GetAccount(ctx, userID); err == nil {
		balance = acc.Balance
	}

	unlocked := s.evaluateAchievements(ctx, userID)
	return &QuestionResult{
		Answer:   answer,
		Cached:   cached,
		Cost:     cost,
		Balance:  balance,
		Unlocked: unlocked,
	}, nil
}

// CountersFor builds the achievement counter snapshot for a user.
func (s *ReadingService) CountersFor(ctx context.Context, userID string) (achievement.Counters, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return achievement.Counters{}, err
	}

	var spreads int64
	if err := s.db.WithContext(ctx).Model(&SpreadUse{}).
		Where("user_id = ?", userID).
		Count(&spreads).Error; err != nil {
		return achievement.Counters{}, err
	}

	return achievement.Counters{
		TotalReadings:   user.TotalReadings,
		TotalQuestions:  user.TotalQuestions,
		SpreadTypesUsed: int(spreads),
		LoginStreak:     user.LoginStreak,
	}, nil
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func (s *ReadingService) evaluateAchievements(ctx context.Context, userID string) []achievement.Achievement {
	counters, err := s.CountersFor(ctx, userID)
	if err != nil {
		logging.Sugar.Warnf("[reading] counters unavailable for %s: %v", userID, err)
		return nil
	}
	unlocked, err := s.tracker.Evaluate(ctx, userID, counters)
	if err != nil {
		logging.Sugar.Warnf("[reading] achievement evaluation failed for %s: %v", userID, err)
	}
	return unlocked
}

func (s *ReadingService) getUser(ctx context.Context, userID string) (*auth.User, error) {
	var user auth.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func validSpread(spreadType string) bool {
	for _, s := range SpreadTypes {
		if s == spreadType {
			return true
		}
	}
	return false
}
