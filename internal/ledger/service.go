package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/mysticorb/mysticorb-server/internal/logging"
	"github.com/mysticorb/mysticorb-server/internal/monitoring"
)

// ─────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicatePayment    = errors.New("payment already processed")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ─────────────────────────────────────────────
// ledgerService implements Service
// ─────────────────────────────────────────────

type ledgerService struct {
	db       *gorm.DB
	rdb      *redis.Client // nil disables the payment dedup fast path
	dedupTTL time.Duration
	notifier BalanceNotifier // nil disables balance pushes
}

// NewService creates a new ledger Service backed by the given DB.
// rdb and notifier are optional.
func NewService(db *gorm.DB, rdb *redis.Client, dedupTTL time.Duration, notifier BalanceNotifier) Service {
	return &ledgerService{db: db, rdb: rdb, dedupTTL: dedupTTL, notifier: notifier}
}

// GetAccount returns the user's balance account, creating one if not exists.
func (s *ledgerService) GetAccount(ctx context.Context, userID string) (*Account, error) {
	var acc Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&acc).Error
	if err == nil {
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	acc = Account{
		UserID:    userID,
		Balance:   0,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&acc).Error; err != nil {
		// Another request may have created it in the meantime
		if err2 := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&acc).Error; err2 == nil {
			return &acc, nil
		}
		return nil, err
	}
	return &acc, nil
}

// Debit removes credits if the balance covers them.
func (s *ledgerService) Debit(ctx context.Context, userID string, amount int64, reason string) (*Account, error) {
	var result *Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := s.DebitInTx(tx, userID, amount, reason)
		if err != nil {
			return err
		}
		result = acc
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			monitoring.InsufficientCreditsTotal.Inc()
		}
		return nil, err
	}

	monitoring.LedgerTransactionsTotal.WithLabelValues(string(TxDebit)).Inc()
	s.notify(userID, result.Balance, TxDebit)
	return result, nil
}

// DebitInTx performs the conditional debit inside the caller's transaction.
func (s *ledgerService) DebitInTx(tx *gorm.DB, userID string, amount int64, reason string) (*Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := getOrCreateAccountTx(tx, userID); err != nil {
		return nil, err
	}

	// Conditional decrement: the WHERE clause is the overdraft guard,
	// enforced by the database, not by a read-then-write gap.
	res := tx.Model(&Account{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientCredits
	}

	var acc Account
	if err := tx.Where("user_id = ?", userID).First(&acc).Error; err != nil {
		return nil, err
	}

	txn := Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         TxDebit,
		Amount:       -amount,
		BalanceAfter: acc.Balance,
		Description:  reason,
		CreatedAt:    time.Now(),
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, err
	}

	return &acc, nil
}

// Credit adds credits of the given type.
func (s *ledgerService) Credit(ctx context.Context, userID string, amount int64, typ TransactionType, description string) (*Account, error) {
	var result *Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := s.CreditInTx(tx, userID, amount, typ, description)
		if err != nil {
			return err
		}
		result = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.LedgerTransactionsTotal.WithLabelValues(string(typ)).Inc()
	s.notify(userID, result.Balance, typ)
	return result, nil
}

// CreditInTx appends a credit inside the caller's transaction.
func (s *ledgerService) CreditInTx(tx *gorm.DB, userID string, amount int64, typ TransactionType, description string) (*Account, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}

	acc, err := getOrCreateAccountTx(tx, userID)
	if err != nil {
		return nil, err
	}

	res := tx.Model(&Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}

	if err := tx.Where("user_id = ?", userID).First(acc).Error; err != nil {
		return nil, err
	}

	txn := Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: acc.Balance,
		Description:  description,
		CreatedAt:    time.Now(),
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, err
	}

	return acc, nil
}

// CreditPurchase credits a completed purchase exactly once.
func (s *ledgerService) CreditPurchase(ctx context.Context, ev PurchaseEvent) (*Transaction, *Account, error) {
	if ev.CreditsGranted <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if ev.PaymentID == "" {
		return nil, nil, errors.New("payment id required")
	}

	// Fast path: a previously processed payment id short-circuits before
	// touching the database. The unique index below stays authoritative;
	// Redis being down only loses the shortcut. The marker is removed
	// again if the credit does not go through, so the provider's retry
	// of a transiently failed delivery is not mistaken for a duplicate.
	markerSet := false
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, paymentDedupKey(ev.PaymentID), 1, s.dedupTTL).Result()
		if err == nil && !ok {
			monitoring.DuplicatePaymentsTotal.Inc()
			return nil, nil, ErrDuplicatePayment
		}
		if err != nil {
			logging.Sugar.Warnf("[ledger] payment dedup cache unavailable: %v", err)
		} else {
			markerSet = true
		}
	}

	var (
		txn Transaction
		acc *Account
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dup int64
		if err := tx.Model(&Transaction{}).
			Where("payment_id = ?", ev.PaymentID).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return ErrDuplicatePayment
		}

		now := time.Now()

		// Invoice sequence: 1 + completed purchases earlier this calendar
		// year. Assigned and persisted here, inside the completion write,
		// so the number can never change on later renders.
		prior, err := countCompletedPurchasesTx(tx, yearStart(now), now)
		if err != nil {
			return err
		}
		seq := int(prior) + 1
		number := FormatInvoiceNumber(now.Year(), seq)

		paymentID := ev.PaymentID
		txn = Transaction{
			ID:                 uuid.NewString(),
			UserID:             ev.UserID,
			Type:               TxPurchase,
			Amount:             ev.CreditsGranted,
			Description:        fmt.Sprintf("purchase of %d credits", ev.CreditsGranted),
			PaymentID:          &paymentID,
			PaymentProvider:    ev.PaymentProvider,
			PaymentAmountCents: ev.AmountCents,
			PaymentCurrency:    ev.Currency,
			PaymentStatus:      PaymentStatusCompleted,
			CreditsGranted:     ev.CreditsGranted,
			InvoiceSeq:         seq,
			InvoiceNumber:      &number,
			CreatedAt:          now,
		}

		a, err := getOrCreateAccountTx(tx, ev.UserID)
		if err != nil {
			return err
		}
		res := tx.Model(&Account{}).
			Where("user_id = ?", ev.UserID).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance + ?", ev.CreditsGranted),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("user_id = ?", ev.UserID).First(a).Error; err != nil {
			return err
		}
		txn.BalanceAfter = a.Balance

		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		acc = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			monitoring.DuplicatePaymentsTotal.Inc()
			return nil, nil, err
		}
		// Not applied. Drop the marker so the redelivery gets through.
		if markerSet {
			s.rdb.Del(ctx, paymentDedupKey(ev.PaymentID))
		}
		return nil, nil, err
	}

	monitoring.LedgerTransactionsTotal.WithLabelValues(string(TxPurchase)).Inc()
	logging.Sugar.Infow("[ledger] purchase credited",
		"user_id", ev.UserID,
		"payment_id", ev.PaymentID,
		"credits", ev.CreditsGranted,
		"invoice", *txn.InvoiceNumber,
	)
	s.notify(ev.UserID, acc.Balance, TxPurchase)
	return &txn, acc, nil
}

// History returns the user's ledger entries, newest first.
func (s *ledgerService) History(ctx context.Context, userID string, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var txns []Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	return txns, err
}

// SumAmounts returns the sum of all transaction amounts for the user.
func (s *ledgerService) SumAmounts(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.db.WithContext(ctx).Model(&Transaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// CountCompletedPurchases counts completed purchases created in [from, to).
func (s *ledgerService) CountCompletedPurchases(ctx context.Context, from, to time.Time) (int64, error) {
	return countCompletedPurchasesTx(s.db.WithContext(ctx), from, to)
}

// GetTransaction fetches a single ledger entry by id.
func (s *ledgerService) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var txn Transaction
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

// FormatInvoiceNumber renders the per-year invoice identifier,
// e.g. MO-2025-00042.
func FormatInvoiceNumber(year, seq int) string {
	return fmt.Sprintf("MO-%04d-%05d", year, seq)
}

func countCompletedPurchasesTx(tx *gorm.DB, from, to time.Time) (int64, error) {
	var n int64
	err := tx.Model(&Transaction{}).
		Where("type = ? AND payment_status = ? AND created_at >= ? AND created_at < ?",
			TxPurchase, PaymentStatusCompleted, from, to).
		Count(&n).Error
	return n, err
}

func yearStart(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

func paymentDedupKey(paymentID string) string {
	return "payment:processed:" + paymentID
}

func getOrCreateAccountTx(tx *gorm.DB, userID string) (*Account, error) {
	var acc Account
	err := tx.Where("user_id = ?", userID).First(&acc).Error
	if err == nil {
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	acc = Account{
		UserID:    userID,
		Balance:   0,
		UpdatedAt: time.Now(),
	}
	if err := tx.Create(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *ledgerService) notify(userID string, balance int64, typ TransactionType) {
	if s.notifier != nil {
		s.notifier.NotifyBalance(userID, balance, typ)
	}
}
