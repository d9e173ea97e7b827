package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupService(t *testing.T) Service {
	t.Helper()
	// Per-test in-memory database to avoid cross-test interference
	return NewService(setupDB(t), nil, time.Hour, nil)
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Account{}, &Transaction{}))
	return db
}

func TestGetAccountCreatesZeroBalance(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), acc.Balance)

	// Stable on repeat calls
	again, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, acc.ID, again.ID)
}

func TestDebitInsufficientCreditsLeavesNoTrace(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Debit(ctx, "u1", 1, "reading")
	require.ErrorIs(t, err, ErrInsufficientCredits)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), acc.Balance)

	txns, err := svc.History(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Empty(t, txns)
}

func TestDebitExactBalanceOnlyOnce(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 5, TxPurchase, "test credits")
	require.NoError(t, err)

	acc, err := svc.Debit(ctx, "u1", 5, "reading")
	require.NoError(t, err)
	require.Equal(t, int64(0), acc.Balance)

	// A replay of the same debit must fail: the balance is spent.
	_, err = svc.Debit(ctx, "u1", 5, "reading")
	require.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestBalanceEqualsLedgerSum(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 10, TxPurchase, "credits")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "u1", 3, TxReferralBonus, "referral")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "u1", 4, "reading")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "u1", 1, "question")
	require.NoError(t, err)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)

	sum, err := svc.SumAmounts(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, acc.Balance, sum)
	require.Equal(t, int64(8), acc.Balance)
}

func TestHistoryRecordsBalanceAfter(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 10, TxPurchase, "credits")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "u1", 4, "reading")
	require.NoError(t, err)

	txns, err := svc.History(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	// Newest first
	require.Equal(t, TxDebit, txns[0].Type)
	require.Equal(t, int64(-4), txns[0].Amount)
	require.Equal(t, int64(6), txns[0].BalanceAfter)
	require.Equal(t, TxPurchase, txns[1].Type)
	require.Equal(t, int64(10), txns[1].Amount)
}

func TestCreditPurchaseDuplicatePaymentID(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	ev := PurchaseEvent{
		PaymentID:       "pay_123",
		PaymentProvider: "stripe",
		AmountCents:     999,
		Currency:        "EUR",
		UserID:          "u1",
		CreditsGranted:  10,
	}

	txn, acc, err := svc.CreditPurchase(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, int64(10), acc.Balance)
	require.NotNil(t, txn.InvoiceNumber)

	// Redelivered webhook: acknowledged but not credited.
	_, _, err = svc.CreditPurchase(ctx, ev)
	require.ErrorIs(t, err, ErrDuplicatePayment)

	acc, err = svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(10), acc.Balance)

	txns, err := svc.History(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
}

func TestInvoiceNumbersGaplessPerYear(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	year := time.Now().Year()

	for i := 1; i <= 3; i++ {
		txn, _, err := svc.CreditPurchase(ctx, PurchaseEvent{
			PaymentID:       fmt.Sprintf("pay_%d", i),
			PaymentProvider: "stripe",
			AmountCents:     500,
			Currency:        "EUR",
			UserID:          "u1",
			CreditsGranted:  5,
		})
		require.NoError(t, err)
		require.Equal(t, i, txn.InvoiceSeq)
		require.Equal(t, FormatInvoiceNumber(year, i), *txn.InvoiceNumber)
	}

	// A failed duplicate must not consume a sequence number.
	_, _, err := svc.CreditPurchase(ctx, PurchaseEvent{
		PaymentID:       "pay_1",
		PaymentProvider: "stripe",
		AmountCents:     500,
		Currency:        "EUR",
		UserID:          "u1",
		CreditsGranted:  5,
	})
	require.ErrorIs(t, err, ErrDuplicatePayment)

	txn, _, err := svc.CreditPurchase(ctx, PurchaseEvent{
		PaymentID:       "pay_4",
		PaymentProvider: "stripe",
		AmountCents:     500,
		Currency:        "EUR",
		UserID:          "u2",
		CreditsGranted:  5,
	})
	require.NoError(t, err)
	require.Equal(t, 4, txn.InvoiceSeq)
}

func TestFormatInvoiceNumber(t *testing.T) {
	require.Equal(t, "MO-2026-00001", FormatInvoiceNumber(2026, 1))
	require.Equal(t, "MO-2026-00042", FormatInvoiceNumber(2026, 42))
	require.Equal(t, "MO-2026-12345", FormatInvoiceNumber(2026, 12345))
}

func TestGetTransactionNotFound(t *testing.T) {
	svc := setupService(t)

	_, err := svc.GetTransaction(context.Background(), "nope")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestConcurrentDebitsSingleWinner(t *testing.T) {
	db := setupDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	svc := NewService(db, nil, time.Hour, nil)
	ctx := context.Background()

	_, err = svc.Credit(ctx, "u1", 5, TxPurchase, "credits")
	require.NoError(t, err)

	// Eight racers, a balance that covers exactly one of them. The
	// conditional UPDATE decides the winner, not any in-process lock.
	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, "u1", 5, "reading")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrInsufficientCredits)
		}
	}
	require.Equal(t, 1, wins)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), acc.Balance)

	sum, err := svc.SumAmounts(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, acc.Balance, sum)

	txns, err := svc.History(ctx, "u1", 20, 0)
	require.NoError(t, err)
	require.Len(t, txns, 2) // the credit and the single winning debit
}

func TestRedeliveryAfterFailedPurchaseCredits(t *testing.T) {
	db := setupDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(db, rdb, time.Hour, nil)
	ctx := context.Background()

	ev := PurchaseEvent{
		PaymentID:       "pay_1",
		PaymentProvider: "stripe",
		AmountCents:     999,
		Currency:        "EUR",
		UserID:          "u1",
		CreditsGranted:  10,
	}

	// Database outage mid-delivery: the fast-path marker is already
	// set, the transaction fails.
	require.NoError(t, db.Migrator().DropTable(&Transaction{}))
	_, _, err := svc.CreditPurchase(ctx, ev)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicatePayment)

	// Outage over; the provider redelivers the same event. It must
	// credit, not be swallowed as a duplicate by the stale marker.
	require.NoError(t, db.AutoMigrate(&Transaction{}))
	txn, acc, err := svc.CreditPurchase(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, int64(10), acc.Balance)
	require.NotNil(t, txn.InvoiceNumber)

	// A genuine duplicate is still refused, and still via the fast path.
	_, _, err = svc.CreditPurchase(ctx, ev)
	require.ErrorIs(t, err, ErrDuplicatePayment)

	acc, err = svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(10), acc.Balance)
}
