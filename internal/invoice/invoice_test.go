package invoice

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mysticorb/mysticorb-server/internal/ledger"
)

func setupInvoice(t *testing.T) (*Service, ledger.Service) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledger.Account{}, &ledger.Transaction{}))

	ledgerSvc := ledger.NewService(db, nil, time.Hour, nil)
	return NewService(ledgerSvc, "MysticOrb", "Example Street 1, Berlin"), ledgerSvc
}

func purchase(t *testing.T, ledgerSvc ledger.Service, userID, paymentID string, cents, credits int64) *ledger.Transaction {
	t.Helper()
	txn, _, err := ledgerSvc.CreditPurchase(context.Background(), ledger.PurchaseEvent{
		PaymentID:       paymentID,
		PaymentProvider: "stripe",
		AmountCents:     cents,
		Currency:        "EUR",
		UserID:          userID,
		CreditsGranted:  credits,
	})
	require.NoError(t, err)
	return txn
}

func TestGenerateBuildsDocument(t *testing.T) {
	svc, ledgerSvc := setupInvoice(t)
	txn := purchase(t, ledgerSvc, "u1", "pay_1", 999, 10)

	doc, err := svc.Generate(context.Background(), "u1", txn.ID, Buyer{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	require.Equal(t, *txn.InvoiceNumber, doc.InvoiceNumber)
	require.Equal(t, int64(10), doc.Quantity)
	require.Equal(t, "1.00", doc.UnitPrice) // 999/10 cents, rounded to nearest
	require.Equal(t, "9.99", doc.Subtotal)
	require.Equal(t, "9.99", doc.Total)
	require.Equal(t, "0%", doc.VATRate)
	require.Equal(t, "0.00", doc.VATAmount)
	require.Contains(t, doc.VATNotice, "§19")
	require.Equal(t, "EUR", doc.Currency)
	require.Equal(t, "Alice", doc.BuyerName)
}

func TestGenerateRejectsOtherUsers(t *testing.T) {
	svc, ledgerSvc := setupInvoice(t)
	txn := purchase(t, ledgerSvc, "u1", "pay_1", 999, 10)

	_, err := svc.Generate(context.Background(), "u2", txn.ID, Buyer{})
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestGenerateRejectsNonPurchase(t *testing.T) {
	svc, ledgerSvc := setupInvoice(t)
	ctx := context.Background()

	purchase(t, ledgerSvc, "u1", "pay_1", 999, 10)
	_, err := ledgerSvc.Debit(ctx, "u1", 1, "reading")
	require.NoError(t, err)

	txns, err := ledgerSvc.History(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, ledger.TxDebit, txns[0].Type)

	_, err = svc.Generate(ctx, "u1", txns[0].ID, Buyer{})
	require.ErrorIs(t, err, ErrNotPurchase)
}

func TestGenerateUnknownTransaction(t *testing.T) {
	svc, _ := setupInvoice(t)

	_, err := svc.Generate(context.Background(), "u1", "nope", Buyer{})
	require.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestNumberIsStableAcrossCalls(t *testing.T) {
	svc, ledgerSvc := setupInvoice(t)
	txn := purchase(t, ledgerSvc, "u1", "pay_1", 999, 10)

	first, err := svc.Number(context.Background(), "u1", txn.ID)
	require.NoError(t, err)

	// Later purchases must not shift an already issued number.
	purchase(t, ledgerSvc, "u1", "pay_2", 500, 5)

	second, err := svc.Number(context.Background(), "u1", txn.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestUnitPriceRounding(t *testing.T) {
	svc, _ := setupInvoice(t)
	now := time.Now()
	number := "MO-2026-00001"

	doc := svc.Build(&ledger.Transaction{
		Type:               ledger.TxPurchase,
		PaymentStatus:      ledger.PaymentStatusCompleted,
		PaymentAmountCents: 1000,
		PaymentCurrency:    "EUR",
		CreditsGranted:     3, // 333.33... cents per credit
		InvoiceNumber:      &number,
		CreatedAt:          now,
	}, Buyer{})

	require.Equal(t, "3.33", doc.UnitPrice)
	require.Equal(t, "10.00", doc.Subtotal)
}

func TestRenderHTML(t *testing.T) {
	svc, ledgerSvc := setupInvoice(t)
	txn := purchase(t, ledgerSvc, "u1", "pay_1", 999, 10)

	doc, err := svc.Generate(context.Background(), "u1", txn.ID, Buyer{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	html, err := svc.RenderHTML(doc)
	require.NoError(t, err)
	require.True(t, strings.Contains(html, doc.InvoiceNumber))
	require.True(t, strings.Contains(html, "9.99 EUR"))
	require.True(t, strings.Contains(html, "Alice"))
}

func TestFormatMoney(t *testing.T) {
	require.Equal(t, "0.00", formatMoney(0))
	require.Equal(t, "0.05", formatMoney(5))
	require.Equal(t, "19.99", formatMoney(1999))
	require.Equal(t, "-1.50", formatMoney(-150))
}
