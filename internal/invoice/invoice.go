package invoice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/monitoring"
)

// ─────────────────────────────────────────────
// Invoice generation
//
// Invoice numbers are assigned and persisted by the ledger when a
// purchase completes; this package never recomputes them. It fetches
// the stored number and renders a fixed-format HTML document from
// the purchase transaction.
// ─────────────────────────────────────────────

var (
	ErrNotPurchase  = errors.New("transaction is not a purchase")
	ErrNotCompleted = errors.New("purchase is not completed")
	ErrNotOwner     = errors.New("transaction belongs to another user")
)

// Buyer is the invoice recipient.
type Buyer struct {
	Name  string
	Email string
}

// Document is a fully computed invoice, ready for rendering.
type Document struct {
	InvoiceNumber string
	Date          string
	IssuerName    string
	IssuerAddress string
	BuyerName     string
	BuyerEmail    string

	Quantity  int64  // credits purchased
	UnitPrice string // per credit, 2 decimals
	Currency  string
	Subtotal  string
	VATRate   string
	VATAmount string
	VATNotice string
	Total     string
}

// Service builds invoice documents from completed purchase transactions.
type Service struct {
	ledger        ledger.Service
	issuerName    string
	issuerAddress string
}

// NewService creates an invoice Service.
func NewService(l ledger.Service, issuerName, issuerAddress string) *Service {
	return &Service{ledger: l, issuerName: issuerName, issuerAddress: issuerAddress}
}

// Number returns the persisted invoice number for a purchase transaction,
// scoped to the owning user.
func (s *Service) Number(ctx context.Context, userID, transactionID string) (string, error) {
	txn, err := s.lookup(ctx, userID, transactionID)
	if err != nil {
		return "", err
	}
	return *txn.InvoiceNumber, nil
}

// Generate builds the invoice document for a purchase transaction,
// scoped to the owning user.
func (s *Service) Generate(ctx context.Context, userID, transactionID string, buyer Buyer) (*Document, error) {
	txn, err := s.lookup(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	return s.Build(txn, buyer), nil
}

func (s *Service) lookup(ctx context.Context, userID, transactionID string) (*ledger.Transaction, error) {
	txn, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, ErrNotOwner
	}
	if txn.Type != ledger.TxPurchase {
		return nil, ErrNotPurchase
	}
	if txn.PaymentStatus != ledger.PaymentStatusCompleted || txn.InvoiceNumber == nil {
		return nil, ErrNotCompleted
	}
	return txn, nil
}

// Build computes the invoice document from an already-validated purchase
// transaction. Pure: no I/O, no side effects.
func (s *Service) Build(txn *ledger.Transaction, buyer Buyer) *Document {
	// Unit price per credit, rounded to 2 decimals. All arithmetic in
	// cents to keep the money integral.
	unitCents := int64(0)
	if txn.CreditsGranted > 0 {
		unitCents = (txn.PaymentAmountCents + txn.CreditsGranted/2) / txn.CreditsGranted
	}

	return &Document{
		InvoiceNumber: *txn.InvoiceNumber,
		Date:          txn.CreatedAt.Format("2006-01-02"),
		IssuerName:    s.issuerName,
		IssuerAddress: s.issuerAddress,
		BuyerName:     buyer.Name,
		BuyerEmail:    buyer.Email,
		Quantity:      txn.CreditsGranted,
		UnitPrice:     formatMoney(unitCents),
		Currency:      txn.PaymentCurrency,
		Subtotal:      formatMoney(txn.PaymentAmountCents),
		VATRate:       "0%",
		VATAmount:     formatMoney(0),
		VATNotice:     "VAT exempt pursuant to §19 (1) UStG (small business scheme).",
		Total:         formatMoney(txn.PaymentAmountCents),
	}
}

// RenderHTML renders the document with the fixed invoice template.
func (s *Service) RenderHTML(doc *Document) (string, error) {
	var buf bytes.Buffer
	if err := invoiceTmpl.Execute(&buf, doc); err != nil {
		return "", err
	}
	monitoring.InvoicesRenderedTotal.Inc()
	return buf.String(), nil
}

// formatMoney renders cents as a 2-decimal amount, e.g. 1999 → "19.99".
func formatMoney(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

var invoiceTmpl = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Invoice {{.InvoiceNumber}}</title>
</head>
<body>
<h1>Invoice {{.InvoiceNumber}}</h1>
<p>Date: {{.Date}}</p>
<p>{{.IssuerName}}<br>{{.IssuerAddress}}</p>
<p>Billed to: {{.BuyerName}} ({{.BuyerEmail}})</p>
<table>
<tr><th>Description</th><th>Quantity</th><th>Unit price</th><th>Amount</th></tr>
<tr><td>Reading credits</td><td>{{.Quantity}}</td><td>{{.UnitPrice}} {{.Currency}}</td><td>{{.Subtotal}} {{.Currency}}</td></tr>
</table>
<p>Subtotal: {{.Subtotal}} {{.Currency}}</p>
<p>VAT ({{.VATRate}}): {{.VATAmount}} {{.Currency}}</p>
<p><strong>Total: {{.Total}} {{.Currency}}</strong></p>
<p><em>{{.VATNotice}}</em></p>
</body>
</html>
`))
