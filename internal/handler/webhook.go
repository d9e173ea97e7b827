package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mysticorb/mysticorb-server/internal/ledger"
)

// WebhookHandler handles payment provider callbacks.
type WebhookHandler struct {
	ledgerSvc ledger.Service
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ledgerSvc ledger.Service) *WebhookHandler {
	return &WebhookHandler{ledgerSvc: ledgerSvc}
}

// RegisterRoutes registers webhook routes on the given group. The
// group carries the shared-secret middleware.
func (h *WebhookHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/payment", h.PaymentCompleted)
}

// ─────────────────────────────────────────────
// POST /api/v1/webhooks/payment
// ─────────────────────────────────────────────

type PaymentWebhookRequest struct {
	PaymentID       string `json:"payment_id" binding:"required"`
	PaymentProvider string `json:"payment_provider" binding:"required"`
	AmountCents     int64  `json:"amount_cents" binding:"required,min=1"`
	Currency        string `json:"currency" binding:"required"`
	UserID          string `json:"user_id" binding:"required"`
	CreditsGranted  int64  `json:"credits_granted" binding:"required,min=1"`
}

type PaymentWebhookResponse struct {
	Success       bool   `json:"success"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Balance       int64  `json:"balance,omitempty"`
}

// PaymentCompleted credits a completed purchase. Providers redeliver
// webhooks; duplicates are acknowledged with 200 so the provider
// stops retrying, but nothing is credited twice.
func (h *WebhookHandler) PaymentCompleted(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txn, acc, err := h.ledgerSvc.CreditPurchase(c.Request.Context(), ledger.PurchaseEvent{
		PaymentID:       req.PaymentID,
		PaymentProvider: req.PaymentProvider,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		UserID:          req.UserID,
		CreditsGranted:  req.CreditsGranted,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicatePayment) {
			c.JSON(http.StatusOK, PaymentWebhookResponse{
				Success:   true,
				Duplicate: true,
			})
			return
		}
		// Not applied; the provider may retry the whole delivery.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process payment"})
		return
	}

	c.JSON(http.StatusOK, PaymentWebhookResponse{
		Success:       true,
		TransactionID: txn.ID,
		InvoiceNumber: *txn.InvoiceNumber,
		Balance:       acc.Balance,
	})
}
