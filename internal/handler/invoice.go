package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	appctx "github.com/mysticorb/mysticorb-server/internal/context"
	"github.com/mysticorb/mysticorb-server/internal/invoice"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
)

// InvoiceHandler serves the "download invoice" action.
type InvoiceHandler struct {
	invoiceSvc *invoice.Service
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(invoiceSvc *invoice.Service) *InvoiceHandler {
	return &InvoiceHandler{invoiceSvc: invoiceSvc}
}

// RegisterRoutes registers invoice routes on the api group.
func (h *InvoiceHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/invoices/:transactionId", h.DownloadInvoice)
}

// ─────────────────────────────────────────────
// GET /api/v1/invoices/:transactionId
// ─────────────────────────────────────────────

// DownloadInvoice renders the HTML invoice for a completed purchase.
// Scoped to the requesting user: other users' transactions 404.
func (h *InvoiceHandler) DownloadInvoice(c *gin.Context) {
	user := appctx.MustGetUser(c)
	transactionID := c.Param("transactionId")

	doc, err := h.invoiceSvc.Generate(c.Request.Context(), user.ID, transactionID, invoice.Buyer{
		Name:  user.Nickname,
		Email: user.Email,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrTransactionNotFound), errors.Is(err, invoice.ErrNotOwner):
			// Ownership failures deliberately look like a missing
			// transaction: no cross-user probing.
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		case errors.Is(err, invoice.ErrNotPurchase), errors.Is(err, invoice.ErrNotCompleted):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no invoice for this transaction"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate invoice"})
		}
		return
	}

	html, err := h.invoiceSvc.RenderHTML(doc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render invoice"})
		return
	}

	c.Header("Content-Disposition", `inline; filename="`+doc.InvoiceNumber+`.html"`)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
