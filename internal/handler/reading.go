package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	appctx "github.com/mysticorb/mysticorb-server/internal/context"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/service"
)

// ReadingHandler handles the paid reading flow.
type ReadingHandler struct {
	svc *service.ReadingService
}

// NewReadingHandler creates a new ReadingHandler.
func NewReadingHandler(svc *service.ReadingService) *ReadingHandler {
	return &ReadingHandler{svc: svc}
}

// RegisterRoutes registers reading routes on the api group.
func (h *ReadingHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/readings", h.StartReading)
	api.POST("/readings/:id/questions", h.AskQuestion)
}

// ─────────────────────────────────────────────
// POST /api/v1/readings
// ─────────────────────────────────────────────

type StartReadingRequest struct {
	SpreadType string `json:"spread_type" binding:"required"`
}

// StartReading debits the spread cost and opens a reading session.
// Insufficient credits is an expected outcome: the client prompts a
// purchase, nothing is charged.
func (h *ReadingHandler) StartReading(c *gin.Context) {
	var req StartReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// UserID comes from the API key middleware, not the request body.
	userID := appctx.GetUserID(c)

	res, err := h.svc.StartReading(c.Request.Context(), userID, req.SpreadType)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
		case errors.Is(err, service.ErrUnknownSpread):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown spread type"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start reading"})
		}
		return
	}

	c.JSON(http.StatusCreated, res)
}

// ─────────────────────────────────────────────
// POST /api/v1/readings/:id/questions
// ─────────────────────────────────────────────

type AskQuestionRequest struct {
	Question string `json:"question" binding:"required"`
}

// AskQuestion prices and answers a follow-up question in a session.
func (h *ReadingHandler) AskQuestion(c *gin.Context) {
	readingID := c.Param("id")
	if readingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading id required"})
		return
	}

	var req AskQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := appctx.GetUserID(c)

	res, err := h.svc.AskQuestion(c.Request.Context(), userID, readingID, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
		case errors.Is(err, service.ErrReadingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "reading not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to answer question"})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}
