package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mysticorb/mysticorb-server/internal/achievement"
	"github.com/mysticorb/mysticorb-server/internal/auth"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/model"
)

// AdminHandler handles admin-only endpoints.
type AdminHandler struct {
	userSvc   auth.UserService
	ledgerSvc ledger.Service
	tracker   *achievement.Tracker
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(userSvc auth.UserService, ledgerSvc ledger.Service, tracker *achievement.Tracker) *AdminHandler {
	return &AdminHandler{
		userSvc:   userSvc,
		ledgerSvc: ledgerSvc,
		tracker:   tracker,
	}
}

// RegisterRoutes registers admin routes on the admin group.
func (h *AdminHandler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("/users/:id", h.GetUser)
	admin.PUT("/users/:id/status", h.SetUserStatus)
	admin.POST("/users/:id/credits", h.AddCredits)
	admin.GET("/users/:id/transactions", h.GetUserTransactions)
}

// ─────────────────────────────────────────────
// GET /api/v1/admin/users/:id
// ─────────────────────────────────────────────

// GetUser retrieves a user's information by ID (admin-only).
// Returns the same format as /api/v1/me.
func (h *AdminHandler) GetUser(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id required"})
		return
	}

	ctx := c.Request.Context()

	user, err := h.userSvc.GetByID(ctx, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	var balance int64
	if acc, err := h.ledgerSvc.GetAccount(ctx, userID); err == nil {
		balance = acc.Balance
	}

	unlocked, _ := h.tracker.Unlocked(ctx, userID)

	c.JSON(http.StatusOK, model.UserProfile{
		User:         user,
		Balance:      balance,
		Achievements: unlocked,
	})
}

// ─────────────────────────────────────────────
// PUT /api/v1/admin/users/:id/status
// ─────────────────────────────────────────────

type SetUserStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active banned suspended"`
}

type SetUserStatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SetUserStatus updates a user's account status (admin-only).
// Valid statuses: active, banned, suspended.
func (h *AdminHandler) SetUserStatus(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id required"})
		return
	}

	var req SetUserStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	// Check if user exists
	_, err := h.userSvc.GetByID(ctx, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if err := h.userSvc.SetStatus(ctx, userID, req.Status); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}

	c.JSON(http.StatusOK, SetUserStatusResponse{
		Success: true,
		Message: "status updated to " + req.Status,
	})
}

// ─────────────────────────────────────────────
// POST /api/v1/admin/users/:id/credits
// ─────────────────────────────────────────────

type AddCreditsRequest struct {
	Amount int64  `json:"amount" binding:"required,min=1"`
	Remark string `json:"remark"` // optional
}

type AddCreditsResponse struct {
	Success bool   `json:"success"`
	Balance int64  `json:"balance"`
	Message string `json:"message"`
}

// AddCredits grants credits to a user's balance (admin-only).
// Recorded as a purchase-type ledger entry without payment fields, so
// it never participates in invoice numbering.
func (h *AdminHandler) AddCredits(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id required"})
		return
	}

	var req AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	// Check if user exists
	_, err := h.userSvc.GetByID(ctx, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	remark := req.Remark
	if remark == "" {
		remark = "admin grant"
	}
	acc, err := h.ledgerSvc.Credit(ctx, userID, req.Amount, ledger.TxPurchase, remark)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add credits"})
		return
	}

	c.JSON(http.StatusOK, AddCreditsResponse{
		Success: true,
		Balance: acc.Balance,
		Message: "credits added successfully",
	})
}

// ─────────────────────────────────────────────
// GET /api/v1/admin/users/:id/transactions
// ─────────────────────────────────────────────

// GetUserTransactions returns a user's ledger history (admin-only).
func (h *AdminHandler) GetUserTransactions(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txns, err := h.ledgerSvc.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}
