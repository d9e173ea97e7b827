package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mysticorb/mysticorb-server/internal/achievement"
	"github.com/mysticorb/mysticorb-server/internal/auth"
	"github.com/mysticorb/mysticorb-server/internal/bonus"
	appctx "github.com/mysticorb/mysticorb-server/internal/context"
	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/model"
	"github.com/mysticorb/mysticorb-server/internal/referral"
)

// UserHandler handles user-facing account endpoints.
type UserHandler struct {
	userSvc   auth.UserService
	ledgerSvc ledger.Service
	bonusSvc  *bonus.Scheduler
	redeemer  *referral.Redeemer
	tracker   *achievement.Tracker
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userSvc auth.UserService, ledgerSvc ledger.Service, bonusSvc *bonus.Scheduler, redeemer *referral.Redeemer, tracker *achievement.Tracker) *UserHandler {
	return &UserHandler{
		userSvc:   userSvc,
		ledgerSvc: ledgerSvc,
		bonusSvc:  bonusSvc,
		redeemer:  redeemer,
		tracker:   tracker,
	}
}

// RegisterRoutes registers user routes on the api group.
func (h *UserHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/me", h.Me)
	api.POST("/me/reset-key", h.ResetAPIKey)
	api.GET("/me/balance", h.MyBalance)
	api.GET("/me/transactions", h.MyTransactions)
	api.POST("/me/bonus", h.ClaimBonus)
	api.POST("/me/referral", h.RedeemReferral)
}

// ─────────────────────────────────────────────
// GET /api/v1/me
// ─────────────────────────────────────────────

// Me returns the authenticated user's profile with balance and
// earned achievements.
func (h *UserHandler) Me(c *gin.Context) {
	user := appctx.MustGetUser(c)
	ctx := c.Request.Context()

	var balance int64
	if acc, err := h.ledgerSvc.GetAccount(ctx, user.ID); err == nil {
		balance = acc.Balance
	}

	unlocked, _ := h.tracker.Unlocked(ctx, user.ID)

	c.JSON(http.StatusOK, model.UserProfile{
		User:         user,
		Balance:      balance,
		Achievements: unlocked,
	})
}

// ─────────────────────────────────────────────
// POST /api/v1/me/reset-key
// ─────────────────────────────────────────────

type ResetKeyResponse struct {
	APIKey string `json:"api_key"`
}

// ResetAPIKey regenerates the user's API key.
func (h *UserHandler) ResetAPIKey(c *gin.Context) {
	user := appctx.MustGetUser(c)

	updatedUser, err := h.userSvc.ResetAPIKey(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset api key"})
		return
	}

	c.JSON(http.StatusOK, ResetKeyResponse{
		APIKey: updatedUser.APIKey,
	})
}

// ─────────────────────────────────────────────
// GET /api/v1/me/balance
// ─────────────────────────────────────────────

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// MyBalance returns the user's current credit balance.
func (h *UserHandler) MyBalance(c *gin.Context) {
	user := appctx.MustGetUser(c)

	acc, err := h.ledgerSvc.GetAccount(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{
		Balance: acc.Balance,
	})
}

// ─────────────────────────────────────────────
// GET /api/v1/me/transactions
// ─────────────────────────────────────────────

// MyTransactions returns the user's ledger history, newest first.
func (h *UserHandler) MyTransactions(c *gin.Context) {
	user := appctx.MustGetUser(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txns, err := h.ledgerSvc.History(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// ─────────────────────────────────────────────
// POST /api/v1/me/bonus
// ─────────────────────────────────────────────

type BonusResponse struct {
	Success bool   `json:"success"`
	Reward  int64  `json:"reward,omitempty"`
	Balance int64  `json:"balance,omitempty"`
	Streak  int    `json:"streak,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClaimBonus handles the daily login bonus claim.
func (h *UserHandler) ClaimBonus(c *gin.Context) {
	user := appctx.MustGetUser(c)

	res, err := h.bonusSvc.Claim(c.Request.Context(), user.ID)
	if err != nil {
		if errors.Is(err, bonus.ErrAlreadyClaimedToday) {
			c.JSON(http.StatusOK, BonusResponse{
				Success: false,
				Message: "bonus already claimed today",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to claim bonus"})
		return
	}

	c.JSON(http.StatusOK, BonusResponse{
		Success: true,
		Reward:  res.Reward,
		Balance: res.Balance,
		Streak:  res.Streak,
	})
}

// ─────────────────────────────────────────────
// POST /api/v1/me/referral
// ─────────────────────────────────────────────

type RedeemReferralRequest struct {
	Code string `json:"code" binding:"required"`
}

type RedeemReferralResponse struct {
	Success bool  `json:"success"`
	Reward  int64 `json:"reward"`
	Balance int64 `json:"balance"`
}

// RedeemReferral redeems a referral code for the authenticated user.
func (h *UserHandler) RedeemReferral(c *gin.Context) {
	user := appctx.MustGetUser(c)

	var req RedeemReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.redeemer.Redeem(c.Request.Context(), user.ID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, referral.ErrInvalidCode):
			c.JSON(http.StatusNotFound, gin.H{"error": "referral code not found"})
		case errors.Is(err, referral.ErrSelfReferral):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "cannot redeem your own code"})
		case errors.Is(err, referral.ErrAlreadyRedeemed):
			c.JSON(http.StatusConflict, gin.H{"error": "referral already redeemed"})
		case errors.Is(err, referral.ErrEmailUnverified):
			c.JSON(http.StatusForbidden, gin.H{"error": "email verification required"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to redeem referral"})
		}
		return
	}

	c.JSON(http.StatusOK, RedeemReferralResponse{
		Success: true,
		Reward:  res.Reward,
		Balance: res.Balance,
	})
}
