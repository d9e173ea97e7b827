package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	appctx "github.com/mysticorb/mysticorb-server/internal/context"
	"github.com/mysticorb/mysticorb-server/internal/logging"
	"github.com/mysticorb/mysticorb-server/internal/ws"
)

// Handler holds the shared HTTP/WS endpoints that don't belong to a
// single domain handler.
type Handler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the shared handler set.
func NewHandler(hub *ws.Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterPublicRoutes registers endpoints that need no auth.
func (h *Handler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/api/v1/health", h.Health)
}

// RegisterRoutes registers authenticated shared routes on the api group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/ws", h.WebSocket)
}

// ─────────────────────────────────────────────
// GET /api/v1/ws  (balance update push)
// ─────────────────────────────────────────────

// WebSocket upgrades the connection and registers the session for
// live balance pushes. Runs behind the API key middleware, so the
// user is already resolved.
func (h *Handler) WebSocket(c *gin.Context) {
	user := appctx.MustGetUser(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Sugar.Warnf("[handler] websocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(user.ID, conn, h.hub)
	client.Run()
}

// ─────────────────────────────────────────────
// GET /api/v1/health
// ─────────────────────────────────────────────

// Health returns basic server health info.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": h.hub.SessionCount(),
	})
}
