package ws

import (
	"encoding/json"
	"sync"

	"github.com/mysticorb/mysticorb-server/internal/ledger"
	"github.com/mysticorb/mysticorb-server/internal/logging"
	"github.com/mysticorb/mysticorb-server/internal/model"
)

// ─────────────────────────────────────────────
// Hub: live balance updates to signed-in users
// ─────────────────────────────────────────────

// Hub maintains the set of active WebSocket sessions per user and
// pushes balance updates after ledger mutations. Implements
// ledger.BalanceNotifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string][]*Client // userID → open sessions (multiple tabs)
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string][]*Client),
	}
}

// Register adds a client session to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.UserID] = append(h.clients[c.UserID], c)
	h.mu.Unlock()
	logging.Sugar.Debugf("[hub] user %s connected (sessions: %d)", c.UserID, h.SessionCount())
}

// Unregister removes a client session from the hub.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	sessions := h.clients[c.UserID]
	for i, s := range sessions {
		if s == c {
			h.clients[c.UserID] = append(sessions[:i], sessions[i+1:]...)
			break
		}
	}
	if len(h.clients[c.UserID]) == 0 {
		delete(h.clients, c.UserID)
	}
	h.mu.Unlock()
	logging.Sugar.Debugf("[hub] user %s disconnected (sessions: %d)", c.UserID, h.SessionCount())
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.clients {
		n += len(sessions)
	}
	return n
}

// NotifyBalance pushes the new balance to every open session of the
// user. Slow sessions are skipped rather than blocking the ledger.
func (h *Hub) NotifyBalance(userID string, balance int64, txType ledger.TransactionType) {
	env := model.Envelope{
		Type: model.MsgTypeBalanceUpdate,
		Payload: model.BalanceUpdate{
			Balance:         balance,
			TransactionType: string(txType),
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		logging.Sugar.Errorf("[hub] marshal balance update: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			logging.Sugar.Warnf("[hub] send buffer full for user %s, dropping", userID)
		}
	}
}
