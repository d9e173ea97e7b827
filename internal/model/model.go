package model

import (
	"github.com/mysticorb/mysticorb-server/internal/auth"
)

// UserProfile is the /me response shape: user plus current balance
// and earned achievements.
type UserProfile struct {
	User         *auth.User `json:"user"`
	Balance      int64      `json:"balance"`
	Achievements []string   `json:"achievements,omitempty"`
}

// ─────────────────────────────────────────────
// WebSocket messages (server → client)
// ─────────────────────────────────────────────

type MsgType string

const (
	MsgTypeBalanceUpdate MsgType = "BALANCE_UPDATE"
)

// Envelope wraps every WebSocket message.
type Envelope struct {
	Type    MsgType     `json:"type"`
	Payload interface{} `json:"payload"`
}

// BalanceUpdate is pushed to a user's open sessions after every
// ledger mutation touching their balance.
type BalanceUpdate struct {
	Balance         int64  `json:"balance"`
	TransactionType string `json:"transaction_type"`
}
