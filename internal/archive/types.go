// Package archive keeps a write-only audit log of completed exchanges.
//
// It is deliberately not a session-history store: the pipeline never reads
// it back into a conversation, so process restarts still start from empty
// sessions.
package archive

import (
	"context"
	"time"
)

// Exchange records one completed relay exchange.
type Exchange struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"session_key"`
	Mode       string    `json:"mode"`
	Model      string    `json:"model"`
	Voice      string    `json:"voice,omitempty"`
	UserText   string    `json:"user_text"`
	ReplyText  string    `json:"reply_text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists and lists exchange records.
type Store interface {
	SaveExchange(ctx context.Context, rec Exchange) error
	RecentExchanges(ctx context.Context, sessionKey string, limit int) ([]Exchange, error)
	Close() error
}
