package interfaces

import (
	"context"

	"supportchat/pkg/types"
)

// MessageCache persists conversation history on the device.
type MessageCache interface {
	// SaveSession creates or updates the persisted session row.
	SaveSession(ctx context.Context, session *types.Session) error

	// GetSession returns ErrSessionNotFound when nothing is cached.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// StoreMessages upserts messages by id in a single transaction.
	StoreMessages(ctx context.Context, messages []types.ChatMessage) error

	// DeleteMessage removes a message, used when a temporary local copy is
	// replaced by a server copy with a different id.
	DeleteMessage(ctx context.Context, messageID string) error

	// GetSessionHistory returns messages ordered by (created_at, id).
	GetSessionHistory(ctx context.Context, sessionID string) ([]types.ChatMessage, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
