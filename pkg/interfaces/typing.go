package interfaces

import (
	"context"

	"supportchat/pkg/types"
)

// TypingPublisher relays the current user's typing status to the backend.
// Delivery is best-effort; implementations must not block on a slow peer.
type TypingPublisher interface {
	PublishTyping(ctx context.Context, sessionID string, status types.TypingStatus) error
}

// TypingSource delivers inbound typing events for one session.
// The returned cancel function is idempotent.
type TypingSource interface {
	SubscribeTyping(sessionID string, fn func(types.TypingEvent)) (cancel func())
}
