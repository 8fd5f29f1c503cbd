package interfaces

import (
	"context"

	"supportchat/pkg/types"
)

// Transport is the support backend as seen by a chat session.
// Every call is blocking; callers run them off the notification goroutine.
type Transport interface {
	// CreateSession opens a conversation for the optional intake form and
	// returns the server-assigned session.
	CreateSession(ctx context.Context, formID string) (*types.Session, error)

	// SubmitMessage delivers an outgoing message and returns the server copy.
	// The server copy may carry a different id than the local one.
	SubmitMessage(ctx context.Context, message *types.ChatMessage) (*types.ChatMessage, error)

	// EndChat closes the conversation on the backend.
	EndChat(ctx context.Context, sessionID, reason string) error

	// FetchMessages returns one page of history older than page.Before,
	// or the newest page when page.Before is zero.
	FetchMessages(ctx context.Context, sessionID string, page types.Page) (*types.MessagePage, error)

	// FetchQueueStatus returns the session's position in the agent queue.
	FetchQueueStatus(ctx context.Context, sessionID string) (*types.QueueStatus, error)
}

// ScheduleFetcher loads business hours.
type ScheduleFetcher interface {
	FetchSchedule(ctx context.Context, scheduleID string) (*types.Schedule, error)
}

// SatisfactionForms reports whether a post-chat survey is still unanswered.
type SatisfactionForms interface {
	Pending(ctx context.Context, sessionID string) (bool, error)
}
