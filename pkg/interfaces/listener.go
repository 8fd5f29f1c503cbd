package interfaces

import (
	"supportchat/pkg/types"
)

// A chat listener implements any subset of the interfaces below. The hub
// checks each capability with a type assertion and skips the ones a
// listener does not implement.

// LoadListener is notified when a page of history finished loading.
type LoadListener interface {
	OnLoad(sessionID string)
}

// ContentChangeListener is notified when the message list changed.
type ContentChangeListener interface {
	OnContentChange(sessionID string)
}

// ErrorListener is notified of asynchronous failures.
type ErrorListener interface {
	OnError(sessionID string, err error)
}

// SessionCreatedListener is notified once the backend assigned a session id.
type SessionCreatedListener interface {
	OnSessionCreated(sessionID string)
}

// SatisfactionFormListener is notified after the satisfaction form state
// was fetched for a closed session.
type SatisfactionFormListener interface {
	OnSatisfactionFormFetched(sessionID string)
}

// TypingListener receives typing indicators of other participants.
type TypingListener interface {
	OnTypingUpdate(sessionID string, indicator types.TypingIndicator)
}

// ChatEndedListener is notified when the session was closed.
type ChatEndedListener interface {
	OnChatEnded(sessionID string)
}
