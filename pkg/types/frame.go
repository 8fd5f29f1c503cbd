package types

// FrameType identifies a push frame on the websocket.
type FrameType string

const (
	FrameMessageCreated FrameType = "message.created"
	FrameMessageUpdated FrameType = "message.updated"
	FrameTyping         FrameType = "typing"
	FrameSessionClosed  FrameType = "session.closed"
)

// PushFrame is the JSON envelope exchanged over the push connection.
type PushFrame struct {
	Type      FrameType    `json:"type"`
	SessionID string       `json:"session_id"`
	Message   *ChatMessage `json:"message,omitempty"`
	Typing    *TypingEvent `json:"typing,omitempty"`
}

// IsValidFrameType checks the frame type against the known set.
func IsValidFrameType(t FrameType) bool {
	switch t {
	case FrameMessageCreated, FrameMessageUpdated, FrameTyping, FrameSessionClosed:
		return true
	default:
		return false
	}
}
