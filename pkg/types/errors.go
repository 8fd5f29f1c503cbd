package types

import "errors"

// Error kinds shared by the coordinator, the transport and the cache.
var (
	ErrSessionCreationFailed = errors.New("session creation failed")
	ErrSendFailed            = errors.New("message send failed")
	ErrEndChatFailed         = errors.New("end chat failed")
	ErrFetchFailed           = errors.New("fetch failed")

	ErrInvalidMessage  = errors.New("message must have an id and a timestamp")
	ErrInvalidSender   = errors.New("invalid sender type")
	ErrInvalidStatus   = errors.New("invalid delivery status")
	ErrEmptyMessage    = errors.New("message must have text or attachments")
	ErrContentTooLarge = errors.New("message body exceeds 64KB limit")
	ErrInvalidQuestion = errors.New("invalid form question")
	ErrInvalidSession  = errors.New("session must have an id")
)
