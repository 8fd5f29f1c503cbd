package session

import "errors"

// Coordinator error types
var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrAnswerRequired    = errors.New("outstanding question requires one of its options")
	ErrNotResendable     = errors.New("only failed messages can be resent")
	ErrMessageNotFound   = errors.New("message not found")
	ErrCoordinatorClosed = errors.New("coordinator is closed")
	ErrMissingTransport  = errors.New("transport is required")
	ErrMissingNotifier   = errors.New("notifier is required")
	ErrInvalidSessionID  = errors.New("session id must be non-empty")
)
