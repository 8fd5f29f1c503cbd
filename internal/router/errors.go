package router

import "errors"

// Router-specific error types
var (
	ErrInvalidFrame       = errors.New("invalid push frame")
	ErrInvalidFrameType   = errors.New("invalid frame type")
	ErrMissingSessionID   = errors.New("frame missing session id")
	ErrMissingPayload     = errors.New("frame missing payload")
	ErrUnknownSession     = errors.New("no session registered for frame")
	ErrAlreadyRegistered  = errors.New("session already registered")
	ErrInvalidSessionSink = errors.New("session sink is nil")
)
