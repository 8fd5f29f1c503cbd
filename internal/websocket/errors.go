package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrDialFailed       = errors.New("push connection dial failed")
	ErrMissingURL       = errors.New("push url is required")
	ErrMissingHandler   = errors.New("frame handler is required")
)
