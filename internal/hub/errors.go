package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrEventChannelFull  = errors.New("event channel is full")
	ErrNilListener       = errors.New("listener is nil")
	ErrNoCallbacks       = errors.New("listener implements no callbacks")
)
