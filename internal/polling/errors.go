package polling

import "errors"

// Polling manager error types
var (
	ErrAlreadyRunning   = errors.New("poller is already running")
	ErrNotRunning       = errors.New("poller is not running")
	ErrMissingTarget    = errors.New("poll target is required")
	ErrMissingTransport = errors.New("transport is required")
)
