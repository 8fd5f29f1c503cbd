package database

import "errors"

// Cache-specific error types
var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrShuttingDown  = errors.New("database manager is shutting down")
)
