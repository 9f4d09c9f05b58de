package exception

import "errors"

var (
	ErrEngineNotInitialized = errors.New("engine: not initialized")
	ErrEngineAlreadyRunning = errors.New("engine: already running")
	ErrEventQueueFull       = errors.New("engine: event queue full")
	ErrEventQueueClosed     = errors.New("engine: event queue closed")
)
