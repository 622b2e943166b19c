package relay

import "errors"

var (
	// ErrNotFound reports an unknown stream key or a missing prerequisite
	// (no destination for start, no running relay for stop).
	ErrNotFound = errors.New("stream not found")
	// ErrAlreadyRunning rejects a start while a relay is attached.
	ErrAlreadyRunning = errors.New("relay already running")
	// ErrSpawnFailed wraps relay launch failures.
	ErrSpawnFailed = errors.New("relay spawn failed")
	// ErrTerminationTimeout marks a stop that needed a forced kill.
	// It is logged, never returned to callers.
	ErrTerminationTimeout = errors.New("relay termination timed out")
	// ErrInvalidDestination rejects a blank destination.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrClosed rejects operations after Shutdown.
	ErrClosed = errors.New("supervisor closed")
)
