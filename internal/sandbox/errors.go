package sandbox

import "errors"

// Sentinel errors for sandbox operations.
var (
	// ErrNotFound indicates the sandbox does not exist.
	ErrNotFound = errors.New("sandbox not found")

	// ErrCreateFailed indicates the provider refused to create a sandbox.
	ErrCreateFailed = errors.New("sandbox creation failed")

	// ErrExecFailed indicates command execution inside the sandbox failed.
	ErrExecFailed = errors.New("command execution failed")

	// ErrWriteFailed indicates a file could not be staged into the sandbox.
	ErrWriteFailed = errors.New("file write failed")

	// ErrClosed indicates the sandbox has already been closed.
	ErrClosed = errors.New("sandbox closed")
)
