// Package sandbox defines the provider abstraction for isolated execution
// environments. Backends (Docker, mock) implement Provider; everything above
// this package deals only in opaque sandbox ids plus the metadata record the
// service itself owns.
package sandbox

import (
	"context"
	"time"
)

// Provider abstracts the external sandbox backend. All operations are
// potentially long-running and must honour context cancellation. Errors are
// opaque provider faults; no retries happen at this layer.
type Provider interface {
	// Create provisions a new sandbox and returns its provider-assigned id.
	Create(ctx context.Context) (string, error)

	// WriteFile stages content at path inside the sandbox, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, sandboxID, path string, content []byte) error

	// RunShell runs cmd as a shell command string inside the sandbox and
	// returns its captured output and exit code.
	RunShell(ctx context.Context, sandboxID, cmd string) (*RunResult, error)

	// RunInterpreter runs code through the sandbox's native interpreter
	// entrypoint for the given canonical language, without any temp file.
	RunInterpreter(ctx context.Context, sandboxID, language, code string) (*RunResult, error)

	// Close destroys the sandbox and releases its resources.
	Close(ctx context.Context, sandboxID string) error
}

// RunResult is the captured outcome of a command or interpreter run.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Instance is the service-owned record for one provider sandbox. The provider
// object stays opaque; ownership metadata lives here, keyed by the provider id.
type Instance struct {
	ID        string    // provider-assigned sandbox id
	Language  string    // canonical language, frozen at first assignment
	SessionID string    // owning session, empty for pooled/ephemeral sandboxes
	UserID    string    // owning user, empty for pooled/ephemeral sandboxes
	CreatedAt time.Time
}
