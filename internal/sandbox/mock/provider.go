// Package mock provides a mock implementation of sandbox.Provider for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/sandrun-io/sandrun/internal/sandbox"
)

// Provider is a mock sandbox provider for testing. The zero value of the
// override funcs gives deterministic default behavior; tests set the funcs to
// script failures, slow commands, or canned output.
type Provider struct {
	mu     sync.Mutex
	nextID int
	open   map[string]bool
	files  map[string]map[string][]byte // sandboxID -> path -> content

	created []string
	closed  []string

	// Configurable behaviors for testing
	CreateFunc         func(ctx context.Context) (string, error)
	WriteFileFunc      func(ctx context.Context, sandboxID, path string, content []byte) error
	RunShellFunc       func(ctx context.Context, sandboxID, cmd string) (*sandbox.RunResult, error)
	RunInterpreterFunc func(ctx context.Context, sandboxID, language, code string) (*sandbox.RunResult, error)
	CloseFunc          func(ctx context.Context, sandboxID string) error
}

// NewProvider creates a mock provider with default behavior.
func NewProvider() *Provider {
	return &Provider{
		open:  make(map[string]bool),
		files: make(map[string]map[string][]byte),
	}
}

// Create creates a mock sandbox with a sequential id.
func (p *Provider) Create(ctx context.Context) (string, error) {
	if p.CreateFunc != nil {
		id, err := p.CreateFunc(ctx)
		if err != nil {
			return "", err
		}
		p.register(id)
		return id, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("mock-%d", p.nextID)
	p.open[id] = true
	p.files[id] = make(map[string][]byte)
	p.created = append(p.created, id)
	return id, nil
}

func (p *Provider) register(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open[id] = true
	p.files[id] = make(map[string][]byte)
	p.created = append(p.created, id)
}

// WriteFile records the file content in memory.
func (p *Provider) WriteFile(ctx context.Context, sandboxID, path string, content []byte) error {
	if p.WriteFileFunc != nil {
		return p.WriteFileFunc(ctx, sandboxID, path, content)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open[sandboxID] {
		return sandbox.ErrNotFound
	}
	p.files[sandboxID][path] = append([]byte(nil), content...)
	return nil
}

// RunShell returns an empty successful result unless overridden.
func (p *Provider) RunShell(ctx context.Context, sandboxID, cmd string) (*sandbox.RunResult, error) {
	if p.RunShellFunc != nil {
		return p.RunShellFunc(ctx, sandboxID, cmd)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open[sandboxID] {
		return nil, sandbox.ErrNotFound
	}
	return &sandbox.RunResult{ExitCode: 0}, nil
}

// RunInterpreter returns an empty successful result unless overridden.
func (p *Provider) RunInterpreter(ctx context.Context, sandboxID, language, code string) (*sandbox.RunResult, error) {
	if p.RunInterpreterFunc != nil {
		return p.RunInterpreterFunc(ctx, sandboxID, language, code)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open[sandboxID] {
		return nil, sandbox.ErrNotFound
	}
	return &sandbox.RunResult{ExitCode: 0}, nil
}

// Close marks the sandbox closed. Closing twice returns ErrClosed so tests
// can catch double-close bugs.
func (p *Provider) Close(ctx context.Context, sandboxID string) error {
	if p.CloseFunc != nil {
		return p.CloseFunc(ctx, sandboxID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open[sandboxID] {
		return sandbox.ErrClosed
	}
	delete(p.open, sandboxID)
	delete(p.files, sandboxID)
	p.closed = append(p.closed, sandboxID)
	return nil
}

// Created returns the ids of all sandboxes ever created, in order.
func (p *Provider) Created() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.created...)
}

// Closed returns the ids of all sandboxes closed so far, in order.
func (p *Provider) Closed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.closed...)
}

// Live returns the number of sandboxes created and not yet closed.
func (p *Provider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// File returns the staged content for path in the given sandbox.
func (p *Provider) File(sandboxID, path string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fs, ok := p.files[sandboxID]
	if !ok {
		return nil, false
	}
	content, ok := fs[path]
	return content, ok
}
