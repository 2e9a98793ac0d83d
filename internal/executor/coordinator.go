// Package executor orchestrates single executions: sandbox resolution, file
// staging, dispatch to the language handler under a deadline, result
// formatting, and sandbox release.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandrun-io/sandrun/internal/language"
	"github.com/sandrun-io/sandrun/internal/logger"
	"github.com/sandrun-io/sandrun/internal/pool"
	"github.com/sandrun-io/sandrun/internal/sandbox"
	"github.com/sandrun-io/sandrun/internal/session"
)

const timeoutMessage = "Execution timed out"

// Request is one execution request, already authenticated.
type Request struct {
	ExecutionID string   `json:"execution_id"`
	UserID      string   `json:"user_id"`
	Code        string   `json:"code"`
	Language    string   `json:"language"`
	Timeout     int      `json:"timeout"`
	SessionID   string   `json:"session_id,omitempty"`
	Files       FileList `json:"files,omitempty"`
}

// StagedFile is one file to write before execution.
type StagedFile struct {
	Path    string
	Content string
}

// Result is the outcome of one execution. Timeouts and handler errors are
// first-class outcomes, not transport errors.
type Result struct {
	Output       string  `json:"output"`
	Error        *string `json:"error"`
	ExitCode     int     `json:"exit_code"`
	SessionID    string  `json:"session_id,omitempty"`
	SessionEnded bool    `json:"session_ended,omitempty"`
}

// Coordinator resolves sandboxes, runs handlers under deadlines, and
// guarantees every checkout has exactly one matching return, discard, or
// close.
type Coordinator struct {
	pool     *pool.Pool
	sessions *session.Registry
	registry *language.Registry
	provider sandbox.Provider
	log      *logger.Logger

	defaultTimeout int
	maxTimeout     int
	grace          time.Duration

	mu     sync.Mutex
	active map[string]*sandbox.Instance // ephemeral_id -> in-flight sandbox
}

// New creates a Coordinator.
func New(p *pool.Pool, sessions *session.Registry, registry *language.Registry, provider sandbox.Provider, defaultTimeout, maxTimeout int, grace time.Duration, log *logger.Logger) *Coordinator {
	return &Coordinator{
		pool:           p,
		sessions:       sessions,
		registry:       registry,
		provider:       provider,
		log:            log,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		grace:          grace,
		active:         make(map[string]*sandbox.Instance),
	}
}

// Execute runs one request end to end. It returns a transport-level error
// only for UnsupportedLanguage, NoCapacity, and SessionNotFound; execution
// failures come back inside the Result.
func (c *Coordinator) Execute(ctx context.Context, req *Request) (*Result, error) {
	lang, err := c.registry.Canonical(req.Language)
	if err != nil {
		return nil, err
	}
	handler, err := c.registry.Handler(lang)
	if err != nil {
		return nil, err
	}
	timeout := c.clampTimeout(req.Timeout)

	if req.SessionID != "" {
		return c.executeInSession(ctx, req, handler, timeout)
	}
	return c.executeEphemeral(ctx, req, handler, lang, timeout)
}

// CanonicalLanguage collapses aliases and validates against the allow-list.
func (c *Coordinator) CanonicalLanguage(lang string) (string, error) {
	return c.registry.Canonical(lang)
}

// clampTimeout clamps to [1, maxTimeout]; zero or negative means the default.
func (c *Coordinator) clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = c.defaultTimeout
	}
	if seconds < 1 {
		seconds = 1
	}
	if seconds > c.maxTimeout {
		seconds = c.maxTimeout
	}
	return time.Duration(seconds) * time.Second
}

func (c *Coordinator) executeEphemeral(ctx context.Context, req *Request, handler language.Handler, lang string, timeout time.Duration) (*Result, error) {
	inst, err := c.pool.Checkout(ctx, lang)
	if err != nil {
		return nil, err
	}

	ephemeralID := uuid.NewString()
	c.mu.Lock()
	c.active[ephemeralID] = inst
	c.mu.Unlock()

	res, kind := c.run(ctx, req, handler, inst, timeout)

	c.mu.Lock()
	_, owned := c.active[ephemeralID]
	delete(c.active, ephemeralID)
	c.mu.Unlock()

	if !owned {
		// Shutdown drained the entry and already discarded the sandbox;
		// touching it again would close it twice.
		return res, nil
	}
	if kind == outcomeAbandoned {
		// The provider ignored cancellation; the sandbox is closed outright.
		c.pool.Discard(context.Background(), inst)
	} else {
		// Fire-and-forget so the response is not delayed by the reset.
		c.pool.ReturnAsync(inst)
	}
	return res, nil
}

func (c *Coordinator) executeInSession(ctx context.Context, req *Request, handler language.Handler, timeout time.Duration) (*Result, error) {
	sess, err := c.sessions.Lookup(req.SessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Acquire() {
		// Ended while waiting for the per-session lock.
		return nil, session.ErrNotFound
	}

	res, kind := c.run(ctx, req, handler, sess.Instance, timeout)
	res.SessionID = sess.ID

	if kind == outcomeSuccess || kind == outcomeStaging {
		sess.Release()
		return res, nil
	}

	// Timeout or handler failure on a session sandbox: it is possibly dirty
	// mid command, so tear the session down and tell the caller.
	_, evictErr := c.sessions.Evict(sess.ID)
	sess.Release()
	if evictErr == nil {
		c.pool.Discard(context.Background(), sess.Instance)
	}
	res.SessionEnded = true
	c.log.Info("session torn down after failed execution",
		"session_id", sess.ID,
		"execution_id", req.ExecutionID,
	)
	return res, nil
}

// outcomeKind classifies a run for the caller's sandbox disposition.
type outcomeKind int

const (
	outcomeSuccess   outcomeKind = iota
	outcomeStaging               // file staging failed before execution
	outcomeTimeout               // deadline elapsed, handler returned in grace
	outcomeError                 // handler or provider failure
	outcomeAbandoned             // provider ignored cancellation past grace
)

// run stages files and executes the handler under the deadline. It never
// returns a nil Result.
func (c *Coordinator) run(ctx context.Context, req *Request, handler language.Handler, inst *sandbox.Instance, timeout time.Duration) (*Result, outcomeKind) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// File staging strictly precedes code execution.
	for _, f := range req.Files {
		if err := c.provider.WriteFile(execCtx, inst.ID, f.Path, []byte(f.Content)); err != nil {
			c.log.Warn("file staging failed",
				"execution_id", req.ExecutionID,
				"sandbox_id", inst.ID,
				"path", f.Path,
				"error", err,
			)
			return errorResult("File staging error: " + err.Error()), outcomeStaging
		}
	}

	type outcome struct {
		res *sandbox.RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := handler.Execute(execCtx, c.provider, inst.ID, req.Code)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if timedOut(execCtx, out.err) {
				return errorResult(timeoutMessage), outcomeTimeout
			}
			c.log.Warn("execution failed",
				"execution_id", req.ExecutionID,
				"sandbox_id", inst.ID,
				"error", out.err,
			)
			return errorResult(out.err.Error()), outcomeError
		}
		return resultFrom(out.res), outcomeSuccess

	case <-execCtx.Done():
		// Deadline elapsed; give the provider a grace window to honour
		// cancellation before the sandbox is closed outright.
		select {
		case <-done:
			return errorResult(timeoutMessage), outcomeTimeout
		case <-time.After(c.grace):
			c.log.Warn("provider ignored cancellation, closing sandbox",
				"execution_id", req.ExecutionID,
				"sandbox_id", inst.ID,
			)
			return errorResult(timeoutMessage), outcomeAbandoned
		}
	}
}

// ActiveCount returns the number of in-flight ephemeral executions.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// DrainActive removes and returns all in-flight ephemeral sandboxes. Used by
// shutdown after the grace period; the owner discards them, and the draining
// executions see their entry gone and leave the sandbox alone when they
// eventually unwind.
func (c *Coordinator) DrainActive() []*sandbox.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	var all []*sandbox.Instance
	for id, inst := range c.active {
		all = append(all, inst)
		delete(c.active, id)
	}
	return all
}

func resultFrom(r *sandbox.RunResult) *Result {
	res := &Result{
		Output:   r.Stdout,
		ExitCode: r.ExitCode,
	}
	if r.Stderr != "" {
		stderr := r.Stderr
		res.Error = &stderr
	}
	return res
}

func errorResult(msg string) *Result {
	return &Result{Output: "", Error: &msg, ExitCode: -1}
}

// timedOut reports whether the error (or the context) is a deadline elapse.
func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded
}
