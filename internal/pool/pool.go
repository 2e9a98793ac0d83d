// Package pool manages the fleet of idle, pre-warmed sandboxes: one FIFO
// queue per canonical language, a global live-count cap, and the
// reset-before-reuse protocol.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sandrun-io/sandrun/internal/logger"
	"github.com/sandrun-io/sandrun/internal/sandbox"
)

// ErrNoCapacity indicates the pool is saturated at its live-count cap.
var ErrNoCapacity = errors.New("no sandbox capacity available")

// resetCmd wipes the tenant-visible writable areas. Best-effort: any failure
// causes the sandbox to be discarded instead of returned.
const resetCmd = "rm -rf /tmp/* /home/user/*"

// Pool is the per-language FIFO of idle sandboxes plus the global live cap.
// The mutex guards the queues and the live count only; it is never held
// across provider calls.
type Pool struct {
	provider sandbox.Provider
	maxSize  int
	log      *logger.Logger

	mu   sync.Mutex
	idle map[string][]*sandbox.Instance // canonical language -> FIFO queue
	live int                            // created minus closed, any state

	returns sync.WaitGroup // in-flight background returns
}

// New creates an empty pool capped at maxSize live sandboxes.
func New(provider sandbox.Provider, maxSize int, log *logger.Logger) *Pool {
	return &Pool{
		provider: provider,
		maxSize:  maxSize,
		log:      log,
		idle:     make(map[string][]*sandbox.Instance),
	}
}

// Checkout returns an idle sandbox for the language, or creates one if none
// is queued and the live count allows. FIFO within a queue, no cross-language
// stealing. Returns ErrNoCapacity when saturated.
func (p *Pool) Checkout(ctx context.Context, lang string) (*sandbox.Instance, error) {
	p.mu.Lock()
	if queue := p.idle[lang]; len(queue) > 0 {
		inst := queue[0]
		p.idle[lang] = queue[1:]
		p.mu.Unlock()
		return inst, nil
	}
	if p.live >= p.maxSize {
		p.mu.Unlock()
		return nil, ErrNoCapacity
	}
	// Reserve the slot before the provider call so concurrent checkouts
	// cannot overshoot the cap.
	p.live++
	p.mu.Unlock()

	id, err := p.provider.Create(ctx)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return nil, err
	}

	return &sandbox.Instance{
		ID:        id,
		Language:  lang,
		CreatedAt: time.Now(),
	}, nil
}

// Warm creates one sandbox and enqueues it idle for the language, respecting
// the live cap. Used by startup pre-warming.
func (p *Pool) Warm(ctx context.Context, lang string) error {
	p.mu.Lock()
	if p.live >= p.maxSize {
		p.mu.Unlock()
		return ErrNoCapacity
	}
	p.live++
	p.mu.Unlock()

	id, err := p.provider.Create(ctx)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return err
	}

	inst := &sandbox.Instance{ID: id, Language: lang, CreatedAt: time.Now()}
	p.mu.Lock()
	p.idle[lang] = append(p.idle[lang], inst)
	p.mu.Unlock()
	return nil
}

// Return resets the sandbox and enqueues it at the tail of its language
// queue. A reset failure discards the sandbox instead; it must never serve a
// different tenant dirty.
func (p *Pool) Return(ctx context.Context, inst *sandbox.Instance) {
	res, err := p.provider.RunShell(ctx, inst.ID, resetCmd)
	if err != nil || res.ExitCode != 0 {
		p.log.Warn("sandbox reset failed, discarding",
			"sandbox_id", inst.ID,
			"language", inst.Language,
			"error", err,
		)
		p.Discard(ctx, inst)
		return
	}

	inst.SessionID = ""
	inst.UserID = ""
	p.mu.Lock()
	p.idle[inst.Language] = append(p.idle[inst.Language], inst)
	p.mu.Unlock()
}

// ReturnAsync schedules Return in the background so response latency is
// decoupled from reset latency. WaitReturns blocks until all scheduled
// returns finish.
func (p *Pool) ReturnAsync(inst *sandbox.Instance) {
	p.returns.Add(1)
	go func() {
		defer p.returns.Done()
		p.Return(context.Background(), inst)
	}()
}

// ReturnWithoutReset enqueues the sandbox without running the reset command.
// Reserved for callers that guarantee cleanliness; currently unused.
func (p *Pool) ReturnWithoutReset(inst *sandbox.Instance) {
	inst.SessionID = ""
	inst.UserID = ""
	p.mu.Lock()
	p.idle[inst.Language] = append(p.idle[inst.Language], inst)
	p.mu.Unlock()
}

// Discard closes the sandbox and decrements the live count.
func (p *Pool) Discard(ctx context.Context, inst *sandbox.Instance) {
	if err := p.provider.Close(ctx, inst.ID); err != nil {
		p.log.Warn("sandbox close failed", "sandbox_id", inst.ID, "error", err)
	}
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
}

// WaitReturns blocks until all in-flight background returns complete or the
// context is done.
func (p *Pool) WaitReturns(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.returns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain removes and returns every idle sandbox, leaving the queues empty.
// The live count is adjusted as the caller closes them via Discard; Drain
// itself does not close anything.
func (p *Pool) Drain() []*sandbox.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []*sandbox.Instance
	for lang, queue := range p.idle {
		all = append(all, queue...)
		delete(p.idle, lang)
	}
	return all
}

// Live returns the number of sandboxes created minus closed, in any state.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Idle returns the number of idle sandboxes across all language queues.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, queue := range p.idle {
		n += len(queue)
	}
	return n
}
