// Package lifecycle owns startup pre-warming and graceful shutdown of the
// sandbox fleet.
package lifecycle

import (
	"context"
	"sync"

	"github.com/sandrun-io/sandrun/internal/executor"
	"github.com/sandrun-io/sandrun/internal/logger"
	"github.com/sandrun-io/sandrun/internal/pool"
	"github.com/sandrun-io/sandrun/internal/session"
)

// Controller pre-warms the pool and shuts the fleet down exactly once.
type Controller struct {
	pool      *pool.Pool
	sessions  *session.Registry
	coord     *executor.Coordinator
	languages []string
	log       *logger.Logger

	shutdownOnce sync.Once
}

// New creates a Controller for the given fleet components.
func New(p *pool.Pool, sessions *session.Registry, coord *executor.Coordinator, languages []string, log *logger.Logger) *Controller {
	return &Controller{
		pool:      p,
		sessions:  sessions,
		coord:     coord,
		languages: languages,
		log:       log,
	}
}

// Prewarm creates up to total sandboxes, distributed equally across the
// supported languages (integer division, remainder discarded). Creation
// failures are logged and skipped; the service becomes healthy regardless.
func (c *Controller) Prewarm(ctx context.Context, total int) {
	if len(c.languages) == 0 || total <= 0 {
		return
	}
	perLanguage := total / len(c.languages)

	for _, lang := range c.languages {
		for i := 0; i < perLanguage; i++ {
			if err := c.pool.Warm(ctx, lang); err != nil {
				c.log.Warn("pre-warm sandbox creation failed, skipping",
					"language", lang,
					"error", err,
				)
			}
		}
	}
	c.log.Info("sandbox pool pre-warmed",
		"per_language", perLanguage,
		"idle", c.pool.Idle(),
		"live", c.pool.Live(),
	)
}

// Shutdown closes every sandbox in the pool, the active ephemeral set, and
// the session registry, exactly once each. In-flight background returns are
// awaited up to the context deadline; in-flight executions past it are
// drained and their sandboxes closed. Double-shutdown is a no-op.
func (c *Controller) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		c.log.Info("shutting down sandbox fleet")

		// Let in-flight returns land in the idle queues so Drain sees them.
		if err := c.pool.WaitReturns(ctx); err != nil {
			c.log.Warn("timed out waiting for in-flight returns", "error", err)
		}

		// Discard keeps the live count honest and closes each exactly once;
		// executions drained here skip their own disposition on unwind.
		closed := 0
		for _, inst := range c.sessions.Drain() {
			c.pool.Discard(ctx, inst)
			closed++
		}
		for _, inst := range c.coord.DrainActive() {
			c.pool.Discard(ctx, inst)
			closed++
		}
		for _, inst := range c.pool.Drain() {
			c.pool.Discard(ctx, inst)
			closed++
		}
		c.log.Info("sandbox fleet shut down", "closed", closed)
	})
}
