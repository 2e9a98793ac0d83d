// Package session tracks long-lived bindings of session ids to sandboxes,
// with a reverse index from user id to owned sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandrun-io/sandrun/internal/logger"
	"github.com/sandrun-io/sandrun/internal/pool"
	"github.com/sandrun-io/sandrun/internal/sandbox"
)

// ErrNotFound indicates the session id is not registered.
var ErrNotFound = errors.New("session not found")

// Session binds one sandbox to one client identity. The embedded lock
// serialises executions on the session; the Coordinator holds it for the
// whole of file staging plus execution, and End holds it before the sandbox
// goes back to the pool.
type Session struct {
	ID       string
	Instance *sandbox.Instance

	mu    sync.Mutex
	ended bool
}

// Acquire takes the per-session lock and reports whether the session is
// still live. A false return means the session was ended while waiting.
func (s *Session) Acquire() bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	return true
}

// Release drops the per-session lock.
func (s *Session) Release() {
	s.mu.Unlock()
}

// Registry is the session_id -> sandbox map plus the user_id reverse index.
// Its mutex guards the two maps only; sandbox I/O happens outside it.
type Registry struct {
	pool *pool.Pool
	log  *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]map[string]bool // user_id -> set of session_id
}

// NewRegistry creates an empty session registry backed by the pool.
func NewRegistry(p *pool.Pool, log *logger.Logger) *Registry {
	return &Registry{
		pool:     p,
		log:      log,
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]bool),
	}
}

// Create checks a sandbox out of the pool, binds it to a fresh session id,
// and stamps the ownership metadata. The language must already be canonical.
func (r *Registry) Create(ctx context.Context, userID, lang string) (*Session, error) {
	inst, err := r.pool.Checkout(ctx, lang)
	if err != nil {
		return nil, err
	}

	inst.Language = lang
	inst.UserID = userID
	inst.CreatedAt = time.Now()

	sess := &Session{
		ID:       uuid.NewString(),
		Instance: inst,
	}
	inst.SessionID = sess.ID

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]bool)
	}
	r.byUser[userID][sess.ID] = true
	r.mu.Unlock()

	r.log.Info("session created",
		"session_id", sess.ID,
		"user_id", userID,
		"language", lang,
		"sandbox_id", inst.ID,
	)
	return sess, nil
}

// Lookup returns the session for the id, or ErrNotFound.
func (r *Registry) Lookup(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// End removes the session from both maps and hands its sandbox back to the
// pool (reset, discard on reset failure). It waits for any in-flight
// execution on the session to finish first.
func (r *Registry) End(ctx context.Context, sessionID string) error {
	sess, err := r.remove(sessionID)
	if err != nil {
		return err
	}

	// Serialise against a running execution before touching the sandbox.
	sess.mu.Lock()
	sess.ended = true
	sess.mu.Unlock()

	r.pool.Return(ctx, sess.Instance)
	r.log.Info("session ended", "session_id", sessionID)
	return nil
}

// Evict removes the session from both maps without returning the sandbox.
// Used by the Coordinator when it tears a session down while already holding
// the per-session lock; the caller owns the sandbox's disposition.
func (r *Registry) Evict(sessionID string) (*Session, error) {
	sess, err := r.remove(sessionID)
	if err != nil {
		return nil, err
	}
	sess.ended = true // caller holds sess.mu
	return sess, nil
}

// EndForUser ends every session owned by the user.
func (r *Registry) EndForUser(ctx context.Context, userID string) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.End(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			r.log.Warn("failed to end session", "session_id", id, "error", err)
		}
	}
}

// remove deletes the session from both maps under the registry lock.
func (r *Registry) remove(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.sessions, sessionID)
	userID := sess.Instance.UserID
	if owned := r.byUser[userID]; owned != nil {
		delete(owned, sessionID)
		if len(owned) == 0 {
			delete(r.byUser, userID)
		}
	}
	return sess, nil
}

// Drain removes every session and returns their sandboxes without resetting
// or closing them. Used by shutdown, which closes each exactly once.
func (r *Registry) Drain() []*sandbox.Instance {
	r.mu.Lock()
	drained := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		drained = append(drained, sess)
		delete(r.sessions, id)
	}
	r.byUser = make(map[string]map[string]bool)
	r.mu.Unlock()

	// Mark outside the registry lock: a timing-out execution holds the
	// per-session lock while it evicts, and evict takes the registry lock.
	all := make([]*sandbox.Instance, 0, len(drained))
	for _, sess := range drained {
		sess.mu.Lock()
		sess.ended = true
		sess.mu.Unlock()
		all = append(all, sess.Instance)
	}
	return all
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionsForUser returns the ids of sessions owned by the user.
func (r *Registry) SessionsForUser(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
	}
	return ids
}
