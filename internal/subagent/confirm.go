// Package subagent provides batch orchestration of nested agent runs:
// confirmation gating, bounded-concurrency scheduling, per-task timeouts,
// and paused-run continuation.
package subagent

import (
	"sync"
	"time"

	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// Decision is the outcome of a pending confirmation. A nil Tasks with
// Approved false is a rejection; Approved with non-nil Tasks replaces the
// proposed batch.
type Decision struct {
	Approved bool
	Tasks    []protocol.SubagentTask
}

type pendingConfirm struct {
	ch    chan Decision
	timer *time.Timer
}

// confirmRegistry holds pending confirmations keyed by correlation token.
// Each token resolves exactly once: explicit resolution or expiry, whichever
// comes first. Late or duplicate resolutions are not found.
type confirmRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingConfirm
}

func newConfirmRegistry() *confirmRegistry {
	return &confirmRegistry{pending: make(map[string]*pendingConfirm)}
}

// add registers a token and returns the channel its decision arrives on.
// After ttl the token expires and the channel receives a rejection.
func (r *confirmRegistry) add(token string, ttl time.Duration) <-chan Decision {
	ch := make(chan Decision, 1)
	p := &pendingConfirm{ch: ch}
	p.timer = time.AfterFunc(ttl, func() {
		r.expire(token)
	})

	r.mu.Lock()
	r.pending[token] = p
	r.mu.Unlock()
	return ch
}

// resolve consumes the token. Unknown, already-consumed, or expired tokens
// fail with CONFIRMATION_NOT_FOUND.
func (r *confirmRegistry) resolve(token string, decision Decision) error {
	r.mu.Lock()
	p, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	r.mu.Unlock()
	if !ok {
		return errors.Permanent(errors.CodeConfirmNotFound,
			"confirmation token is unknown, expired, or already resolved")
	}

	p.timer.Stop()
	p.ch <- decision
	return nil
}

func (r *confirmRegistry) expire(token string) {
	r.mu.Lock()
	p, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	r.mu.Unlock()
	if ok {
		p.ch <- Decision{}
	}
}

// drop removes a token without delivering a decision. Used when the waiting
// turn is cancelled.
func (r *confirmRegistry) drop(token string) {
	r.mu.Lock()
	p, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
	}
	r.mu.Unlock()
	if ok {
		p.timer.Stop()
	}
}
