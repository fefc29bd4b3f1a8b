// Package eventbus correlates external signals with the workflow waits that
// are blocked on them.
//
// A Bus keeps the registered waits in registration order. Publish offers a
// signal to them in that order and resolves at most the first match; the
// resolved wait is removed under the same lock, so one signal can never
// satisfy two waits and a wait can never be satisfied twice. Signals that
// match nothing are dropped. Nothing is buffered for waits registered later.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/metrics"
)

// Predicate decides whether a signal satisfies a wait. Predicates run while
// the bus lock is held; they must not block or call back into the bus.
type Predicate func(domain.Signal) bool

// PendingWait is one registered suspension point. It is single-use.
type PendingWait struct {
	id       string
	match    Predicate
	deadline time.Time
	result   chan domain.Signal
}

func (w *PendingWait) ID() string {
	return w.id
}

// Deadline is zero for waits without a deadline.
func (w *PendingWait) Deadline() time.Time {
	return w.deadline
}

// Result yields the matching signal exactly once, if the wait is matched.
func (w *PendingWait) Result() <-chan domain.Signal {
	return w.result
}

type Bus struct {
	mu      sync.Mutex
	waits   []*PendingWait
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewBus(log zerolog.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		log:     log.With().Str("component", "eventbus").Logger(),
		metrics: m,
	}
}

// Register adds a wait. A zero deadline is informational only; the bus never
// expires waits on its own.
func (b *Bus) Register(match Predicate, deadline time.Time) *PendingWait {
	w := &PendingWait{
		id:       uuid.NewString(),
		match:    match,
		deadline: deadline,
		result:   make(chan domain.Signal, 1),
	}

	b.mu.Lock()
	b.waits = append(b.waits, w)
	b.mu.Unlock()

	b.metrics.WaitRegistered()
	b.log.Debug().Str("wait_id", w.id).Time("deadline", deadline).Msg("wait registered")
	return w
}

// Unregister removes w. It reports whether w was still registered; false
// means the wait was already resolved (by Publish or an earlier Unregister).
func (b *Bus) Unregister(w *PendingWait) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(w)
}

// Publish offers sig to the registered waits and reports whether one of them
// was resolved.
func (b *Bus) Publish(sig domain.Signal) bool {
	b.mu.Lock()
	var matched *PendingWait
	for _, w := range b.waits {
		if w.match(sig) {
			matched = w
			break
		}
	}
	if matched != nil {
		b.removeLocked(matched)
		// Buffered and single-use, so this never blocks.
		matched.result <- sig
	}
	b.mu.Unlock()

	b.metrics.SignalPublished(string(sig.Kind), matched != nil)
	if matched != nil {
		b.log.Debug().
			Str("wait_id", matched.id).
			Str("kind", string(sig.Kind)).
			Str("actor", sig.ActorID).
			Str("channel", sig.ChannelID).
			Msg("signal matched wait")
	}
	return matched != nil
}

// Pending returns the number of registered waits.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waits)
}

func (b *Bus) removeLocked(w *PendingWait) bool {
	for i, candidate := range b.waits {
		if candidate == w {
			copy(b.waits[i:], b.waits[i+1:])
			b.waits[len(b.waits)-1] = nil
			b.waits = b.waits[:len(b.waits)-1]
			b.metrics.WaitRemoved()
			return true
		}
	}
	return false
}
