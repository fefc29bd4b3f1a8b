package eventbus

import (
	"context"
	"time"

	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/metrics"
)

// Forever disables the deadline of a wait.
const Forever time.Duration = -1

type Outcome int

const (
	Matched Outcome = iota + 1
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Await. Signal is set only when Matched.
type Result struct {
	Outcome Outcome
	Signal  domain.Signal
}

// Waiter races a timer against bus delivery.
type Waiter struct {
	bus     *Bus
	metrics *metrics.Metrics
}

func NewWaiter(bus *Bus, m *metrics.Metrics) *Waiter {
	return &Waiter{bus: bus, metrics: m}
}

// Await blocks until a signal matching match is published or timeout
// elapses. Pass Forever to wait without a deadline; any other timeout <= 0
// times out immediately without registering.
//
// The only error is ctx.Err(), returned when ctx ends first. A signal that
// was delivered before the timer or the context won the unregister race is
// still reported as Matched, so exactly one outcome is ever observed.
func (w *Waiter) Await(ctx context.Context, match Predicate, timeout time.Duration) (Result, error) {
	if timeout != Forever && timeout <= 0 {
		w.metrics.WaitResolved(TimedOut.String())
		return Result{Outcome: TimedOut}, nil
	}

	var (
		expired  <-chan time.Time
		deadline time.Time
	)
	if timeout != Forever {
		deadline = time.Now().Add(timeout)
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	pw := w.bus.Register(match, deadline)

	select {
	case sig := <-pw.Result():
		return w.matched(sig), nil
	case <-expired:
		if w.bus.Unregister(pw) {
			w.metrics.WaitResolved(TimedOut.String())
			return Result{Outcome: TimedOut}, nil
		}
		return w.matched(<-pw.Result()), nil
	case <-ctx.Done():
		if w.bus.Unregister(pw) {
			return Result{}, ctx.Err()
		}
		return w.matched(<-pw.Result()), nil
	}
}

// AwaitUntil is Await with an absolute deadline. A zero deadline waits
// forever.
func (w *Waiter) AwaitUntil(ctx context.Context, match Predicate, deadline time.Time) (Result, error) {
	if deadline.IsZero() {
		return w.Await(ctx, match, Forever)
	}
	return w.Await(ctx, match, time.Until(deadline))
}

func (w *Waiter) matched(sig domain.Signal) Result {
	w.metrics.WaitResolved(Matched.String())
	return Result{Outcome: Matched, Signal: sig}
}
