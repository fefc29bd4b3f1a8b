package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

func newTestBus() *Bus {
	return NewBus(zerolog.Nop(), nil)
}

func message(actor, channel string) domain.Signal {
	return domain.Signal{
		Kind:      domain.SignalMessage,
		ActorID:   actor,
		ChannelID: channel,
		Timestamp: time.Now(),
	}
}

func TestPublish_ResolvesFirstMatchingWaitOnly(t *testing.T) {
	bus := newTestBus()
	always := func(domain.Signal) bool { return true }

	first := bus.Register(always, time.Time{})
	second := bus.Register(always, time.Time{})

	if !bus.Publish(message("u1", "c1")) {
		t.Fatal("expected a wait to be resolved")
	}

	select {
	case <-first.Result():
	default:
		t.Fatal("expected first registered wait to receive the signal")
	}
	select {
	case <-second.Result():
		t.Fatal("second wait must not receive the same signal")
	default:
	}

	if bus.Pending() != 1 {
		t.Errorf("expected 1 pending wait, got %d", bus.Pending())
	}
}

func TestPublish_NoMatchIsDiscarded(t *testing.T) {
	bus := newTestBus()
	w := bus.Register(FromActor("someone-else"), time.Time{})

	if bus.Publish(message("u1", "c1")) {
		t.Error("expected signal to be discarded")
	}
	select {
	case <-w.Result():
		t.Error("non-matching wait resolved")
	default:
	}
}

func TestPublish_NoRetroactiveMatching(t *testing.T) {
	bus := newTestBus()

	bus.Publish(message("u1", "c1"))
	w := bus.Register(FromActor("u1"), time.Time{})

	select {
	case <-w.Result():
		t.Error("wait registered after publish must not see the earlier signal")
	default:
	}
}

func TestPublish_SecondMatchingSignalIsNoop(t *testing.T) {
	bus := newTestBus()
	w := bus.Register(FromActor("u1"), time.Time{})

	first := message("u1", "c1")
	first.ID = "m-1"
	second := message("u1", "c1")
	second.ID = "m-2"

	bus.Publish(first)
	if bus.Publish(second) {
		t.Error("second signal must not resolve an already resolved wait")
	}

	got := <-w.Result()
	if got.ID != "m-1" {
		t.Errorf("expected first signal, got %s", got.ID)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	bus := newTestBus()
	w := bus.Register(FromActor("u1"), time.Time{})

	if !bus.Unregister(w) {
		t.Error("expected first unregister to remove the wait")
	}
	if bus.Unregister(w) {
		t.Error("expected second unregister to be a no-op")
	}
	if bus.Publish(message("u1", "c1")) {
		t.Error("unregistered wait must not be resolved")
	}
}

func TestPublish_RegistrationOrder(t *testing.T) {
	bus := newTestBus()
	always := func(domain.Signal) bool { return true }

	waits := make([]*PendingWait, 5)
	for i := range waits {
		waits[i] = bus.Register(always, time.Time{})
	}

	for i := range waits {
		bus.Publish(message("u1", "c1"))
		select {
		case <-waits[i].Result():
		default:
			t.Fatalf("expected wait %d to be resolved in registration order", i)
		}
	}
}

func TestPublish_ConcurrentAtMostOnce(t *testing.T) {
	bus := newTestBus()
	totalWaits := 50
	totalSignals := 200

	waits := make([]*PendingWait, totalWaits)
	for i := range waits {
		waits[i] = bus.Register(OfKind(domain.SignalMessage), time.Time{})
	}

	var matched atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalSignals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bus.Publish(message("u1", "c1")) {
				matched.Add(1)
			}
		}()
	}
	wg.Wait()

	if matched.Load() != int32(totalWaits) {
		t.Errorf("expected %d matches, got %d", totalWaits, matched.Load())
	}
	for i, w := range waits {
		if len(w.Result()) != 1 {
			t.Errorf("wait %d received %d signals", i, len(w.Result()))
		}
	}
	if bus.Pending() != 0 {
		t.Errorf("expected no pending waits, got %d", bus.Pending())
	}
}
