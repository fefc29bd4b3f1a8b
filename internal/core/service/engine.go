package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/rl1809/vouch-desk/internal/config"
	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/core/eventbus"
	"github.com/rl1809/vouch-desk/internal/metrics"
	"github.com/rl1809/vouch-desk/internal/port"
)

var tracer = otel.Tracer("github.com/rl1809/vouch-desk/internal/core/service")

const persistTimeout = 5 * time.Second

// SettingsSource yields the settings a new workflow captures at creation.
type SettingsSource interface {
	Current() config.Settings
}

// CodeGenerator produces reference codes. Uniqueness is checked by the engine.
type CodeGenerator interface {
	Generate() (string, error)
}

type Deps struct {
	Inventory port.InventoryStore
	Codes     CodeGenerator
	Waiter    *eventbus.Waiter
	Notifier  port.Notifier
	Channels  port.ChannelManager
	Records   port.TransactionRepository
	Settings  SettingsSource
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

type Options struct {
	LockEmoji    string
	DeleteEmoji  string
	TicketWindow time.Duration
	// ProofFilter, if set, must also match a proof message.
	ProofFilter eventbus.Predicate
	// Location is used to display deadlines.
	Location *time.Location
}

// warrantyRun is the engine's record of one transaction. busy is set while a
// goroutine or an operator action owns the transaction.
type warrantyRun struct {
	txn  domain.Transaction
	busy bool
}

// Engine runs warranty and ticket workflows. Each workflow is its own
// goroutine; they share nothing but the inventory store and the bus.
type Engine struct {
	inventory port.InventoryStore
	codes     CodeGenerator
	waiter    *eventbus.Waiter
	notifier  port.Notifier
	channels  port.ChannelManager
	records   port.TransactionRepository
	settings  SettingsSource
	opts      Options
	metrics   *metrics.Metrics
	log       zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	transactions map[string]*warrantyRun
	claimed      map[string]struct{}
	tickets      map[string]*domain.Ticket
	order        []string

	obsMu     sync.RWMutex
	observers map[int]func(domain.Change)
	nextObs   int
}

func NewEngine(deps Deps, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	base, cancel := context.WithCancel(context.Background())

	return &Engine{
		inventory:    deps.Inventory,
		codes:        deps.Codes,
		waiter:       deps.Waiter,
		notifier:     deps.Notifier,
		channels:     deps.Channels,
		records:      deps.Records,
		settings:     deps.Settings,
		opts:         opts,
		metrics:      deps.Metrics,
		log:          deps.Log.With().Str("component", "engine").Logger(),
		base:         base,
		cancel:       cancel,
		transactions: make(map[string]*warrantyRun),
		claimed:      make(map[string]struct{}),
		tickets:      make(map[string]*domain.Ticket),
		observers:    make(map[int]func(domain.Change)),
	}
}

// Subscribe registers fn to receive every record change. fn is called
// synchronously and must not block.
func (e *Engine) Subscribe(fn func(domain.Change)) (unsubscribe func()) {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.obsMu.Unlock()

	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

// Shutdown stops every running workflow without changing its state and
// waits for the goroutines to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

func (e *Engine) launch(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.base)
	}()
}

func (e *Engine) emit(change domain.Change) {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	for _, fn := range e.observers {
		fn(change)
	}
}

// recordTransaction persists and broadcasts a transaction snapshot. The
// repository is an outcome log, so a failure is logged and the workflow
// carries on.
func (e *Engine) recordTransaction(txn domain.Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := e.records.SaveTransaction(ctx, txn); err != nil {
		e.log.Error().Err(err).Str("ref", txn.ReferenceCode).Msg("failed to record transaction")
	}
	e.emit(domain.Change{Kind: domain.ChangeTransaction, Transaction: &txn, At: txn.UpdatedAt})
}

func (e *Engine) recordTicket(ticket domain.Ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := e.records.SaveTicket(ctx, ticket); err != nil {
		e.log.Error().Err(err).Str("ticket", ticket.ID).Msg("failed to record ticket")
	}
	e.emit(domain.Change{Kind: domain.ChangeTicket, Ticket: &ticket, At: time.Now()})
}

// send delivers a notice and counts the outcome.
func (e *Engine) send(ctx context.Context, target domain.Target, notice domain.Notice) (domain.MessageRef, error) {
	ref, err := e.notifier.Send(ctx, target, notice)
	e.metrics.Delivery(string(notice.Kind), deliveryResult(err))
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("send %s notice: %w", notice.Kind, err)
	}
	return ref, nil
}

// edit updates a delivered notice. Edits are cosmetic, so failures are only
// logged.
func (e *Engine) edit(ctx context.Context, ref domain.MessageRef, notice domain.Notice) {
	if ref.IsZero() {
		return
	}
	err := e.notifier.Edit(ctx, ref, notice)
	e.metrics.Delivery(string(notice.Kind)+".edit", deliveryResult(err))
	if err != nil {
		e.log.Warn().Err(err).Str("message", ref.MessageID).Str("kind", string(notice.Kind)).Msg("failed to edit notice")
	}
}

func deliveryResult(err error) string {
	switch {
	case err == nil:
		return "delivered"
	case isRejected(err):
		return "rejected"
	default:
		return "error"
	}
}
