package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/vouch-desk/internal/config"
	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/core/eventbus"
	"github.com/rl1809/vouch-desk/internal/port"
)

const (
	workflowWarranty  = "warranty"
	autoVoidVerifier  = "Automatically Voided"
	maxCodeCollisions = 5
)

// WarrantyRequest is what an operator supplies to start a transaction.
// Quantity is kept as text so that non-numeric input is rejected here rather
// than coerced by a caller.
type WarrantyRequest struct {
	Item         string `json:"item"`
	Quantity     string `json:"quantity"`
	Counterparty string `json:"counterparty"`
	Initiator    string `json:"initiator"`
	// Links is an optional whitespace-separated activation payload.
	Links string `json:"links"`
}

func (r WarrantyRequest) validate() (int, error) {
	if strings.TrimSpace(r.Item) == "" {
		return 0, validationError("item", "is required")
	}
	if strings.TrimSpace(r.Counterparty) == "" {
		return 0, validationError("counterparty", "is required")
	}
	if strings.TrimSpace(r.Initiator) == "" {
		return 0, validationError("initiator", "is required")
	}
	return parseQuantity(r.Quantity)
}

// parseQuantity accepts only a plain run of decimal digits.
func parseQuantity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, validationError("quantity", "is required")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, validationError("quantity", "must be a number")
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, validationError("quantity", "is out of range")
	}
	if n <= 0 {
		return 0, validationError("quantity", "must be positive")
	}
	return n, nil
}

// StartWarranty reserves stock and starts a warranty transaction. Stock and
// validation errors leave no transaction behind and nothing reserved. When
// the activation notice is rejected the transaction is returned stalled
// together with the error.
func (e *Engine) StartWarranty(ctx context.Context, req WarrantyRequest) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "warranty.start", trace.WithAttributes(
		attribute.String("item", req.Item),
		attribute.String("counterparty", req.Counterparty),
	))
	defer span.End()

	quantity, err := req.validate()
	if err != nil {
		return domain.Transaction{}, err
	}
	settings := e.settings.Current()
	if err := requireWarrantySettings(settings); err != nil {
		return domain.Transaction{}, err
	}

	// The code is claimed first so that nothing can fail between a
	// successful reservation and the transaction record.
	code, err := e.claimCode()
	if err != nil {
		span.RecordError(err)
		return domain.Transaction{}, err
	}

	if err := e.inventory.Reserve(ctx, req.Item, quantity); err != nil {
		e.unclaimCode(code)
		e.metrics.Reservation(reservationResult(err))
		span.RecordError(err)
		return domain.Transaction{}, err
	}
	e.metrics.Reservation("ok")

	now := time.Now()
	txn := domain.Transaction{
		ReferenceCode: code,
		ItemName:      req.Item,
		Quantity:      quantity,
		Initiator:     req.Initiator,
		Counterparty:  req.Counterparty,
		Links:         strings.Fields(req.Links),
		State:         domain.StateCreated,
		Terms: domain.Terms{
			ProofWindow:    settings.ProofWindow,
			InboundChannel: settings.InboundChannel,
			ReviewChannel:  settings.ReviewChannel,
			SupervisorRole: settings.SupervisorRole,
			LockEmoji:      e.opts.LockEmoji,
		},
		CreatedAt: now,
		UpdatedAt: now,
		Deadline:  now.Add(settings.ProofWindow),
	}

	txn = e.insertTransaction(txn)
	span.SetAttributes(attribute.String("ref", txn.ReferenceCode))

	e.log.Info().
		Str("ref", txn.ReferenceCode).
		Str("item", txn.ItemName).
		Int("quantity", txn.Quantity).
		Str("counterparty", txn.Counterparty).
		Time("deadline", txn.Deadline).
		Msg("warranty transaction created")
	e.metrics.Transition(workflowWarranty, string(domain.StateCreated))
	e.recordTransaction(txn)

	if txn, err = e.deliverActivation(ctx, txn.ReferenceCode); err != nil {
		e.release(code)
		return txn, err
	}

	e.launch(func(ctx context.Context) { e.awaitProof(ctx, txn.ReferenceCode) })
	return txn, nil
}

// requireWarrantySettings rejects a start that could never finish: proof is
// matched on the inbound channel, review goes to the review channel and only
// the supervising role can acknowledge.
func requireWarrantySettings(s config.Settings) error {
	switch {
	case strings.TrimSpace(s.InboundChannel) == "":
		return validationError("inbound_channel", "is not configured")
	case strings.TrimSpace(s.ReviewChannel) == "":
		return validationError("review_channel", "is not configured")
	case strings.TrimSpace(s.SupervisorRole) == "":
		return validationError("supervisor_role", "is not configured")
	}
	return nil
}

// claimCode picks a reference code that no transaction uses and no other
// start has claimed.
func (e *Engine) claimCode() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < maxCodeCollisions; i++ {
		code, err := e.codes.Generate()
		if err != nil {
			return "", fmt.Errorf("generate reference code: %w", err)
		}
		if _, taken := e.transactions[code]; taken {
			continue
		}
		if _, taken := e.claimed[code]; taken {
			continue
		}
		e.claimed[code] = struct{}{}
		return code, nil
	}
	return "", errors.New("generate reference code: too many collisions")
}

func (e *Engine) unclaimCode(code string) {
	e.mu.Lock()
	delete(e.claimed, code)
	e.mu.Unlock()
}

// insertTransaction stores txn under its claimed code. The caller owns the
// run until it launches a workflow goroutine or calls release.
func (e *Engine) insertTransaction(txn domain.Transaction) domain.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.claimed, txn.ReferenceCode)
	e.transactions[txn.ReferenceCode] = &warrantyRun{txn: txn, busy: true}
	e.order = append(e.order, txn.ReferenceCode)
	return txn.Clone()
}

// mutate applies fn to the live record under the lock, then records the
// resulting snapshot.
func (e *Engine) mutate(ref string, fn func(run *warrantyRun) error) (domain.Transaction, error) {
	e.mu.Lock()
	run, ok := e.transactions[ref]
	if !ok {
		e.mu.Unlock()
		return domain.Transaction{}, ErrTransactionNotFound
	}
	before := run.txn.State
	if err := fn(run); err != nil {
		e.mu.Unlock()
		return domain.Transaction{}, err
	}
	run.txn.UpdatedAt = time.Now()
	txn := run.txn.Clone()
	e.mu.Unlock()

	if txn.State != before {
		e.metrics.Transition(workflowWarranty, string(txn.State))
		e.log.Info().
			Str("ref", ref).
			Str("from", string(before)).
			Str("to", string(txn.State)).
			Msg("warranty transition")
	}
	e.recordTransaction(txn)
	return txn, nil
}

func (e *Engine) transition(ref string, to domain.TransactionState, fn func(txn *domain.Transaction)) (domain.Transaction, error) {
	return e.mutate(ref, func(run *warrantyRun) error {
		if fn != nil {
			fn(&run.txn)
		}
		return run.txn.Transition(to, time.Now())
	})
}

// stall parks the transaction in its current state until an operator acts.
// It leaves busy alone: whoever owns the run releases it once it is done.
func (e *Engine) stall(ref string, cause error) (domain.Transaction, error) {
	txn, err := e.mutate(ref, func(run *warrantyRun) error {
		run.txn.Stalled = true
		run.txn.LastError = cause.Error()
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	e.log.Warn().Err(cause).Str("ref", ref).Str("state", string(txn.State)).Msg("warranty transaction stalled")
	return txn, cause
}

func (e *Engine) release(ref string) {
	e.mu.Lock()
	if run, ok := e.transactions[ref]; ok {
		run.busy = false
	}
	e.mu.Unlock()
}

func (e *Engine) snapshot(ref string) (domain.Transaction, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.transactions[ref]
	if !ok {
		return domain.Transaction{}, false
	}
	return run.txn.Clone(), true
}

// deliverActivation sends whichever of the activation and status notices
// has not been delivered yet, then moves the transaction to AwaitingProof.
func (e *Engine) deliverActivation(ctx context.Context, ref string) (domain.Transaction, error) {
	txn, ok := e.snapshot(ref)
	if !ok {
		return domain.Transaction{}, ErrTransactionNotFound
	}

	if txn.ActivationNotice.IsZero() {
		msg, err := e.send(ctx, domain.UserTarget(txn.Counterparty), activationNotice(txn))
		if err != nil {
			return e.stall(ref, err)
		}
		if txn, err = e.mutate(ref, func(run *warrantyRun) error {
			run.txn.ActivationNotice = msg
			return nil
		}); err != nil {
			return txn, err
		}
	}

	if txn.StatusNotice.IsZero() && txn.Terms.ReviewChannel != "" {
		msg, err := e.send(ctx, domain.ChannelTarget(txn.Terms.ReviewChannel), statusNotice(txn, domain.StatusPending, e.opts.Location))
		if err != nil {
			return e.stall(ref, err)
		}
		if _, err = e.mutate(ref, func(run *warrantyRun) error {
			run.txn.StatusNotice = msg
			return nil
		}); err != nil {
			return domain.Transaction{}, err
		}
	}

	return e.transition(ref, domain.StateAwaitingProof, func(txn *domain.Transaction) {
		txn.Stalled = false
		txn.LastError = ""
	})
}

func (e *Engine) proofPredicate(txn domain.Transaction) eventbus.Predicate {
	preds := []eventbus.Predicate{
		eventbus.OfKind(domain.SignalMessage),
		eventbus.FromActor(txn.Counterparty),
		eventbus.InChannel(txn.Terms.InboundChannel),
		eventbus.WithImage(),
	}
	if e.opts.ProofFilter != nil {
		preds = append(preds, e.opts.ProofFilter)
	}
	return eventbus.All(preds...)
}

func acknowledgmentPredicate(txn domain.Transaction) eventbus.Predicate {
	return eventbus.All(
		eventbus.OfKind(domain.SignalReaction),
		eventbus.WithEmoji(txn.Terms.LockEmoji),
		eventbus.OnMessage(txn.ReviewNotice.MessageID),
		eventbus.WithRole(txn.Terms.SupervisorRole),
	)
}

func (e *Engine) awaitProof(ctx context.Context, ref string) {
	defer e.release(ref)

	txn, ok := e.snapshot(ref)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "warranty.await_proof", trace.WithAttributes(attribute.String("ref", ref)))
	res, err := e.waiter.AwaitUntil(ctx, e.proofPredicate(txn), txn.Deadline)
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	span.End()
	if err != nil {
		e.log.Info().Str("ref", ref).Msg("stopped waiting for proof")
		return
	}

	if res.Outcome == eventbus.TimedOut {
		e.void(ctx, ref, autoVoidVerifier)
		return
	}

	txn, err = e.transition(ref, domain.StateAwaitingAcknowledgment, func(txn *domain.Transaction) {
		txn.ProofLink = res.Signal.Link
	})
	if err != nil {
		e.log.Error().Err(err).Str("ref", ref).Msg("failed to record proof")
		return
	}
	e.edit(ctx, txn.StatusNotice, statusNotice(txn, domain.StatusReview, e.opts.Location))

	if _, err := e.requestReview(ctx, ref); err != nil {
		return
	}
	e.awaitAcknowledgment(ctx, ref)
}

// requestReview posts the review notice carrying the lock affordance.
func (e *Engine) requestReview(ctx context.Context, ref string) (domain.Transaction, error) {
	txn, ok := e.snapshot(ref)
	if !ok {
		return domain.Transaction{}, ErrTransactionNotFound
	}

	msg, err := e.send(ctx, domain.ChannelTarget(txn.Terms.ReviewChannel), reviewNotice(txn))
	if err != nil {
		return e.stall(ref, err)
	}

	return e.mutate(ref, func(run *warrantyRun) error {
		run.txn.ReviewNotice = msg
		run.txn.Stalled = false
		run.txn.LastError = ""
		return nil
	})
}

// awaitAcknowledgment waits without a deadline for a supervisor's lock
// reaction on the review notice.
func (e *Engine) awaitAcknowledgment(ctx context.Context, ref string) {
	txn, ok := e.snapshot(ref)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "warranty.await_acknowledgment", trace.WithAttributes(attribute.String("ref", ref)))
	res, err := e.waiter.Await(ctx, acknowledgmentPredicate(txn), eventbus.Forever)
	span.End()
	if err != nil {
		e.log.Info().Str("ref", ref).Msg("stopped waiting for acknowledgment")
		return
	}

	e.activate(ctx, ref, res.Signal.ActorID)
}

func (e *Engine) activate(ctx context.Context, ref, actor string) {
	txn, err := e.transition(ref, domain.StateActivated, func(txn *domain.Transaction) {
		txn.AcknowledgedBy = actor
		txn.Stalled = false
		txn.LastError = ""
	})
	if err != nil {
		e.log.Error().Err(err).Str("ref", ref).Msg("failed to activate warranty")
		return
	}

	e.edit(ctx, txn.StatusNotice, statusNotice(txn, domain.StatusSuccess, e.opts.Location))
	if !txn.ReviewNotice.IsZero() {
		e.edit(ctx, txn.ReviewNotice, activatedNotice(txn))
	} else if _, err := e.send(ctx, domain.ChannelTarget(txn.Terms.ReviewChannel), activatedNotice(txn)); err != nil {
		e.log.Warn().Err(err).Str("ref", ref).Msg("failed to send activation confirmation")
	}
}

// void finalizes the transaction as failed. Reserved stock is not restored.
func (e *Engine) void(ctx context.Context, ref, verifier string) {
	txn, err := e.transition(ref, domain.StateVoided, func(txn *domain.Transaction) {
		txn.Stalled = false
		txn.LastError = ""
	})
	if err != nil {
		e.log.Error().Err(err).Str("ref", ref).Msg("failed to void warranty")
		return
	}

	if _, err := e.send(ctx, domain.ChannelTarget(txn.Terms.ReviewChannel), voidedNotice(txn, verifier)); err != nil {
		e.log.Warn().Err(err).Str("ref", ref).Msg("failed to send void notice")
	}
	e.edit(ctx, txn.StatusNotice, statusNotice(txn, domain.StatusFailure, e.opts.Location))
}

// claimStalled marks a stalled transaction busy so that only one operator
// action runs at a time.
func (e *Engine) claimStalled(ref string) (domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, ok := e.transactions[ref]
	if !ok {
		return domain.Transaction{}, ErrTransactionNotFound
	}
	if !run.txn.Stalled || run.busy {
		return domain.Transaction{}, ErrNotStalled
	}
	run.busy = true
	return run.txn.Clone(), nil
}

// Retry re-sends the notice that stalled the transaction and resumes its
// workflow. A transaction stalled before the proof stage gets a fresh
// proof window.
func (e *Engine) Retry(ctx context.Context, ref string) (domain.Transaction, error) {
	txn, err := e.claimStalled(ref)
	if err != nil {
		return domain.Transaction{}, err
	}

	switch txn.State {
	case domain.StateCreated:
		if _, err := e.mutate(ref, func(run *warrantyRun) error {
			run.txn.Deadline = time.Now().Add(run.txn.Terms.ProofWindow)
			return nil
		}); err != nil {
			e.release(ref)
			return domain.Transaction{}, err
		}
		if txn, err = e.deliverActivation(ctx, ref); err != nil {
			e.release(ref)
			return txn, err
		}
		e.launch(func(ctx context.Context) { e.awaitProof(ctx, ref) })

	case domain.StateAwaitingAcknowledgment:
		if txn, err = e.requestReview(ctx, ref); err != nil {
			e.release(ref)
			return txn, err
		}
		e.launch(func(ctx context.Context) {
			defer e.release(ref)
			e.awaitAcknowledgment(ctx, ref)
		})

	default:
		e.release(ref)
		return txn, ErrNotStalled
	}

	e.log.Info().Str("ref", ref).Str("state", string(txn.State)).Msg("stalled transaction resumed")
	return txn, nil
}

// Resolve finalizes a stalled transaction by hand. to must be Activated or
// Voided and reachable from the current state.
func (e *Engine) Resolve(ctx context.Context, ref string, to domain.TransactionState, actor string) (domain.Transaction, error) {
	if to != domain.StateActivated && to != domain.StateVoided {
		return domain.Transaction{}, validationError("state", "must be ACTIVATED or VOIDED")
	}
	if strings.TrimSpace(actor) == "" {
		return domain.Transaction{}, validationError("actor", "is required")
	}

	txn, err := e.claimStalled(ref)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer e.release(ref)

	if !txn.State.CanTransition(to) {
		return txn, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, txn.State, to)
	}

	e.log.Info().Str("ref", ref).Str("to", string(to)).Str("actor", actor).Msg("resolving stalled transaction")
	if to == domain.StateActivated {
		e.activate(ctx, ref, actor)
	} else {
		e.void(ctx, ref, actor)
	}

	txn, _ = e.snapshot(ref)
	return txn, nil
}

// Transaction returns the current record of a transaction.
func (e *Engine) Transaction(ref string) (domain.Transaction, error) {
	txn, ok := e.snapshot(ref)
	if !ok {
		return domain.Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

// Transactions lists every transaction in creation order.
func (e *Engine) Transactions() []domain.Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(e.order))
	for _, ref := range e.order {
		out = append(out, e.transactions[ref].txn.Clone())
	}
	return out
}

func reservationResult(err error) string {
	switch {
	case errors.Is(err, port.ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, port.ErrItemNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func isRejected(err error) bool {
	return errors.Is(err, port.ErrDeliveryRejected)
}
