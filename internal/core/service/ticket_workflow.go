package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/core/eventbus"
)

const workflowTicket = "ticket"

type TicketRequest struct {
	Item      string `json:"item"`
	Initiator string `json:"initiator"`
}

// OpenTicket creates a restricted channel for a purchase and watches it for
// the delete reaction. The item must be in stock but nothing is reserved.
func (e *Engine) OpenTicket(ctx context.Context, req TicketRequest) (domain.Ticket, error) {
	ctx, span := tracer.Start(ctx, "ticket.open", trace.WithAttributes(
		attribute.String("item", req.Item),
		attribute.String("initiator", req.Initiator),
	))
	defer span.End()

	if strings.TrimSpace(req.Item) == "" {
		return domain.Ticket{}, validationError("item", "is required")
	}
	if strings.TrimSpace(req.Initiator) == "" {
		return domain.Ticket{}, validationError("initiator", "is required")
	}

	item, err := e.inventory.Get(ctx, req.Item)
	if err != nil {
		return domain.Ticket{}, err
	}
	if !item.InStock() {
		return domain.Ticket{}, fmt.Errorf("%w: %s", ErrOutOfStock, item.Name)
	}

	settings := e.settings.Current()
	spec := domain.ChannelSpec{
		Name:       TicketChannelName(req.Initiator, req.Item),
		CategoryID: settings.TicketCategory,
		Members:    []string{req.Initiator},
	}
	if settings.SupervisorRole != "" {
		spec.Roles = []string{settings.SupervisorRole}
	}

	channelID, err := e.channels.CreateChannel(ctx, spec)
	if err != nil {
		span.RecordError(err)
		return domain.Ticket{}, fmt.Errorf("create ticket channel: %w", err)
	}

	now := time.Now()
	ticket := domain.Ticket{
		ID:          uuid.NewString(),
		ItemName:    req.Item,
		Initiator:   req.Initiator,
		ChannelID:   channelID,
		State:       domain.TicketOpen,
		DeleteEmoji: e.opts.DeleteEmoji,
		OpenedAt:    now,
		Deadline:    now.Add(e.opts.TicketWindow),
		Watching:    true,
	}

	ticket.Notice, err = e.send(ctx, domain.ChannelTarget(channelID), ticketWelcomeNotice(ticket, settings.SupervisorRole))
	if err != nil {
		// Without the notice there is nothing to react to.
		if derr := e.channels.DeleteChannel(ctx, channelID); derr != nil {
			e.log.Error().Err(derr).Str("channel", channelID).Msg("failed to remove orphaned ticket channel")
		}
		return domain.Ticket{}, err
	}

	e.mu.Lock()
	stored := ticket
	e.tickets[ticket.ID] = &stored
	e.mu.Unlock()

	e.log.Info().
		Str("ticket", ticket.ID).
		Str("channel", channelID).
		Str("item", ticket.ItemName).
		Str("initiator", ticket.Initiator).
		Msg("ticket opened")
	e.metrics.Transition(workflowTicket, string(domain.TicketOpen))
	e.recordTicket(ticket)

	predicate := ticketClosePredicate(ticket, settings.SupervisorRole)
	e.launch(func(ctx context.Context) { e.watchTicket(ctx, ticket.ID, predicate) })
	return ticket, nil
}

func ticketClosePredicate(ticket domain.Ticket, supervisorRole string) eventbus.Predicate {
	closers := []eventbus.Predicate{eventbus.FromActor(ticket.Initiator)}
	if supervisorRole != "" {
		closers = append(closers, eventbus.WithRole(supervisorRole))
	}

	return eventbus.All(
		eventbus.OfKind(domain.SignalReaction),
		eventbus.WithEmoji(ticket.DeleteEmoji),
		eventbus.InChannel(ticket.ChannelID),
		eventbus.OnMessage(ticket.Notice.MessageID),
		eventbus.Any(closers...),
	)
}

// watchTicket tears the channel down on a matching reaction. When the
// deadline passes first it only stops watching and leaves the channel open.
func (e *Engine) watchTicket(ctx context.Context, id string, match eventbus.Predicate) {
	e.mu.RLock()
	deadline := e.tickets[id].Deadline
	channelID := e.tickets[id].ChannelID
	e.mu.RUnlock()

	ctx, span := tracer.Start(ctx, "ticket.watch", trace.WithAttributes(attribute.String("ticket", id)))
	defer span.End()

	res, err := e.waiter.AwaitUntil(ctx, match, deadline)
	if err != nil {
		e.log.Info().Str("ticket", id).Msg("stopped watching ticket")
		return
	}

	if res.Outcome == eventbus.TimedOut {
		ticket := e.updateTicket(id, func(t *domain.Ticket) {
			t.Watching = false
		})
		e.log.Info().Str("ticket", id).Str("channel", ticket.ChannelID).Msg("ticket deadline passed, channel left open")
		return
	}

	if err := e.channels.DeleteChannel(ctx, channelID); err != nil {
		span.RecordError(err)
		e.log.Error().Err(err).Str("ticket", id).Str("channel", channelID).Msg("failed to delete ticket channel")
	}

	e.updateTicket(id, func(t *domain.Ticket) {
		t.State = domain.TicketClosed
		t.ClosedAt = time.Now()
		t.ClosedBy = res.Signal.ActorID
		t.Watching = false
	})
	e.metrics.Transition(workflowTicket, string(domain.TicketClosed))
	e.log.Info().Str("ticket", id).Str("closed_by", res.Signal.ActorID).Msg("ticket closed")
}

func (e *Engine) updateTicket(id string, fn func(t *domain.Ticket)) domain.Ticket {
	e.mu.Lock()
	t := e.tickets[id]
	fn(t)
	ticket := *t
	e.mu.Unlock()

	e.recordTicket(ticket)
	return ticket
}

// Ticket returns the current record of a ticket.
func (e *Engine) Ticket(id string) (domain.Ticket, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tickets[id]
	if !ok {
		return domain.Ticket{}, ErrTicketNotFound
	}
	return *t, nil
}
