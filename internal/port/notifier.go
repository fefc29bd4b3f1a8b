package port

import (
	"context"
	"errors"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

var ErrDeliveryRejected = errors.New("delivery rejected")

// RejectedError is returned when the chat platform refuses a notice, e.g. the
// counterparty does not accept direct messages.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "delivery rejected: " + e.Reason
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrDeliveryRejected
}

type Notifier interface {
	// Send delivers a notice and returns a reference to the posted message
	Send(ctx context.Context, target domain.Target, notice domain.Notice) (domain.MessageRef, error)

	// Edit replaces the content of a previously delivered notice
	Edit(ctx context.Context, ref domain.MessageRef, notice domain.Notice) error
}

type ChannelManager interface {
	// CreateChannel opens a restricted channel and returns its id
	CreateChannel(ctx context.Context, spec domain.ChannelSpec) (string, error)

	// DeleteChannel tears a channel down
	DeleteChannel(ctx context.Context, channelID string) error
}
