package messaging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

// LogNotifier writes notices and channel operations to the log. It backs
// local runs where no gateway is connected.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "log_notifier").Logger()}
}

func (n *LogNotifier) Send(ctx context.Context, target domain.Target, notice domain.Notice) (domain.MessageRef, error) {
	ref := domain.MessageRef{ChannelID: target.ID, MessageID: uuid.NewString()}
	n.log.Info().
		Str("target_kind", string(target.Kind)).
		Str("target", target.ID).
		Str("message", ref.MessageID).
		Str("kind", string(notice.Kind)).
		Str("status", string(notice.Status)).
		Str("title", notice.Title).
		Msg(notice.Body)
	return ref, nil
}

func (n *LogNotifier) Edit(ctx context.Context, ref domain.MessageRef, notice domain.Notice) error {
	n.log.Info().
		Str("message", ref.MessageID).
		Str("kind", string(notice.Kind)).
		Str("status", string(notice.Status)).
		Msg("notice edited")
	return nil
}

func (n *LogNotifier) CreateChannel(ctx context.Context, spec domain.ChannelSpec) (string, error) {
	id := uuid.NewString()
	n.log.Info().Str("channel", id).Str("name", spec.Name).Strs("members", spec.Members).Msg("channel created")
	return id, nil
}

func (n *LogNotifier) DeleteChannel(ctx context.Context, channelID string) error {
	n.log.Info().Str("channel", channelID).Msg("channel deleted")
	return nil
}
