package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/port"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Op names the instruction an envelope carries to the chat gateway.
type Op string

const (
	OpSend          Op = "notice.send"
	OpEdit          Op = "notice.edit"
	OpCreateChannel Op = "channel.create"
	OpDeleteChannel Op = "channel.delete"
)

// Envelope is the record written to the notice topic. Message and channel
// ids are minted here; the gateway maps them to platform ids.
type Envelope struct {
	Op        Op                  `json:"op"`
	Ref       domain.MessageRef   `json:"ref,omitempty"`
	Target    *domain.Target      `json:"target,omitempty"`
	Notice    *domain.Notice      `json:"notice,omitempty"`
	Channel   *domain.ChannelSpec `json:"channel,omitempty"`
	ChannelID string              `json:"channelId,omitempty"`
	SentAt    time.Time           `json:"sentAt"`
}

// KafkaNotifier hands notices and channel operations to the gateway. A
// notice counts as delivered once the gateway topic accepted it.
type KafkaNotifier struct {
	writer messageWriter
	log    zerolog.Logger
}

func NewKafkaNotifier(writer messageWriter, log zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: writer,
		log:    log.With().Str("component", "kafka_notifier").Logger(),
	}
}

func NewNoticeWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func (n *KafkaNotifier) Send(ctx context.Context, target domain.Target, notice domain.Notice) (domain.MessageRef, error) {
	ref := domain.MessageRef{ChannelID: target.ID, MessageID: uuid.NewString()}
	env := Envelope{Op: OpSend, Ref: ref, Target: &target, Notice: &notice}

	if err := n.produce(ctx, target.ID, env); err != nil {
		return domain.MessageRef{}, &port.RejectedError{Reason: err.Error()}
	}
	return ref, nil
}

func (n *KafkaNotifier) Edit(ctx context.Context, ref domain.MessageRef, notice domain.Notice) error {
	return n.produce(ctx, ref.ChannelID, Envelope{Op: OpEdit, Ref: ref, Notice: &notice})
}

func (n *KafkaNotifier) CreateChannel(ctx context.Context, spec domain.ChannelSpec) (string, error) {
	id := uuid.NewString()
	if err := n.produce(ctx, id, Envelope{Op: OpCreateChannel, Channel: &spec, ChannelID: id}); err != nil {
		return "", err
	}
	return id, nil
}

func (n *KafkaNotifier) DeleteChannel(ctx context.Context, channelID string) error {
	return n.produce(ctx, channelID, Envelope{Op: OpDeleteChannel, ChannelID: channelID})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func (n *KafkaNotifier) produce(ctx context.Context, key string, env Envelope) error {
	env.SentAt = time.Now()
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", env.Op, err)
	}

	var headers headerCarrier
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	msg := kafka.Message{Key: []byte(key), Value: value, Headers: headers}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.log.Error().Err(err).Str("op", string(env.Op)).Str("key", key).Msg("failed to produce envelope")
		return fmt.Errorf("produce %s: %w", env.Op, err)
	}
	return nil
}
