package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/vouch-desk/internal/core/domain"
)

var tracer = otel.Tracer("github.com/rl1809/vouch-desk/internal/adapter/messaging")

const fetchRetryDelay = time.Second

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SignalPublisher is the event bus as seen by the consumer.
type SignalPublisher interface {
	Publish(sig domain.Signal) bool
}

// SignalConsumer feeds chat signals observed by the gateway into the bus.
// Each record is published once and committed afterwards, matched or not.
type SignalConsumer struct {
	reader messageReader
	bus    SignalPublisher
	log    zerolog.Logger
}

func NewSignalConsumer(reader messageReader, bus SignalPublisher, log zerolog.Logger) *SignalConsumer {
	return &SignalConsumer{
		reader: reader,
		bus:    bus,
		log:    log.With().Str("component", "signal_consumer").Logger(),
	}
}

// NewSignalReader builds the kafka reader used in production.
func NewSignalReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// Run consumes until ctx is cancelled, then closes the reader.
func (c *SignalConsumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.Warn().Err(err).Msg("failed to close reader")
		}
	}()

	c.log.Info().Msg("signal consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Info().Msg("signal consumer shutting down")
				return nil
			}
			c.log.Error().Err(err).Msg("could not fetch signal, retrying")
			select {
			case <-time.After(fetchRetryDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit signal")
		}
	}
}

func (c *SignalConsumer) process(parent context.Context, msg kafka.Message) {
	carrier := headerCarrier(msg.Headers)
	ctx := otel.GetTextMapPropagator().Extract(parent, &carrier)
	_, span := tracer.Start(ctx, "signal.consume")
	defer span.End()

	var sig domain.Signal
	if err := json.Unmarshal(msg.Value, &sig); err != nil {
		span.RecordError(err)
		c.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping malformed signal")
		return
	}
	if sig.Kind != domain.SignalMessage && sig.Kind != domain.SignalReaction {
		c.log.Warn().Str("kind", string(sig.Kind)).Int64("offset", msg.Offset).Msg("skipping signal of unknown kind")
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = msg.Time
	}

	matched := c.bus.Publish(sig)
	span.SetAttributes(
		attribute.String("signal.kind", string(sig.Kind)),
		attribute.Bool("signal.matched", matched),
	)
	span.AddEvent("published", trace.WithAttributes(attribute.String("channel", sig.ChannelID)))

	c.log.Debug().
		Str("kind", string(sig.Kind)).
		Str("actor", sig.ActorID).
		Str("channel", sig.ChannelID).
		Bool("matched", matched).
		Msg("signal published")
}
