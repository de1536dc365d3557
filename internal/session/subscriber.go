package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/messaging/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ackableMsg is the part of jetstream.Msg the handler uses.
type ackableMsg interface {
	Data() []byte
	Ack() error
	Term() error
}

// Subscribe consumes session invalidation events from JetStream and broadcasts them
// until ctx is cancelled.
func Subscribe(ctx context.Context, js jetstream.JetStream, cfg config.SubscriberConfig, b *Broadcaster, logger *slog.Logger) error {
	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		FilterSubject: cfg.Subject,
		Durable:       cfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", cfg.Consumer, err)
	}
	logger.InfoContext(ctx, "Session invalidation subscriber started", "stream", cfg.Stream, "subject", cfg.Subject)
	return runWorker(ctx, consumer, cfg.Timeout, cfg.Interval, b, logger)
}

func runWorker(ctx context.Context, consumer jetstream.Consumer, timeout, interval time.Duration, b *Broadcaster, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(timeout))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			logger.ErrorContext(ctx, "failed to fetch messages", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			continue
		}
		for msg := range batch.Messages() {
			handleMessage(ctx, msg, b, logger)
		}
	}
}

func handleMessage(ctx context.Context, msg ackableMsg, b *Broadcaster, logger *slog.Logger) {
	if msg == nil {
		return
	}
	var ev events.SessionInvalidatedEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		logger.ErrorContext(ctx, "failed to unmarshal session event", "error", err)
		// a malformed payload will never parse, so it is not redelivered
		if err := msg.Term(); err != nil {
			logger.ErrorContext(ctx, "failed to terminate message", "error", err)
		}
		return
	}
	b.Broadcast(ctx, ev)
	if err := msg.Ack(); err != nil {
		logger.ErrorContext(ctx, "failed to ack message", "error", err)
	}
}
