package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic in a consumer group and commits each message after its handler succeeds.
// A failing handler is retried in place before Consume gives up, so one slow dependency does not
// restart the whole group.
type Consumer struct {
	r            messageReader
	retries      uint64
	retryInitial time.Duration
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.FirstOffset,
		MaxWait:           time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, retries: 3, retryInitial: 200 * time.Millisecond}
}

// WithRetry sets how many extra handler attempts a message gets and the first backoff interval.
func (c *Consumer) WithRetry(retries uint64, initial time.Duration) *Consumer {
	c.retries = retries
	if initial > 0 {
		c.retryInitial = initial
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := c.handle(ctx, msg, handler); err != nil {
			// Без коммита: сообщение придёт снова после рестарта консьюмера.
			return errors.Wrapf(err, "handle %s[%d]@%d", msg.Topic, msg.Partition, msg.Offset)
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler func(ctx context.Context, key, value []byte) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return handler(ctx, msg.Key, msg.Value)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.retries), ctx), func(err error, wait time.Duration) {
		slog.Warn("kafka handler failed, retrying",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"wait", wait.String(), "error", err.Error())
	})
}
