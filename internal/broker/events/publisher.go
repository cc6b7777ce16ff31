package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/CourierSync/internal/broker/messages"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Publisher emits order status events. Publishing is best-effort: the status write already
// happened, so failures are logged after retries.
type Publisher struct {
	producer Producer
	topic    string
	maxWait  time.Duration
}

func NewPublisher(p Producer, topic string) *Publisher {
	return &Publisher{producer: p, topic: topic, maxWait: 3 * time.Second}
}

func (p *Publisher) WithMaxWait(d time.Duration) *Publisher {
	if d > 0 {
		p.maxWait = d
	}
	return p
}

// StatusChanged publishes c when it changed something. A nil Publisher is a no-op.
func (p *Publisher) StatusChanged(ctx context.Context, c models.StatusChange, source string, courierCode, trackingID *string) {
	if p == nil || p.producer == nil || !c.Changed() {
		return
	}
	msg := messages.OrderStatusChanged{
		OrderID:     c.OrderID,
		OrderNumber: c.OrderNumber,
		From:        string(c.From),
		To:          string(c.To),
		Source:      source,
		Reason:      c.Reason,
		TrackingID:  trackingID,
		CourierCode: courierCode,
		ChangedAt:   c.At,
	}
	if err := p.publish(ctx, []byte(c.OrderID), msg); err != nil {
		slog.Error("publish order status", "order_id", c.OrderID, "to", c.To, "error", err.Error())
	}
}

func (p *Publisher) publish(ctx context.Context, key []byte, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka может быть не готова сразу после старта: короткий экспоненциальный retry.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 150 * time.Millisecond
	bo.MaxElapsedTime = p.maxWait
	return backoff.Retry(func() error {
		return p.producer.Publish(ctx, p.topic, key, b)
	}, backoff.WithContext(bo, ctx))
}
