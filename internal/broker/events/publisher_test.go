package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/CourierSync/internal/broker/messages"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu    sync.Mutex
	fails int
	calls int
	topic string
	key   []byte
	value []byte
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fails {
		return errors.New("leader not available")
	}
	p.topic, p.key, p.value = topic, key, value
	return nil
}

func TestPublisher_StatusChangedRetries(t *testing.T) {
	fp := &fakeProducer{fails: 2}
	p := NewPublisher(fp, "order.status.changed")

	p.StatusChanged(context.Background(), models.StatusChange{
		OrderID: "o1", OrderNumber: "1001",
		From: models.OrderStatusDispatched, To: models.OrderStatusDelivered,
		At: time.Now().UTC(),
	}, "tracking", nil, nil)

	require.Equal(t, 3, fp.calls)
	require.Equal(t, "order.status.changed", fp.topic)
	require.Equal(t, []byte("o1"), fp.key)

	var msg messages.OrderStatusChanged
	require.NoError(t, json.Unmarshal(fp.value, &msg))
	require.Equal(t, "delivered", msg.To)
	require.Equal(t, "tracking", msg.Source)
}

func TestPublisher_SkipsNoChangeAndNil(t *testing.T) {
	fp := &fakeProducer{}
	NewPublisher(fp, "t").StatusChanged(context.Background(), models.StatusChange{
		From: models.OrderStatusBooked, To: models.OrderStatusBooked,
	}, "booking", nil, nil)
	require.Zero(t, fp.calls)

	var p *Publisher
	p.StatusChanged(context.Background(), models.StatusChange{From: "a", To: "b"}, "x", nil, nil)
}

func TestPublisher_GivesUp(t *testing.T) {
	fp := &fakeProducer{fails: 1 << 20}
	p := NewPublisher(fp, "t").WithMaxWait(300 * time.Millisecond)
	p.StatusChanged(context.Background(), models.StatusChange{OrderID: "o", From: "a", To: "b"}, "x", nil, nil)
	require.Greater(t, fp.calls, 1)
}
