package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_PublishKeyed(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), "order.status.changed", []byte("order-1"), []byte(`{}`)))
	require.Len(t, fw.last, 1)
	require.Equal(t, "order.status.changed", fw.last[0].Topic)
	require.Equal(t, []byte("order-1"), fw.last[0].Key)
}

func TestProducer_Close(t *testing.T) {
	fw := &fakeWriter{}
	require.NoError(t, newProducerWithWriter(fw).Close())
	require.True(t, fw.closed)

	require.NoError(t, NewProducer([]string{"localhost:0"}).Close())
}
