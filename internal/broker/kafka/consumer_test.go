package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/CourierSync/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func bookingMessage(offset int64) kafka.Message {
	return kafka.Message{
		Topic:  "courier.booking.requested",
		Offset: offset,
		Key:    []byte("ord-1"),
		Value:  []byte(`{"orderId":"ord-1","courierId":"leopards"}`),
	}
}

func TestConsumer_Consume_CommitsHandledMessages(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{bookingMessage(1), bookingMessage(2)},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []messages.BookingRequested
	err := c.Consume(context.Background(), func(ctx context.Context, k, v []byte) error {
		var m messages.BookingRequested
		require.NoError(t, json.Unmarshal(v, &m))
		got = append(got, m)
		return nil
	})
	require.ErrorContains(t, err, "fetch message")
	require.Len(t, got, 2)
	require.Equal(t, "leopards", got[0].CourierID)
	require.Len(t, fr.committed, 2)
}

func TestConsumer_Consume_RetriesHandlerInPlace(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{bookingMessage(7)}, err: errors.New("stop")}
	c := newConsumerWithReader(fr).WithRetry(3, time.Millisecond)

	calls := 0
	_ = c.Consume(context.Background(), func(ctx context.Context, k, v []byte) error {
		calls++
		if calls < 3 {
			return errors.New("db timeout")
		}
		return nil
	})
	require.Equal(t, 3, calls)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{bookingMessage(9)}}
	c := newConsumerWithReader(fr).WithRetry(1, time.Millisecond)

	want := errors.New("handler failed")
	calls := 0
	err := c.Consume(context.Background(), func(ctx context.Context, k, v []byte) error {
		calls++
		return want
	})
	require.ErrorIs(t, err, want)
	require.Contains(t, err.Error(), "courier.booking.requested[0]@9")
	require.Equal(t, 2, calls)
	require.Empty(t, fr.committed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "courier.booking.requested", "courier-worker")
	require.NotNil(t, c)
	require.NoError(t, c.Close())

	fr := &fakeReader{}
	require.NoError(t, newConsumerWithReader(fr).Close())
	require.True(t, fr.closed)
}
