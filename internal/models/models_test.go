package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckTransition_Forward(t *testing.T) {
	require.NoError(t, CheckTransition(OrderStatusPending, OrderStatusBooked, TransitionForward))
	require.NoError(t, CheckTransition(OrderStatusBooked, OrderStatusDelivered, TransitionForward))
	require.NoError(t, CheckTransition(OrderStatusDispatched, OrderStatusReturned, TransitionForward))
	require.NoError(t, CheckTransition(OrderStatusDelivered, OrderStatusReturned, TransitionForward))
	require.NoError(t, CheckTransition(OrderStatusBooked, OrderStatusCancelled, TransitionForward))
	require.NoError(t, CheckTransition(OrderStatusDelivered, OrderStatusDelivered, TransitionForward))

	require.Error(t, CheckTransition(OrderStatusDispatched, OrderStatusBooked, TransitionForward))
	require.Error(t, CheckTransition(OrderStatusDelivered, OrderStatusDispatched, TransitionForward))
	require.Error(t, CheckTransition(OrderStatusCancelled, OrderStatusBooked, TransitionForward))
	require.Error(t, CheckTransition(OrderStatusReturned, OrderStatusDelivered, TransitionForward))
	require.Error(t, CheckTransition(OrderStatus("lost"), OrderStatusBooked, TransitionForward))
}

func TestCheckTransition_DriftCorrection(t *testing.T) {
	for _, to := range []OrderStatus{OrderStatusDispatched, OrderStatusBooked, OrderStatusReturned, OrderStatusCancelled} {
		require.NoError(t, CheckTransition(OrderStatusDelivered, to, TransitionDriftCorrection), to)
	}
	require.Error(t, CheckTransition(OrderStatusDelivered, OrderStatusPending, TransitionDriftCorrection))
	require.Error(t, CheckTransition(OrderStatusDispatched, OrderStatusBooked, TransitionDriftCorrection))

	var illegal *ErrIllegalTransition
	require.ErrorAs(t, CheckTransition(OrderStatusBooked, OrderStatusPending, TransitionDriftCorrection), &illegal)
	require.Equal(t, OrderStatusBooked, illegal.From)
}

func TestRewriteStatusTags(t *testing.T) {
	out := RewriteStatusTags([]string{"vip", "status:delivered", "Delivered", "cod"}, OrderStatusDispatched)
	require.Equal(t, []string{"vip", "cod", "status:dispatched"}, out)
}

func TestOrder_ApplyStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	o := &Order{Status: OrderStatusBooked}
	o.ApplyStatus(OrderStatusDispatched, now)
	require.Equal(t, OrderStatusDispatched, o.Status)
	require.NotNil(t, o.DispatchedAt)

	later := now.Add(time.Hour)
	o.ApplyStatus(OrderStatusDispatched, later)
	require.Equal(t, now, *o.DispatchedAt)

	o.ApplyStatus(OrderStatusDelivered, later)
	require.Equal(t, later, *o.DeliveredAt)
	require.Contains(t, o.Tags, "status:delivered")
}

func TestBookingQueueEntry_FailUntilCeiling(t *testing.T) {
	now := time.Now().UTC()
	delay := func(n int) time.Duration { return time.Duration(n) * time.Minute }
	e := &BookingQueueEntry{ID: "q1", Status: QueueStatusPending, MaxRetries: 3, NextRetryAt: now}
	require.True(t, e.Due(now))

	require.NoError(t, e.Fail(now, "NETWORK", "boom", false, delay))
	require.Equal(t, 1, e.RetryCount)
	require.Equal(t, QueueStatusRetrying, e.Status)
	require.Equal(t, now.Add(time.Minute), e.NextRetryAt)
	require.False(t, e.Due(now))

	require.NoError(t, e.Fail(now, "NETWORK", "boom", false, delay))
	require.NoError(t, e.Fail(now, "NETWORK", "boom", false, delay))
	require.Equal(t, 3, e.RetryCount)
	require.Equal(t, QueueStatusFailed, e.Status)

	var term *ErrTerminalEntry
	require.ErrorAs(t, e.Fail(now, "NETWORK", "boom", false, delay), &term)
	require.Equal(t, 3, e.RetryCount)
	require.ErrorAs(t, e.Succeed(now), &term)
}

func TestBookingQueueEntry_PermanentFailureIsTerminal(t *testing.T) {
	now := time.Now().UTC()
	e := &BookingQueueEntry{ID: "q2", Status: QueueStatusPending, MaxRetries: 5}
	require.NoError(t, e.Fail(now, "INVALID_ADDRESS", "rejected", true, func(int) time.Duration { return time.Hour }))
	require.Equal(t, QueueStatusFailed, e.Status)
	require.Equal(t, 1, e.RetryCount)
}

func TestCheckReturnTransition(t *testing.T) {
	require.NoError(t, CheckReturnTransition("", ReturnStatusReceived))
	require.NoError(t, CheckReturnTransition(ReturnStatusInTransit, ReturnStatusReceived))
	require.Error(t, CheckReturnTransition(ReturnStatusReceived, ReturnStatusReceived))
	require.Error(t, CheckReturnTransition("", ReturnStatusProcessed))
}

func TestOrderStatus_AtLeast(t *testing.T) {
	require.True(t, OrderStatusDispatched.AtLeast(OrderStatusBooked))
	require.True(t, OrderStatusBooked.AtLeast(OrderStatusBooked))
	require.False(t, OrderStatusAddressConfirmed.AtLeast(OrderStatusBooked))
	require.False(t, OrderStatus("lost").AtLeast(OrderStatusPending))
}
