package fake

import (
	"context"
	"testing"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_TrackDeterministic(t *testing.T) {
	c := New("fake")
	a, err := c.Track(context.Background(), "A1")
	require.NoError(t, err)
	b, err := c.Track(context.Background(), "A1")
	require.NoError(t, err)
	require.Equal(t, a.Status, b.Status)
	require.NotEmpty(t, a.RawStatus)
	require.Equal(t, 2, c.TrackCalls())
}

func TestClient_Overrides(t *testing.T) {
	c := New("tcs")
	c.SetStatus("T1", "Out for delivery")
	res, err := c.Track(context.Background(), "T1")
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusOutForDelivery, res.Status)

	c.FailNextBookings(courier.Rejected("tcs", "", "no"))
	_, err = c.Book(context.Background(), courier.BookingRequest{OrderNumber: "1"})
	require.Error(t, err)

	r1, err := c.Book(context.Background(), courier.BookingRequest{OrderNumber: "1"})
	require.NoError(t, err)
	require.Regexp(t, `^TC\d{8}$`, r1.TrackingID)
	require.Len(t, c.Booked(), 1)
}
