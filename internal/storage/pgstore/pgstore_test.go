package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPG(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "couriersync_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/couriersync_test?sslmode=disable"
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func strp(s string) *string { return &s }

func TestPGStore_Flow(t *testing.T) {
	if testing.Short() {
		t.Skip("integration")
	}
	st := startPG(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, st.UpsertInventory(ctx, &models.InventoryRecord{
		ProductID: "p-shirt", ProductName: "Black Shirt", OutletID: "main", Quantity: 100,
	}))

	o := &models.Order{
		OrderNumber:     "SHOP-1001",
		CustomerName:    "Ayesha",
		Status:          models.OrderStatusAddressConfirmed,
		ShippingAddress: models.Address{Line1: "12 Mall Road", City: "Lahore"},
		CODAmount:       decimal.RequireFromString("2500.00"),
		Items: []models.LineItem{
			{ProductID: strp("p-shirt"), Name: "Black Shirt - L", Quantity: 3},
		},
	}
	require.NoError(t, st.CreateOrder(ctx, o))
	require.ErrorIs(t, st.CreateOrder(ctx, &models.Order{OrderNumber: "SHOP-1001"}), storage.ErrConflict)

	inv, err := st.ListInventory(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), inv[0].ReservedQuantity)
	require.Equal(t, int64(97), inv[0].AvailableQuantity)

	got, err := st.FindOrderFuzzy(ctx, "1001")
	require.NoError(t, err)
	require.Equal(t, o.ID, got.ID)
	require.True(t, got.CODAmount.Equal(decimal.NewFromInt(2500)))
	require.Len(t, got.Items, 1)

	// failed booking -> queue -> claim with lease -> CAS save
	code, msg := "NETWORK_ERROR", "timeout"
	e, err := st.EnqueueBooking(ctx, &models.BookingQueueEntry{
		OrderID: o.ID, CourierCode: "postex", LastErrorCode: &code, LastErrorMessage: &msg, NextRetryAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusPending, e.Status)

	due, err := st.ClaimDueBookings(ctx, now.Add(time.Second), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)
	again, err := st.ClaimDueBookings(ctx, now.Add(time.Second), 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, again)

	entry := due[0]
	require.ErrorIs(t, st.AcquireBooking(ctx, entry.ID, now, now.Add(time.Hour)), storage.ErrConflict)
	until := storage.LeaseTime(now.Add(3 * time.Minute))
	require.NoError(t, st.AcquireBooking(ctx, entry.ID, entry.NextRetryAt, until))
	entry.NextRetryAt = until
	prev := storage.GuardOf(entry)
	require.NoError(t, entry.Fail(now, code, msg, false, func(int) time.Duration { return 15 * time.Minute }))
	require.NoError(t, st.SaveBookingAttempt(ctx, entry, prev))
	require.ErrorIs(t, st.SaveBookingAttempt(ctx, entry, prev), storage.ErrConflict)

	// booking succeeds later
	change, err := st.MarkBooked(ctx, storage.BookedUpdate{OrderID: o.ID, CourierCode: "postex", TrackingID: "PX1", At: now})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusBooked, change.To)
	q, err := st.ListBookingQueue(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.QueueStatusSuccess, q[0].Status)

	// scan dispatch is unique per order
	d, err := st.CreateScanDispatch(ctx, storage.ScanDispatch{OrderID: o.ID, CourierCode: "postex", TrackingID: strp("PX1"), UserID: "u1", At: now})
	require.NoError(t, err)
	require.False(t, d.Manual)
	_, err = st.CreateScanDispatch(ctx, storage.ScanDispatch{OrderID: o.ID, CourierCode: "postex", At: now})
	require.ErrorIs(t, err, storage.ErrConflict)

	byTracking, err := st.FindOrderByTrackingID(ctx, "PX1")
	require.NoError(t, err)
	require.Equal(t, o.ID, byTracking.ID)

	active, err := st.ListActiveDispatches(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)

	// courier reports delivered: history + dispatch + order, reserved released
	change, err = st.RecordTracking(ctx, storage.TrackingUpdate{
		DispatchID: d.ID, OrderID: o.ID, TrackingID: "PX1", CourierCode: "postex",
		Result: courier.TrackingResult{RawStatus: "Delivered", Status: models.ShipmentStatusDelivered, CheckedAt: now},
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusDelivered, change.To)

	hist, err := st.ListTrackingHistory(ctx, "PX1", 10, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	active, err = st.ListActiveDispatches(ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, active)

	inv, err = st.ListInventory(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), inv[0].ReservedQuantity)

	// drift correction puts the reservation back and writes an audit row
	cands, err := st.ListUnverifiedDelivered(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	change, err = st.DowngradeOrder(ctx, storage.Downgrade{
		OrderID: o.ID, From: models.OrderStatusDelivered, To: models.OrderStatusDispatched,
		CourierCode: "postex", RawStatus: "In Transit", Reason: models.ReasonCourierVerificationFailed, At: now,
	})
	require.NoError(t, err)
	require.True(t, change.Changed())
	_, err = st.DowngradeOrder(ctx, storage.Downgrade{OrderID: o.ID, From: models.OrderStatusDelivered, To: models.OrderStatusDispatched, At: now})
	require.ErrorIs(t, err, storage.ErrConflict)

	got, err = st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusDispatched, got.Status)
	require.Nil(t, got.DeliveredAt)
	require.Contains(t, got.Tags, "status:dispatched")

	logs, err := st.ListActivity(ctx, models.EntityOrder, o.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, models.ReasonCourierVerificationFailed, logs[0].Reason)

	inv, err = st.ListInventory(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), inv[0].ReservedQuantity)

	// reserved CAS fix
	fixed, err := st.FixReserved(ctx, storage.ReservedFix{InventoryID: inv[0].ID, Old: 3, New: 5, At: now})
	require.NoError(t, err)
	require.Equal(t, int64(95), fixed.AvailableQuantity)
	_, err = st.FixReserved(ctx, storage.ReservedFix{InventoryID: inv[0].ID, Old: 3, New: 5, At: now})
	require.ErrorIs(t, err, storage.ErrConflict)

	// return received once
	r, err := st.ReceiveReturn(ctx, storage.ScanReturn{OrderID: o.ID, TrackingID: strp("PX1"), UserID: "u2", At: now})
	require.NoError(t, err)
	require.Equal(t, models.ReturnStatusReceived, r.ReturnStatus)
	_, err = st.ReceiveReturn(ctx, storage.ScanReturn{OrderID: o.ID, UserID: "u3", At: now})
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestPGStore_Settings(t *testing.T) {
	if testing.Short() {
		t.Skip("integration")
	}
	st := startPG(t)
	ctx := context.Background()

	_, err := st.GetSettings(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, st.SaveSettings(ctx, models.Settings{
		PickupAddress:      models.Address{Name: "Warehouse", Line1: "Plot 4", City: "Karachi"},
		DefaultCourierCode: "leopards",
		KgPerUnit:          1,
	}))
	s, err := st.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, "Karachi", s.PickupAddress.City)
	require.Equal(t, "leopards", s.DefaultCourierCode)
}
