package reconcile

import (
	"context"
	"testing"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func seedDrift(t *testing.T, st *memstore.Store) *models.InventoryRecord {
	t.Helper()
	ctx := context.Background()
	rec := &models.InventoryRecord{ProductID: "p-shirt", ProductName: "Linen Shirt", OutletID: "main", Quantity: 100, ReservedQuantity: 50}
	require.NoError(t, st.UpsertInventory(ctx, rec))

	// write-time maintenance adds 30 on top of the drifted 50
	require.NoError(t, st.CreateOrder(ctx, &models.Order{
		OrderNumber: "2001", Status: models.OrderStatusBooked, OutletID: strp("main"),
		Items: []models.LineItem{{ProductID: strp("p-shirt"), Name: "Linen Shirt / M", Quantity: 20}},
	}))
	require.NoError(t, st.CreateOrder(ctx, &models.Order{
		OrderNumber: "2002", Status: models.OrderStatusPending,
		Items: []models.LineItem{{ProductID: strp("p-shirt"), Name: "Linen Shirt / L", Quantity: 10}},
	}))
	// терминальные заказы не резервируют
	require.NoError(t, st.CreateOrder(ctx, &models.Order{
		OrderNumber: "2003", Status: models.OrderStatusDelivered,
		Items: []models.LineItem{{ProductID: strp("p-shirt"), Name: "Linen Shirt / S", Quantity: 7}},
	}))
	return rec
}

func TestAnalyze_ReportsDrift(t *testing.T) {
	st := memstore.New()
	rec := seedDrift(t, st)

	res, err := New(st).Analyze(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.DiscrepanciesFound)
	d := res.Discrepancies[0]
	require.Equal(t, rec.ID, d.InventoryID)
	require.Equal(t, int64(80), d.StoredReserved)
	require.Equal(t, int64(30), d.ExpectedReserved)
	require.Equal(t, int64(-50), d.Difference)
	require.Equal(t, models.SeverityHigh, d.Severity)
	require.ElementsMatch(t, []string{"2001", "2002"}, d.Orders)
}

func TestFix_IsIdempotentAndAudited(t *testing.T) {
	st := memstore.New()
	rec := seedDrift(t, st)
	svc := New(st)

	res, err := svc.Fix(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.RecordsFixed)
	require.Equal(t, int64(80), res.FixedRecords[0].OldReserved)
	require.Equal(t, int64(30), res.FixedRecords[0].NewReserved)
	require.Equal(t, int64(70), res.FixedRecords[0].Available)

	res, err = svc.Fix(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.RecordsFixed)

	logs, _ := st.ListActivity(context.Background(), models.EntityInventory, rec.ID)
	require.Len(t, logs, 1)
	require.Equal(t, models.ActionReservedFixed, logs[0].Action)
}

func TestAnalyze_LegacyNameMatchAndOutlet(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.UpsertInventory(ctx, &models.InventoryRecord{ProductID: "p-mug", ProductName: "Clay Mug", OutletID: "a", Quantity: 10}))
	require.NoError(t, st.UpsertInventory(ctx, &models.InventoryRecord{ProductID: "p-mug", ProductName: "Clay Mug", OutletID: "b", Quantity: 10}))
	require.NoError(t, st.CreateOrder(ctx, &models.Order{
		OrderNumber: "3001", Status: models.OrderStatusBooked, OutletID: strp("a"),
		Items: []models.LineItem{{Name: "clay mug (blue)", Quantity: 3}},
	}))

	res, err := New(st).Analyze(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.DiscrepanciesFound)
	require.Equal(t, "a", res.Discrepancies[0].OutletID)
	require.Equal(t, int64(3), res.Discrepancies[0].ExpectedReserved)
	require.Equal(t, models.SeverityMedium, res.Discrepancies[0].Severity)
}

func TestAnalyze_NoDrift(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.UpsertInventory(ctx, &models.InventoryRecord{ProductID: "p1", ProductName: "Lamp", OutletID: "a", Quantity: 5}))
	require.NoError(t, st.CreateOrder(ctx, &models.Order{
		OrderNumber: "4001", Status: models.OrderStatusBooked, OutletID: strp("a"),
		Items: []models.LineItem{{ProductID: strp("p1"), Name: "Lamp", Quantity: 2}},
	}))

	res, err := New(st).Analyze(ctx)
	require.NoError(t, err)
	require.Zero(t, res.DiscrepanciesFound)
	require.NotNil(t, res.Discrepancies)
}
