package jobs_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/integrations/courier/fake"
	"github.com/BearBump/CourierSync/internal/integrations/courier/registry"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/services/booking"
	"github.com/BearBump/CourierSync/internal/services/poller"
	"github.com/BearBump/CourierSync/internal/services/reconcile"
	"github.com/BearBump/CourierSync/internal/services/retry"
	"github.com/BearBump/CourierSync/internal/services/scan"
	"github.com/BearBump/CourierSync/internal/services/settings"
	"github.com/BearBump/CourierSync/internal/services/shipments"
	"github.com/BearBump/CourierSync/internal/services/verification"
	"github.com/BearBump/CourierSync/internal/storage/memstore"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type nopPublisher struct{}

func (nopPublisher) StatusChanged(ctx context.Context, c models.StatusChange, source string, courierCode, trackingID *string) {
}

type allowAll struct{}

func (allowAll) Take(ctx context.Context, courierCode string, limit int64) (bool, int64, error) {
	return true, 1, nil
}

type JobsAPISuite struct {
	suite.Suite

	store   *memstore.Store
	courier *fake.Client
	srv     *httptest.Server
}

func (s *JobsAPISuite) SetupTest() {
	s.store = memstore.New()
	s.courier = fake.New("leopards")
	reg := registry.New(nil)
	reg.Register(s.courier)
	pub := nopPublisher{}

	sp := settings.New(s.store, nil, 0, models.Settings{
		PickupAddress: models.Address{Name: "Warehouse", Line1: "Plot 4", City: "Lahore"},
	})
	booker := booking.NewBooker(reg, sp)
	ship := shipments.New(s.store, nil, 0)

	api := New(Services{
		Booking:      booking.NewService(s.store, booker, pub),
		Retry:        retry.NewScheduler(s.store, booker, pub, retry.NewPlanner(retry.DefaultBackoff())),
		Tracking:     poller.New(s.store, reg, allowAll{}, pub, ship),
		Verification: verification.New(s.store, reg, pub),
		Reconcile:    reconcile.New(s.store),
		Scan:         scan.New(s.store, reg, pub),
		Shipments:    ship,
	})
	s.srv = httptest.NewServer(api.Router())
}

func (s *JobsAPISuite) TearDownTest() {
	s.srv.Close()
}

func (s *JobsAPISuite) post(path string, body any, out any) int {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(s.srv.URL+path, "application/json", &buf)
	s.Require().NoError(err)
	defer resp.Body.Close()
	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *JobsAPISuite) get(path string, out any) int {
	resp, err := http.Get(s.srv.URL + path)
	s.Require().NoError(err)
	defer resp.Body.Close()
	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *JobsAPISuite) order(status models.OrderStatus, tracking *string) *models.Order {
	code := "leopards"
	o := &models.Order{
		OrderNumber:  gofakeit.Numerify("SHOP-#####"),
		CustomerName: gofakeit.Name(),
		Status:       status,
		CourierCode:  &code,
		TrackingID:   tracking,
		ShippingAddress: models.Address{
			Phone: gofakeit.Phone(),
			Line1: gofakeit.Street(),
			City:  gofakeit.City(),
		},
		CODAmount: decimal.NewFromInt(1200),
		Items:     []models.LineItem{{Name: "Mug", Quantity: 1}},
	}
	s.Require().NoError(s.store.CreateOrder(context.Background(), o))
	return o
}

func (s *JobsAPISuite) TestHealthz() {
	var out map[string]string
	s.Equal(http.StatusOK, s.get("/healthz", &out))
	s.Equal("ok", out["status"])
}

func (s *JobsAPISuite) TestCORSPreflight() {
	req, _ := http.NewRequest(http.MethodOptions, s.srv.URL+"/v1/jobs/booking", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Less(resp.StatusCode, 300)
	s.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func (s *JobsAPISuite) TestBooking_SuccessThenAlreadyBooked() {
	o := s.order(models.OrderStatusAddressConfirmed, nil)

	var res booking.Result
	s.Equal(http.StatusOK, s.post("/v1/jobs/booking", map[string]any{"orderId": o.ID, "courierId": "leopards"}, &res))
	s.True(res.Success)
	s.NotEmpty(res.TrackingID)

	var eb errorBody
	s.Equal(http.StatusConflict, s.post("/v1/jobs/booking", map[string]any{"orderId": o.ID, "courierId": "leopards"}, &eb))
	s.False(eb.Success)
	s.Equal("ALREADY_BOOKED", eb.ErrorCode)
}

func (s *JobsAPISuite) TestBooking_CourierFailureQueuesAndRetries() {
	o := s.order(models.OrderStatusPending, nil)
	s.courier.FailNextBookings(courier.HTTPError("leopards", http.StatusServiceUnavailable, "down"))

	var res booking.Result
	s.Equal(http.StatusBadGateway, s.post("/v1/jobs/booking", map[string]any{"orderId": o.ID, "courierId": "leopards"}, &res))
	s.False(res.Success)
	s.True(res.Queued)

	q, err := s.store.ListBookingQueue(context.Background(), o.ID)
	s.Require().NoError(err)
	s.Require().Len(q, 1)
	s.Equal(models.QueueStatusPending, q[0].Status)

	var run retry.RunResult
	s.Equal(http.StatusOK, s.post("/v1/jobs/booking-retries", nil, &run))
	s.True(run.Success)
	s.Require().Equal(1, run.RetriesProcessed)
	s.Equal(retry.StatusSuccess, run.Results[0].Status)

	got, _ := s.store.GetOrder(context.Background(), o.ID)
	s.Equal(models.OrderStatusBooked, got.Status)
}

func (s *JobsAPISuite) TestBooking_ValidationAndNotFound() {
	var eb errorBody
	s.Equal(http.StatusBadRequest, s.post("/v1/jobs/booking", map[string]any{"courierId": "leopards"}, &eb))
	s.Equal("INVALID_INPUT", eb.ErrorCode)

	s.Equal(http.StatusNotFound, s.post("/v1/jobs/booking", map[string]any{"orderId": "missing", "courierId": "leopards"}, &eb))
	s.Equal("NOT_FOUND", eb.ErrorCode)

	resp, err := http.Post(s.srv.URL+"/v1/jobs/booking", "application/json", bytes.NewBufferString("{"))
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *JobsAPISuite) TestTrackingSync_EmptyBody() {
	var res poller.BatchResult
	s.Equal(http.StatusOK, s.post("/v1/jobs/tracking-sync", nil, &res))
	s.Equal(0, res.Results.Total)
	s.False(res.HasMore)

	var eb errorBody
	s.Equal(http.StatusBadRequest, s.post("/v1/jobs/tracking-sync", map[string]any{"offset": -1}, &eb))
}

func (s *JobsAPISuite) TestDeliveryVerification_BatchSizeLimit() {
	var eb errorBody
	s.Equal(http.StatusBadRequest, s.post("/v1/jobs/delivery-verification", map[string]any{"batchSize": 101}, &eb))
	s.Equal("INVALID_INPUT", eb.ErrorCode)
	s.NotEmpty(eb.Suggestion)

	var res verification.Result
	s.Equal(http.StatusOK, s.post("/v1/jobs/delivery-verification", map[string]any{"batchSize": 10}, &res))
	s.Equal(0, res.Processed)
}

func (s *JobsAPISuite) TestReservedStock_AnalyzeAndFix() {
	ctx := context.Background()
	s.Require().NoError(s.store.UpsertInventory(ctx, &models.InventoryRecord{
		ProductID: "p1", ProductName: "Mug", OutletID: "o1", Quantity: 100, ReservedQuantity: 50,
	}))

	var an reconcile.AnalyzeResult
	s.Equal(http.StatusOK, s.post("/v1/jobs/reserved-stock", map[string]any{"action": "analyze"}, &an))
	s.Equal(1, an.DiscrepanciesFound)

	var fx reconcile.FixResult
	s.Equal(http.StatusOK, s.post("/v1/jobs/reserved-stock", map[string]any{"action": "fix"}, &fx))
	s.Equal(1, fx.RecordsFixed)

	var eb errorBody
	s.Equal(http.StatusBadRequest, s.post("/v1/jobs/reserved-stock", map[string]any{"action": "drop"}, &eb))
}

func (s *JobsAPISuite) TestScanDispatch_AlreadyDispatched() {
	tid := "LE5550001"
	o := s.order(models.OrderStatusBooked, &tid)

	var res scan.Result
	s.Equal(http.StatusOK, s.post("/v1/scan/dispatch", map[string]any{"entry": tid, "userId": "u1"}, &res))
	s.True(res.Success)
	s.Equal(o.OrderNumber, res.Order.OrderNumber)

	var eb errorBody
	s.Equal(http.StatusConflict, s.post("/v1/scan/dispatch", map[string]any{"entry": tid, "userId": "u1"}, &eb))
	s.Equal("ALREADY_DISPATCHED", eb.ErrorCode)
}

func (s *JobsAPISuite) TestScan_InvalidFormat() {
	var eb errorBody
	s.Equal(http.StatusBadRequest, s.post("/v1/scan/return", map[string]any{"entry": "2.11295E+13", "userId": "u1"}, &eb))
	s.False(eb.Success)
	s.Equal("INVALID_FORMAT", eb.ErrorCode)
	s.NotEmpty(eb.Suggestion)
}

func (s *JobsAPISuite) TestShipments_CurrentAndHistory() {
	var eb errorBody
	s.Equal(http.StatusNotFound, s.get("/v1/shipments/NOPE", &eb))

	tid := "LE7770001"
	o := s.order(models.OrderStatusDispatched, &tid)
	s.store.PutDispatch(&models.Dispatch{OrderID: o.ID, CourierCode: "leopards", TrackingID: &tid, Status: models.ShipmentStatusInTransit})

	var snap models.ShipmentSnapshot
	s.Equal(http.StatusOK, s.get("/v1/shipments/"+tid, &snap))
	s.Equal(o.ID, snap.OrderID)
	s.Equal(models.ShipmentStatusInTransit, snap.Status)

	var hist struct {
		Items []*models.TrackingHistory `json:"items"`
	}
	s.Equal(http.StatusOK, s.get("/v1/shipments/"+tid+"/history?limit=5", &hist))
	s.Empty(hist.Items)
}

func TestJobsAPISuite(t *testing.T) {
	suite.Run(t, new(JobsAPISuite))
}
