package courier

import (
	"context"
	"net/http"
	"testing"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDelivered(t *testing.T) {
	require.True(t, Delivered("Delivered"))
	require.True(t, Delivered("Shipment delivered to consignee"))
	require.True(t, Delivered("COMPLETE"))
	require.True(t, Delivered("received by customer"))
	require.False(t, Delivered("Undelivered"))
	require.False(t, Delivered("Not Delivered - customer absent"))
	require.False(t, Delivered("in transit"))
	require.False(t, Delivered(""))
}

func TestNormalize(t *testing.T) {
	cases := map[string]models.ShipmentStatus{
		"Booked":                 models.ShipmentStatusBooked,
		"Picked up by rider":     models.ShipmentStatusBooked,
		"In Transit":             models.ShipmentStatusInTransit,
		"Arrived at hub":         models.ShipmentStatusInTransit,
		"Out for Delivery":       models.ShipmentStatusOutForDelivery,
		"Delivered":              models.ShipmentStatusDelivered,
		"Undelivered":            models.ShipmentStatusInTransit,
		"Returned to shipper":    models.ShipmentStatusReturned,
		"RTO Delivered":          models.ShipmentStatusReturned,
		"Cancelled by merchant":  models.ShipmentStatusCancelled,
		"something unrecognised": models.ShipmentStatusInTransit,
	}
	for raw, want := range cases {
		require.Equal(t, want, Normalize(raw, nil), raw)
	}
	require.Equal(t, models.ShipmentStatusDelivered, Normalize("DLV", map[string]string{"dlv": "delivered"}))
}

func TestClassFromHTTP(t *testing.T) {
	require.Equal(t, ClassRetryable, ClassFromHTTP(http.StatusTooManyRequests))
	require.Equal(t, ClassRetryable, ClassFromHTTP(http.StatusBadGateway))
	require.Equal(t, ClassValidation, ClassFromHTTP(http.StatusBadRequest))
	require.Equal(t, ClassValidation, ClassFromHTTP(http.StatusUnprocessableEntity))
	require.Equal(t, ClassPermanent, ClassFromHTTP(http.StatusUnauthorized))
	require.Equal(t, ClassPermanent, ClassFromHTTP(http.StatusNotFound))
}

func TestClassify(t *testing.T) {
	require.Equal(t, Class(""), Classify(nil))
	require.Equal(t, ClassRetryable, Classify(errors.New("connection reset")))
	require.Equal(t, ClassRetryable, Classify(Transport("tcs", context.DeadlineExceeded)))
	require.Equal(t, ClassValidation, Classify(errors.Wrap(Rejected("tcs", "", "bad city"), "book")))
	require.Equal(t, "TIMEOUT", CodeOf(Transport("tcs", context.DeadlineExceeded)))
	require.Equal(t, "RATE_LIMITED", CodeOf(HTTPError("tcs", 429, "")))
	require.Equal(t, "COURIER_ERROR", CodeOf(errors.New("x")))
}

func TestLoadConfigFromBytes(t *testing.T) {
	t.Setenv("POSTEX_TOKEN", "secret")
	cfg, err := LoadConfigFromBytes([]byte(`
couriers:
  - code: PostEx
    name: PostEx
    kind: http
    enabled: true
    api_key: ${POSTEX_TOKEN}
    auth_type: header
    auth_header: token
    base_url: https://api.postex.example
    endpoints:
      book: /v3/create-order
      track: /v1/track-order/{tracking_id}
    response_mapping:
      tracking_id_field: dist.trackingNumber
      status_field: dist.transactionStatus
  - code: tcs
    kind: http
    enabled: false
`))
	require.NoError(t, err)
	require.Len(t, cfg.Couriers, 2)
	require.Equal(t, "postex", cfg.Couriers[0].Code)
	require.Equal(t, "secret", cfg.Couriers[0].APIKey)
}

func TestLoadConfigFromBytes_Invalid(t *testing.T) {
	_, err := LoadConfigFromBytes([]byte(`
couriers:
  - code: tcs
    enabled: true
    base_url: http://x
`))
	require.Error(t, err)

	_, err = LoadConfigFromBytes([]byte(`
couriers:
  - code: fake
    kind: fake
    enabled: true
  - code: FAKE
    kind: fake
    enabled: true
`))
	require.ErrorContains(t, err, "duplicate")
}

func TestLoadConfig_Example(t *testing.T) {
	t.Setenv("LEOPARDS_API_KEY", "lk")
	t.Setenv("LEOPARDS_API_PASSWORD", "lp")
	cfg, err := LoadConfig("../../../config/couriers.example.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Couriers, 3)
	require.Equal(t, KindLeopards, cfg.Couriers[0].Kind)
	require.Equal(t, "lk", cfg.Couriers[0].APIKey)
	require.Equal(t, "lp", cfg.Couriers[0].APISecret)
	require.Equal(t, "in_transit", cfg.Couriers[1].Response.StatusMap["Picked By PostEx"])
	require.False(t, cfg.Couriers[2].Enabled)
}
