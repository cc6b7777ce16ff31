package courier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/shopspring/decimal"
)

type BookingRequest struct {
	OrderNumber string
	Pickup      models.Address
	Delivery    models.Address
	Weight      decimal.Decimal // kg
	Pieces      int64
	COD         decimal.Decimal
}

type BookingResult struct {
	TrackingID string
	Raw        json.RawMessage
}

type TrackingResult struct {
	RawStatus string
	Status    models.ShipmentStatus
	Location  *string
	CheckedAt time.Time
	Raw       json.RawMessage
}

// Client is one courier API. Errors returned from Book/Track should be *Error so callers can
// tell retryable failures from permanent ones.
type Client interface {
	Code() string
	Book(ctx context.Context, req BookingRequest) (BookingResult, error)
	Track(ctx context.Context, trackingID string) (TrackingResult, error)
}
