package booking

import (
	"context"
	"strings"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Couriers interface {
	Get(code string) (courier.Client, bool)
}

type SettingsProvider interface {
	Get(ctx context.Context) (models.Settings, error)
}

// Overrides replace resolved booking values when set.
type Overrides struct {
	Pickup   *models.Address
	Delivery *models.Address
	Weight   *decimal.Decimal
	Pieces   *int64
	COD      *decimal.Decimal
}

// Booker performs exactly one booking call. It knows nothing about retries: the synchronous
// path and the retry scheduler both call Attempt and decide what to persist.
type Booker struct {
	couriers Couriers
	settings SettingsProvider
}

func NewBooker(couriers Couriers, settings SettingsProvider) *Booker {
	return &Booker{couriers: couriers, settings: settings}
}

func (b *Booker) Attempt(ctx context.Context, o *models.Order, courierCode string, ov Overrides) (courier.BookingResult, error) {
	code := strings.ToLower(strings.TrimSpace(courierCode))
	client, ok := b.couriers.Get(code)
	if !ok {
		return courier.BookingResult{}, &courier.Error{
			Courier: code,
			Class:   courier.ClassPermanent,
			Code:    "UNKNOWN_COURIER",
			Message: "courier is not configured or disabled",
		}
	}

	req, err := b.buildRequest(ctx, o, ov)
	if err != nil {
		return courier.BookingResult{}, err
	}
	if req.Delivery.Empty() {
		return courier.BookingResult{}, courier.Rejected(code, "MISSING_ADDRESS", "order has no delivery address")
	}
	if req.Pickup.Empty() {
		return courier.BookingResult{}, courier.Rejected(code, "MISSING_PICKUP", "pickup address is not configured")
	}

	res, err := client.Book(ctx, req)
	if err != nil {
		return courier.BookingResult{}, err
	}
	if strings.TrimSpace(res.TrackingID) == "" {
		return courier.BookingResult{}, courier.Rejected(code, "NO_TRACKING_ID", "courier returned no tracking id")
	}
	return res, nil
}

func (b *Booker) buildRequest(ctx context.Context, o *models.Order, ov Overrides) (courier.BookingRequest, error) {
	st, err := b.settings.Get(ctx)
	if err != nil {
		return courier.BookingRequest{}, errors.Wrap(err, "settings")
	}

	pieces := o.TotalUnits()
	if pieces <= 0 {
		pieces = 1
	}
	kgPerUnit := st.KgPerUnit
	if kgPerUnit <= 0 {
		kgPerUnit = 1
	}
	req := courier.BookingRequest{
		OrderNumber: o.OrderNumber,
		Pickup:      st.PickupAddress,
		Delivery:    o.ShippingAddress,
		Weight:      decimal.NewFromInt(pieces * kgPerUnit),
		Pieces:      pieces,
		COD:         o.CODAmount,
	}
	if req.Delivery.Name == "" {
		req.Delivery.Name = o.CustomerName
	}

	if ov.Pickup != nil {
		req.Pickup = *ov.Pickup
	}
	if ov.Delivery != nil {
		req.Delivery = *ov.Delivery
	}
	if ov.Pieces != nil {
		req.Pieces = *ov.Pieces
	}
	if ov.Weight != nil {
		req.Weight = *ov.Weight
	}
	if ov.COD != nil {
		req.COD = *ov.COD
	}
	return req, nil
}
