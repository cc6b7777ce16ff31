package messages

import "github.com/shopspring/decimal"

// BookingRequested asks the worker to book an order with a courier.
type BookingRequested struct {
	OrderID   string           `json:"orderId"`
	CourierID string           `json:"courierId"`
	Weight    *decimal.Decimal `json:"weight,omitempty"`
	Pieces    *int64           `json:"pieces,omitempty"`
	CODAmount *decimal.Decimal `json:"codAmount,omitempty"`
}
