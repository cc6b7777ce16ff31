package messages

import (
	"time"
)

// OrderStatusChanged is published on every order status write that changed the status.
type OrderStatusChanged struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Source      string    `json:"source"` // booking | tracking | verification | scan
	Reason      string    `json:"reason,omitempty"`
	TrackingID  *string   `json:"tracking_id,omitempty"`
	CourierCode *string   `json:"courier_code,omitempty"`
	ChangedAt   time.Time `json:"changed_at"`
}
