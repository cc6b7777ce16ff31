package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Address struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	Country string `json:"country,omitempty"`
}

func (a Address) Empty() bool {
	return strings.TrimSpace(a.Line1) == "" && strings.TrimSpace(a.City) == ""
}

type LineItem struct {
	ID        int64
	OrderID   string
	ProductID *string
	Name      string
	Quantity  int64
}

type Order struct {
	ID                 string
	OrderNumber        string
	ShopifyOrderNumber *string
	CustomerName       string
	Status             OrderStatus
	CourierCode        *string
	TrackingID         *string
	ShippingAddress    Address
	CODAmount          decimal.Decimal
	OutletID           *string
	Tags               []string
	Items              []LineItem

	DispatchedAt   *time.Time
	DeliveredAt    *time.Time
	ReturnedAt     *time.Time
	LastVerifiedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TotalUnits is the sum of line item quantities.
func (o *Order) TotalUnits() int64 {
	var n int64
	for _, it := range o.Items {
		if it.Quantity > 0 {
			n += it.Quantity
		}
	}
	return n
}

const statusTagPrefix = "status:"

// RewriteStatusTags drops tags derived from a previous status and adds the one for s.
func RewriteStatusTags(tags []string, s OrderStatus) []string {
	out := make([]string, 0, len(tags)+1)
	for _, t := range tags {
		low := strings.ToLower(strings.TrimSpace(t))
		if strings.HasPrefix(low, statusTagPrefix) {
			continue
		}
		if OrderStatus(low).Valid() {
			continue
		}
		out = append(out, t)
	}
	return append(out, statusTagPrefix+string(s))
}

// ApplyStatus sets status, terminal timestamps and status tags. It does not validate the transition.
func (o *Order) ApplyStatus(s OrderStatus, at time.Time) {
	o.Status = s
	o.Tags = RewriteStatusTags(o.Tags, s)
	t := at.UTC()
	switch s {
	case OrderStatusDispatched:
		if o.DispatchedAt == nil {
			o.DispatchedAt = &t
		}
	case OrderStatusDelivered:
		o.DeliveredAt = &t
	case OrderStatusReturned:
		o.ReturnedAt = &t
	}
	o.UpdatedAt = t
}
