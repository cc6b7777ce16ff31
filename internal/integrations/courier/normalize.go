package courier

import (
	"strings"

	"github.com/BearBump/CourierSync/internal/models"
)

var negatedDelivered = []string{"undelivered", "not delivered", "non delivered", "non-delivered", "delivery failed", "failed delivery", "unable to deliver"}

// Delivered reports whether a raw courier status means the parcel reached the consignee.
func Delivered(raw string) bool {
	low := strings.ToLower(strings.TrimSpace(raw))
	if low == "" {
		return false
	}
	for _, n := range negatedDelivered {
		if strings.Contains(low, n) {
			return false
		}
	}
	return strings.Contains(low, "delivered") || strings.Contains(low, "complete") || strings.Contains(low, "received")
}

type rule struct {
	needles []string
	status  models.ShipmentStatus
}

// Order matters: return markers win over "delivered" ("returned to shipper", "RTO delivered").
var shipmentRules = []rule{
	{[]string{"return", "rto"}, models.ShipmentStatusReturned},
	{[]string{"cancel"}, models.ShipmentStatusCancelled},
	{[]string{"out for delivery", "out_for_delivery", "with rider", "on route"}, models.ShipmentStatusOutForDelivery},
	{[]string{"transit", "arrived", "departed", "dispatched", "hub"}, models.ShipmentStatusInTransit},
	{[]string{"booked", "picked", "pickup", "created", "consignment"}, models.ShipmentStatusBooked},
}

// Normalize maps a courier-native status to the canonical shipment status. An explicit entry in
// statusMap (case-insensitive) wins over the built-in rules.
func Normalize(raw string, statusMap map[string]string) models.ShipmentStatus {
	low := strings.ToLower(strings.TrimSpace(raw))
	for k, v := range statusMap {
		if strings.ToLower(k) == low {
			return models.ShipmentStatus(v)
		}
	}
	for _, r := range shipmentRules[:2] {
		if containsAny(low, r.needles) {
			return r.status
		}
	}
	if Delivered(low) {
		return models.ShipmentStatusDelivered
	}
	for _, r := range shipmentRules[2:] {
		if containsAny(low, r.needles) {
			return r.status
		}
	}
	return models.ShipmentStatusInTransit
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
