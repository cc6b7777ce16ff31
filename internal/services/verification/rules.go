package verification

import (
	"strings"

	"github.com/BearBump/CourierSync/internal/models"
)

type rule struct {
	needles []string
	to      models.OrderStatus
}

// Порядок важен: первое совпадение выигрывает.
var downgradeRules = []rule{
	{needles: []string{"transit"}, to: models.OrderStatusDispatched},
	{needles: []string{"booked", "picked"}, to: models.OrderStatusBooked},
	{needles: []string{"return", "rto"}, to: models.OrderStatusReturned},
	{needles: []string{"cancel"}, to: models.OrderStatusCancelled},
}

// DowngradeTarget maps a courier status that contradicts "delivered" onto the order lifecycle.
// Raw wording is checked first; courier codes with no recognizable wording ("RT", "CN") fall
// back to the normalized status the adapter produced.
func DowngradeTarget(raw string, normalized models.ShipmentStatus) models.OrderStatus {
	s := strings.ToLower(raw)
	for _, r := range downgradeRules {
		for _, n := range r.needles {
			if strings.Contains(s, n) {
				return r.to
			}
		}
	}
	switch normalized {
	case models.ShipmentStatusReturned:
		return models.OrderStatusReturned
	case models.ShipmentStatusCancelled:
		return models.OrderStatusCancelled
	case models.ShipmentStatusBooked:
		return models.OrderStatusBooked
	}
	return models.OrderStatusDispatched
}
