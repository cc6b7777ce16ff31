package models

import (
	"encoding/json"
	"time"
)

const (
	EntityOrder     = "order"
	EntityInventory = "inventory"

	ActionStatusDowngraded = "status_downgraded"
	ActionReservedFixed    = "reserved_quantity_fixed"

	ReasonCourierVerificationFailed = "Courier API verification failed"
	ReasonReservedDrift             = "Reserved quantity did not match open orders"
)

// ActivityLog is an append-only audit row.
type ActivityLog struct {
	ID         string
	EntityType string
	EntityID   string
	Action     string
	Reason     string
	Details    json.RawMessage
	CreatedAt  time.Time
}

// Settings are the global booking settings (pickup address and defaults).
type Settings struct {
	PickupAddress      Address `json:"pickup_address"`
	DefaultCourierCode string  `json:"default_courier_code,omitempty"`
	KgPerUnit          int64   `json:"kg_per_unit"`
}
