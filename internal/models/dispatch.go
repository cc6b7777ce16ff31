package models

import (
	"encoding/json"
	"time"
)

// Dispatch exists once an order was handed to a courier. Manual dispatches (no courier tracking id)
// protect the order from automated downgrades.
type Dispatch struct {
	ID            string
	OrderID       string
	CourierCode   string
	TrackingID    *string
	Status        ShipmentStatus
	Manual        bool
	LastResponse  json.RawMessage
	DispatchedBy  *string
	DispatchedAt  time.Time
	LastCheckedAt *time.Time
	UpdatedAt     time.Time
}

// TrackingHistory - одна запись на каждый опрос курьера, только добавляется.
type TrackingHistory struct {
	ID              uint64
	TrackingID      string
	CourierCode     string
	Status          ShipmentStatus
	RawStatus       string
	CurrentLocation *string
	RawResponse     json.RawMessage
	CheckedAt       time.Time
}

// ShipmentSnapshot is the cached current state of one shipment.
type ShipmentSnapshot struct {
	TrackingID  string         `json:"tracking_id"`
	OrderID     string         `json:"order_id"`
	CourierCode string         `json:"courier_code"`
	Status      ShipmentStatus `json:"status"`
	RawStatus   string         `json:"raw_status,omitempty"`
	Location    *string        `json:"location,omitempty"`
	CheckedAt   *time.Time     `json:"checked_at,omitempty"`
}
