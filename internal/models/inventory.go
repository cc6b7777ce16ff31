package models

import "time"

type InventoryRecord struct {
	ID                string
	ProductID         string
	ProductName       string
	OutletID          string
	Quantity          int64
	ReservedQuantity  int64
	AvailableQuantity int64
	UpdatedAt         time.Time
}

// OpenOrderItem is a line item of an order in a non-terminal status.
type OpenOrderItem struct {
	OrderID     string
	OrderNumber string
	OutletID    *string
	ProductID   *string
	Name        string
	Quantity    int64
}

type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)
