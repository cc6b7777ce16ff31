package models

import (
	"fmt"
	"time"
)

// OrderStatus - статус заказа в логистическом жизненном цикле.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusAddressPending   OrderStatus = "address_pending"
	OrderStatusAddressConfirmed OrderStatus = "address_confirmed"
	OrderStatusBooked           OrderStatus = "booked"
	OrderStatusDispatched       OrderStatus = "dispatched"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusReturned         OrderStatus = "returned"
	OrderStatusCancelled        OrderStatus = "cancelled"
)

var orderRank = map[OrderStatus]int{
	OrderStatusPending:          0,
	OrderStatusAddressPending:   0,
	OrderStatusAddressConfirmed: 1,
	OrderStatusBooked:           2,
	OrderStatusDispatched:       3,
	OrderStatusDelivered:        4,
	OrderStatusReturned:         5,
	OrderStatusCancelled:        5,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderRank[s]
	return ok
}

// Terminal statuses are never left by forward transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusReturned || s == OrderStatusCancelled
}

// Open orders hold reserved stock.
func (s OrderStatus) Open() bool {
	return s.Valid() && !s.Terminal()
}

// TransitionMode selects which rule set CheckTransition applies.
type TransitionMode int

const (
	// TransitionForward follows the lifecycle: rank never decreases, terminal states are left only
	// for delivered -> returned.
	TransitionForward TransitionMode = iota
	// TransitionDriftCorrection moves a delivered order back when the courier disagrees.
	TransitionDriftCorrection
)

var driftTargets = map[OrderStatus]bool{
	OrderStatusDispatched: true,
	OrderStatusBooked:     true,
	OrderStatusReturned:   true,
	OrderStatusCancelled:  true,
}

// ErrIllegalTransition is returned (wrapped) by CheckTransition.
type ErrIllegalTransition struct {
	From OrderStatus
	To   OrderStatus
	Mode TransitionMode
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s", e.From, e.To)
}

// CheckTransition reports whether an order may move from one status to another.
// from == to is always allowed so that re-applying a target state is a no-op.
func CheckTransition(from, to OrderStatus, mode TransitionMode) error {
	if !from.Valid() || !to.Valid() {
		return &ErrIllegalTransition{From: from, To: to, Mode: mode}
	}
	if from == to {
		return nil
	}
	switch mode {
	case TransitionDriftCorrection:
		if from == OrderStatusDelivered && driftTargets[to] {
			return nil
		}
	default:
		switch {
		case from == OrderStatusDelivered && to == OrderStatusReturned:
			return nil
		case from.Terminal():
		case to == OrderStatusCancelled:
			return nil
		case orderRank[to] >= orderRank[from]:
			return nil
		}
	}
	return &ErrIllegalTransition{From: from, To: to, Mode: mode}
}

// ShipmentStatus - нормализованный статус отправления (не зависит от курьера).
type ShipmentStatus string

const (
	ShipmentStatusBooked         ShipmentStatus = "booked"
	ShipmentStatusInTransit      ShipmentStatus = "in_transit"
	ShipmentStatusOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentStatusDelivered      ShipmentStatus = "delivered"
	ShipmentStatusReturned       ShipmentStatus = "returned"
	ShipmentStatusCancelled      ShipmentStatus = "cancelled"
)

func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentStatusDelivered || s == ShipmentStatusReturned || s == ShipmentStatusCancelled
}

// TerminalShipmentStatuses is the set excluded from tracking sweeps.
var TerminalShipmentStatuses = []ShipmentStatus{
	ShipmentStatusDelivered,
	ShipmentStatusReturned,
	ShipmentStatusCancelled,
}

// OrderStatusFor maps a terminal shipment status onto the order lifecycle.
func OrderStatusFor(s ShipmentStatus) (OrderStatus, bool) {
	switch s {
	case ShipmentStatusDelivered:
		return OrderStatusDelivered, true
	case ShipmentStatusReturned:
		return OrderStatusReturned, true
	default:
		return "", false
	}
}

// StatusChange is the outcome of an order status write. From == To means nothing changed.
type StatusChange struct {
	OrderID     string
	OrderNumber string
	From        OrderStatus
	To          OrderStatus
	Reason      string
	At          time.Time
}

func (c StatusChange) Changed() bool { return c.From != c.To }

// AtLeast reports whether s is at or past other in the lifecycle.
func (s OrderStatus) AtLeast(other OrderStatus) bool {
	return s.Valid() && orderRank[s] >= orderRank[other]
}
