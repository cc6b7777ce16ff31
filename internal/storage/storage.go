// Package storage holds what every store implementation shares: sentinel errors and write inputs.
package storage

import (
	"encoding/json"
	"time"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a guarded write lost: the row changed or the target already exists.
	ErrConflict = errors.New("conflict")
)

// BookedUpdate persists a successful booking: tracking id on the order (status -> booked when
// the lifecycle allows) and on an existing dispatch; open queue entries of the order become success.
type BookedUpdate struct {
	OrderID     string
	CourierCode string
	TrackingID  string
	Raw         json.RawMessage
	At          time.Time
}

// QueueGuard is the queue row state a writer last saw. Guarded queue writes succeed only while the
// row still matches it; NextRetryAt doubles as the claim token of whoever leased the row.
type QueueGuard struct {
	RetryCount  int
	Status      models.QueueStatus
	NextRetryAt time.Time
}

func GuardOf(e *models.BookingQueueEntry) QueueGuard {
	return QueueGuard{RetryCount: e.RetryCount, Status: e.Status, NextRetryAt: e.NextRetryAt}
}

// LeaseTime is a lease deadline at the precision Postgres stores, so it compares equal after a round trip.
func LeaseTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// TrackingUpdate is one successful courier poll of a dispatch.
type TrackingUpdate struct {
	DispatchID  string
	OrderID     string
	TrackingID  string
	CourierCode string
	Result      courier.TrackingResult
}

// Downgrade moves a delivered order back after the courier disagreed.
type Downgrade struct {
	OrderID     string
	From        models.OrderStatus
	To          models.OrderStatus
	CourierCode string
	RawStatus   string
	Reason      string
	At          time.Time
}

// StatusUpdate is a forward lifecycle write.
type StatusUpdate struct {
	OrderID string
	To      models.OrderStatus
	At      time.Time
}

type ScanDispatch struct {
	OrderID     string
	CourierCode string
	TrackingID  *string
	UserID      string
	At          time.Time
}

type ScanReturn struct {
	OrderID     string
	CourierCode *string
	TrackingID  *string
	UserID      string
	At          time.Time
}

// ReservedFix overwrites reserved_quantity only while it still equals Old.
type ReservedFix struct {
	InventoryID string
	Old         int64
	New         int64
	At          time.Time
}
