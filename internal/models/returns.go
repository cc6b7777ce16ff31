package models

import (
	"fmt"
	"time"
)

type ReturnStatus string

const (
	ReturnStatusInTransit ReturnStatus = "in_transit"
	ReturnStatusReceived  ReturnStatus = "received"
	ReturnStatusClaimed   ReturnStatus = "claimed"
	ReturnStatusProcessed ReturnStatus = "processed"
)

var returnNext = map[ReturnStatus][]ReturnStatus{
	ReturnStatusInTransit: {ReturnStatusReceived, ReturnStatusClaimed},
	ReturnStatusReceived:  {ReturnStatusClaimed, ReturnStatusProcessed},
	ReturnStatusClaimed:   {ReturnStatusProcessed},
}

// CheckReturnTransition validates a return status change. An empty from means "no record yet".
func CheckReturnTransition(from, to ReturnStatus) error {
	if from == "" {
		if to == ReturnStatusInTransit || to == ReturnStatusReceived {
			return nil
		}
		return fmt.Errorf("return record cannot start at %s", to)
	}
	for _, s := range returnNext[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("illegal return transition %s -> %s", from, to)
}

type ReturnRecord struct {
	ID           string
	OrderID      string
	CourierCode  *string
	TrackingID   *string
	ReturnStatus ReturnStatus
	ReceivedAt   *time.Time
	ReceivedBy   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
