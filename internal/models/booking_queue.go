package models

import (
	"fmt"
	"time"
)

type QueueStatus string

const (
	QueueStatusPending  QueueStatus = "pending"
	QueueStatusRetrying QueueStatus = "retrying"
	QueueStatusSuccess  QueueStatus = "success"
	QueueStatusFailed   QueueStatus = "failed"
)

func (s QueueStatus) Terminal() bool {
	return s == QueueStatusSuccess || s == QueueStatusFailed
}

const DefaultMaxRetries = 5

// BookingQueueEntry is one booking that failed and waits for the retry scheduler.
type BookingQueueEntry struct {
	ID               string
	OrderID          string
	CourierCode      string
	RetryCount       int
	MaxRetries       int
	NextRetryAt      time.Time
	LastErrorCode    *string
	LastErrorMessage *string
	Status           QueueStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ErrTerminalEntry is returned when a terminal entry is asked to change.
type ErrTerminalEntry struct {
	ID     string
	Status QueueStatus
}

func (e *ErrTerminalEntry) Error() string {
	return fmt.Sprintf("booking queue entry %s is terminal (%s)", e.ID, e.Status)
}

// Due reports whether the scheduler may pick the entry up at now.
func (e *BookingQueueEntry) Due(now time.Time) bool {
	if e.Status != QueueStatusPending && e.Status != QueueStatusRetrying {
		return false
	}
	return !e.NextRetryAt.After(now) && e.RetryCount < e.MaxRetries
}

func (e *BookingQueueEntry) Succeed(now time.Time) error {
	if e.Status.Terminal() {
		return &ErrTerminalEntry{ID: e.ID, Status: e.Status}
	}
	e.Status = QueueStatusSuccess
	e.UpdatedAt = now.UTC()
	return nil
}

// Fail records a failed attempt. delay receives the post-increment retry count.
// A permanent failure or reaching MaxRetries makes the entry failed.
func (e *BookingQueueEntry) Fail(now time.Time, code, msg string, permanent bool, delay func(retryCount int) time.Duration) error {
	if e.Status.Terminal() {
		return &ErrTerminalEntry{ID: e.ID, Status: e.Status}
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = DefaultMaxRetries
	}
	if e.RetryCount < e.MaxRetries {
		e.RetryCount++
	}
	e.LastErrorCode = &code
	e.LastErrorMessage = &msg
	e.UpdatedAt = now.UTC()

	if permanent || e.RetryCount >= e.MaxRetries {
		e.Status = QueueStatusFailed
		return nil
	}
	e.Status = QueueStatusRetrying
	e.NextRetryAt = now.UTC().Add(delay(e.RetryCount))
	return nil
}
