package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/google/uuid"
)

func (s *Store) EnqueueBooking(ctx context.Context, e *models.BookingQueueEntry) (*models.BookingQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range s.queue {
		if existing.OrderID != e.OrderID || existing.Status.Terminal() {
			continue
		}
		existing.CourierCode = e.CourierCode
		existing.LastErrorCode = e.LastErrorCode
		existing.LastErrorMessage = e.LastErrorMessage
		if e.Status == models.QueueStatusFailed {
			existing.Status = models.QueueStatusFailed
		}
		existing.UpdatedAt = now
		return cloneEntry(existing), nil
	}

	c := cloneEntry(e)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = models.DefaultMaxRetries
	}
	if c.Status == "" {
		c.Status = models.QueueStatusPending
	}
	if c.NextRetryAt.IsZero() {
		c.NextRetryAt = now
	}
	c.CreatedAt, c.UpdatedAt = now, now
	s.queue[c.ID] = c
	return cloneEntry(c), nil
}

func (s *Store) ClaimDueBookings(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.BookingQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.BookingQueueEntry
	for _, e := range s.queue {
		if e.Due(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	leaseUntil := storage.LeaseTime(now.Add(lease))
	out := make([]*models.BookingQueueEntry, 0, len(due))
	for _, e := range due {
		e.NextRetryAt = leaseUntil
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *Store) AcquireBooking(ctx context.Context, id string, held, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.queue[id]
	if !ok || cur.Status.Terminal() || !cur.NextRetryAt.Equal(held) {
		return storage.ErrConflict
	}
	cur.NextRetryAt = storage.LeaseTime(until)
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SaveBookingAttempt(ctx context.Context, e *models.BookingQueueEntry, prev storage.QueueGuard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.queue[e.ID]
	if !ok || cur.RetryCount != prev.RetryCount || cur.Status != prev.Status || !cur.NextRetryAt.Equal(prev.NextRetryAt) {
		return storage.ErrConflict
	}
	s.queue[e.ID] = cloneEntry(e)
	return nil
}

func (s *Store) ListBookingQueue(ctx context.Context, orderID string) ([]*models.BookingQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.BookingQueueEntry
	for _, e := range s.queue {
		if e.OrderID == orderID {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
