package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const queueColumns = `
  id, order_id, courier_code, retry_count, max_retries, next_retry_at,
  last_error_code, last_error_message, status, created_at, updated_at`

func scanQueueEntry(row pgx.Row) (*models.BookingQueueEntry, error) {
	var e models.BookingQueueEntry
	if err := row.Scan(
		&e.ID, &e.OrderID, &e.CourierCode, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt,
		&e.LastErrorCode, &e.LastErrorMessage, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan booking queue entry")
	}
	return &e, nil
}

func collectQueue(rows pgx.Rows) ([]*models.BookingQueueEntry, error) {
	defer rows.Close()
	var out []*models.BookingQueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// EnqueueBooking records a failed booking. An open entry of the same order is updated with the
// new error (and closed when e is already failed); retry_count is never reset.
func (s *Storage) EnqueueBooking(ctx context.Context, e *models.BookingQueueEntry) (*models.BookingQueueEntry, error) {
	now := time.Now().UTC()
	var out *models.BookingQueueEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		existing, err := scanQueueEntry(tx.QueryRow(ctx, `
SELECT `+queueColumns+`
FROM courier_booking_queue
WHERE order_id = $1 AND status IN ('pending', 'retrying')
FOR UPDATE
`, e.OrderID))
		switch {
		case err == nil:
			status := existing.Status
			if e.Status == models.QueueStatusFailed {
				status = models.QueueStatusFailed
			}
			out, err = scanQueueEntry(tx.QueryRow(ctx, `
UPDATE courier_booking_queue SET
  courier_code = $2, last_error_code = $3, last_error_message = $4, status = $5, updated_at = $6
WHERE id = $1
RETURNING `+queueColumns,
				existing.ID, e.CourierCode, e.LastErrorCode, e.LastErrorMessage, status, now))
			return err
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.MaxRetries <= 0 {
			e.MaxRetries = models.DefaultMaxRetries
		}
		if e.Status == "" {
			e.Status = models.QueueStatusPending
		}
		if e.NextRetryAt.IsZero() {
			e.NextRetryAt = now
		}
		out, err = scanQueueEntry(tx.QueryRow(ctx, `
INSERT INTO courier_booking_queue (
  id, order_id, courier_code, retry_count, max_retries, next_retry_at,
  last_error_code, last_error_message, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
RETURNING `+queueColumns,
			e.ID, e.OrderID, e.CourierCode, e.RetryCount, e.MaxRetries, e.NextRetryAt.UTC(),
			e.LastErrorCode, e.LastErrorMessage, e.Status, now))
		return err
	})
	return out, err
}

// ClaimDueBookings выбирает пачку готовых к повтору бронирований и сдвигает next_retry_at на lease,
// чтобы параллельный вызов их не взял. SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueBookings(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.BookingQueueEntry, error) {
	var picked []*models.BookingQueueEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT `+queueColumns+`
FROM courier_booking_queue
WHERE status IN ('pending', 'retrying')
  AND next_retry_at <= $1
  AND retry_count < max_retries
ORDER BY next_retry_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
		if err != nil {
			return errors.Wrap(err, "select due bookings")
		}
		picked, err = collectQueue(rows)
		if err != nil {
			return err
		}

		leaseUntil := storage.LeaseTime(now.Add(lease))
		for _, e := range picked {
			if _, err := tx.Exec(ctx, `UPDATE courier_booking_queue SET next_retry_at = $2 WHERE id = $1`, e.ID, leaseUntil); err != nil {
				return errors.Wrap(err, "lease booking")
			}
			e.NextRetryAt = leaseUntil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

// AcquireBooking moves the lease of one claimed entry from held to until. It fails with ErrConflict
// when another run re-leased the row after held expired, or the entry is already closed.
func (s *Storage) AcquireBooking(ctx context.Context, id string, held, until time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE courier_booking_queue SET next_retry_at = $3, updated_at = now()
WHERE id = $1 AND next_retry_at = $2 AND status IN ('pending', 'retrying')
`, id, storage.LeaseTime(held), storage.LeaseTime(until))
	if err != nil {
		return errors.Wrap(err, "acquire booking")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

// SaveBookingAttempt stores e only if the row still matches prev, lease included.
func (s *Storage) SaveBookingAttempt(ctx context.Context, e *models.BookingQueueEntry, prev storage.QueueGuard) error {
	tag, err := s.db.Exec(ctx, `
UPDATE courier_booking_queue SET
  retry_count = $5, next_retry_at = $6, last_error_code = $7, last_error_message = $8,
  status = $9, updated_at = $10
WHERE id = $1 AND retry_count = $2 AND status = $3 AND next_retry_at = $4
`, e.ID, prev.RetryCount, prev.Status, storage.LeaseTime(prev.NextRetryAt),
		e.RetryCount, e.NextRetryAt.UTC(), e.LastErrorCode, e.LastErrorMessage, e.Status, e.UpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "save booking attempt")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Storage) ListBookingQueue(ctx context.Context, orderID string) ([]*models.BookingQueueEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+queueColumns+`
FROM courier_booking_queue
WHERE order_id = $1
ORDER BY created_at ASC
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select booking queue")
	}
	return collectQueue(rows)
}
