package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/services/booking"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/pkg/errors"
)

type Repository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ClaimDueBookings(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.BookingQueueEntry, error)
	AcquireBooking(ctx context.Context, id string, held, until time.Time) error
	SaveBookingAttempt(ctx context.Context, e *models.BookingQueueEntry, prev storage.QueueGuard) error
	MarkBooked(ctx context.Context, upd storage.BookedUpdate) (models.StatusChange, error)
}

type Booker interface {
	Attempt(ctx context.Context, o *models.Order, courierCode string, ov booking.Overrides) (courier.BookingResult, error)
}

type Publisher interface {
	StatusChanged(ctx context.Context, c models.StatusChange, source string, courierCode, trackingID *string)
}

const (
	StatusSuccess        = "success"
	StatusFailed         = "failed"
	StatusScheduledRetry = "scheduled_retry"
)

type EntryResult struct {
	OrderID   string     `json:"orderId"`
	Status    string     `json:"status"`
	NextRetry *time.Time `json:"nextRetry,omitempty"`
	Attempt   int        `json:"attempt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type RunResult struct {
	Success          bool          `json:"success"`
	RetriesProcessed int           `json:"retriesProcessed"`
	Results          []EntryResult `json:"results"`
}

// Scheduler drains due booking queue entries through the Booker.
type Scheduler struct {
	repo    Repository
	booker  Booker
	pub     Publisher
	planner *Planner

	batchSize      int
	lease          time.Duration
	attemptTimeout time.Duration
	now            func() time.Time
}

func NewScheduler(repo Repository, booker Booker, pub Publisher, planner *Planner) *Scheduler {
	if planner == nil {
		planner = NewPlanner(nil)
	}
	return &Scheduler{
		repo:           repo,
		booker:         booker,
		pub:            pub,
		planner:        planner,
		batchSize:      20,
		lease:          2 * time.Minute,
		attemptTimeout: time.Minute,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) WithSettings(batchSize int, lease time.Duration) *Scheduler {
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if lease > 0 {
		s.lease = lease
	}
	return s
}

// WithAttemptTimeout bounds one courier call; the per-entry claim outlives it by the lease.
func (s *Scheduler) WithAttemptTimeout(d time.Duration) *Scheduler {
	if d > 0 {
		s.attemptTimeout = d
	}
	return s
}

func (s *Scheduler) Run(ctx context.Context) (RunResult, error) {
	now := s.now()
	entries, err := s.repo.ClaimDueBookings(ctx, now, s.batchSize, s.lease)
	if err != nil {
		return RunResult{}, errors.Wrap(err, "claim due bookings")
	}

	out := RunResult{Success: true, Results: make([]EntryResult, 0, len(entries))}
	for _, e := range entries {
		r, err := s.process(ctx, e)
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				// запись изменилась параллельно: другой запуск уже обработал её
				slog.Info("booking entry changed concurrently", "entry_id", e.ID, "order_id", e.OrderID)
				continue
			}
			slog.Error("process booking retry", "entry_id", e.ID, "order_id", e.OrderID, "error", err.Error())
			r = EntryResult{OrderID: e.OrderID, Status: StatusFailed, Error: err.Error()}
		}
		out.Results = append(out.Results, r)
	}
	out.RetriesProcessed = len(out.Results)
	return out, nil
}

func (s *Scheduler) process(ctx context.Context, e *models.BookingQueueEntry) (EntryResult, error) {
	now := s.now()

	// Пачечный lease мог истечь, пока обрабатывались предыдущие записи: перед вызовом курьера
	// забираем именно эту запись. Чужой запуск за это время сдвинул бы next_retry_at.
	until := storage.LeaseTime(now.Add(s.attemptTimeout + s.lease))
	if err := s.repo.AcquireBooking(ctx, e.ID, e.NextRetryAt, until); err != nil {
		return EntryResult{}, err
	}
	e.NextRetryAt = until
	prev := storage.GuardOf(e)
	prevRetry := e.RetryCount

	o, err := s.repo.GetOrder(ctx, e.OrderID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.fail(ctx, e, prev, "ORDER_NOT_FOUND", "order no longer exists", true, now)
	}
	if err != nil {
		return EntryResult{}, errors.Wrap(err, "get order")
	}

	// забронировано другим путём: закрываем запись без второго вызова курьера
	if o.TrackingID != nil && *o.TrackingID != "" && o.Status.AtLeast(models.OrderStatusBooked) {
		if err := e.Succeed(now); err != nil {
			return EntryResult{}, err
		}
		if err := s.repo.SaveBookingAttempt(ctx, e, prev); err != nil {
			return EntryResult{}, err
		}
		return EntryResult{OrderID: e.OrderID, Status: StatusSuccess, Attempt: prevRetry}, nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	res, bookErr := s.booker.Attempt(attemptCtx, o, e.CourierCode, booking.Overrides{})
	cancel()
	now = s.now()
	if bookErr != nil {
		permanent := courier.Classify(bookErr) != courier.ClassRetryable
		return s.fail(ctx, e, prev, courier.CodeOf(bookErr), bookErr.Error(), permanent, now)
	}

	if err := e.Succeed(now); err != nil {
		return EntryResult{}, err
	}
	if err := s.repo.SaveBookingAttempt(ctx, e, prev); err != nil {
		// claim lost after the courier accepted: keep the first booking, report this one for cancellation
		slog.Error("booking retry lost its claim", "entry_id", e.ID, "order_id", o.ID,
			"tracking_id", res.TrackingID, "error", err.Error())
		return EntryResult{}, err
	}

	change, err := s.repo.MarkBooked(ctx, storage.BookedUpdate{
		OrderID:     o.ID,
		CourierCode: e.CourierCode,
		TrackingID:  res.TrackingID,
		Raw:         res.Raw,
		At:          now,
	})
	if err != nil {
		slog.Error("persist retried booking", "order_id", o.ID, "tracking_id", res.TrackingID, "error", err.Error())
		return EntryResult{}, errors.Wrap(err, "mark booked")
	}
	change.Reason = "booked on retry"
	s.pub.StatusChanged(ctx, change, "booking", &e.CourierCode, &res.TrackingID)

	slog.Info("booking retry succeeded", "order_id", o.ID, "attempt", prevRetry+1, "tracking_id", res.TrackingID)
	return EntryResult{OrderID: e.OrderID, Status: StatusSuccess, Attempt: prevRetry + 1}, nil
}

func (s *Scheduler) fail(ctx context.Context, e *models.BookingQueueEntry, prev storage.QueueGuard,
	code, msg string, permanent bool, now time.Time,
) (EntryResult, error) {
	if err := e.Fail(now, code, msg, permanent, s.planner.Delay); err != nil {
		return EntryResult{}, err
	}
	if err := s.repo.SaveBookingAttempt(ctx, e, prev); err != nil {
		return EntryResult{}, err
	}

	r := EntryResult{OrderID: e.OrderID, Attempt: e.RetryCount, Error: msg}
	if e.Status == models.QueueStatusFailed {
		r.Status = StatusFailed
		slog.Warn("booking retries exhausted", "order_id", e.OrderID, "retry_count", e.RetryCount, "code", code)
		return r, nil
	}
	next := e.NextRetryAt
	r.Status = StatusScheduledRetry
	r.NextRetry = &next
	return r, nil
}
