package booking

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/CourierSync/internal/apperr"
	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	MarkBooked(ctx context.Context, upd storage.BookedUpdate) (models.StatusChange, error)
	EnqueueBooking(ctx context.Context, e *models.BookingQueueEntry) (*models.BookingQueueEntry, error)
}

type Publisher interface {
	StatusChanged(ctx context.Context, c models.StatusChange, source string, courierCode, trackingID *string)
}

type Request struct {
	OrderID   string           `json:"orderId"`
	CourierID string           `json:"courierId"`
	Pickup    *models.Address  `json:"pickupAddress,omitempty"`
	Delivery  *models.Address  `json:"deliveryAddress,omitempty"`
	Weight    *decimal.Decimal `json:"weight,omitempty"`
	Pieces    *int64           `json:"pieces,omitempty"`
	CODAmount *decimal.Decimal `json:"codAmount,omitempty"`
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OrderID, validation.Required),
		validation.Field(&r.CourierID, validation.Required),
		validation.Field(&r.Pieces, validation.Min(int64(1))),
		validation.Field(&r.Weight, validation.By(positiveDecimal)),
		validation.Field(&r.CODAmount, validation.By(nonNegativeDecimal)),
	)
}

func (r Request) overrides() Overrides {
	return Overrides{Pickup: r.Pickup, Delivery: r.Delivery, Weight: r.Weight, Pieces: r.Pieces, COD: r.CODAmount}
}

type Result struct {
	Success    bool   `json:"success"`
	TrackingID string `json:"trackingId,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	// Queued is true when the failure left a retryable queue entry.
	Queued bool `json:"queued,omitempty"`
}

type Service struct {
	repo       Repository
	booker     *Booker
	pub        Publisher
	maxRetries int
	now        func() time.Time
}

func NewService(repo Repository, booker *Booker, pub Publisher) *Service {
	return &Service{
		repo:       repo,
		booker:     booker,
		pub:        pub,
		maxRetries: models.DefaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithMaxRetries(n int) *Service {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// Book runs the synchronous booking path. Courier failures are not returned as errors: they
// are reported in Result and leave a queue entry behind.
func (s *Service) Book(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, apperr.Validation(apperr.CodeInvalidInput, err.Error(), "")
	}
	courierCode := strings.ToLower(strings.TrimSpace(req.CourierID))

	o, err := s.repo.GetOrder(ctx, req.OrderID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, apperr.NotFound("order not found")
	}
	if err != nil {
		return Result{}, apperr.Internal(errors.Wrap(err, "get order"))
	}
	if o.TrackingID != nil && *o.TrackingID != "" && o.Status.AtLeast(models.OrderStatusBooked) {
		return Result{}, apperr.Conflict(apperr.CodeAlreadyBooked, "order already booked with tracking id "+*o.TrackingID)
	}

	res, bookErr := s.booker.Attempt(ctx, o, courierCode, req.overrides())
	now := s.now()
	if bookErr != nil {
		return s.enqueue(ctx, o, courierCode, bookErr, now)
	}

	change, err := s.repo.MarkBooked(ctx, storage.BookedUpdate{
		OrderID:     o.ID,
		CourierCode: courierCode,
		TrackingID:  res.TrackingID,
		Raw:         res.Raw,
		At:          now,
	})
	if err != nil {
		// курьер уже создал отправление: трек-номер обязательно в лог
		slog.Error("persist booking", "order_id", o.ID, "tracking_id", res.TrackingID, "error", err.Error())
		return Result{}, apperr.Internal(errors.Wrap(err, "mark booked"))
	}
	change.Reason = "booked"
	s.pub.StatusChanged(ctx, change, "booking", &courierCode, &res.TrackingID)

	slog.Info("order booked", "order_id", o.ID, "courier", courierCode, "tracking_id", res.TrackingID)
	return Result{Success: true, TrackingID: res.TrackingID}, nil
}

func (s *Service) enqueue(ctx context.Context, o *models.Order, courierCode string, bookErr error, now time.Time) (Result, error) {
	class := courier.Classify(bookErr)
	code := courier.CodeOf(bookErr)
	msg := bookErr.Error()

	entry := &models.BookingQueueEntry{
		OrderID:          o.ID,
		CourierCode:      courierCode,
		MaxRetries:       s.maxRetries,
		NextRetryAt:      now,
		Status:           models.QueueStatusPending,
		LastErrorCode:    &code,
		LastErrorMessage: &msg,
	}
	if class != courier.ClassRetryable {
		entry.Status = models.QueueStatusFailed
	}
	saved, err := s.repo.EnqueueBooking(ctx, entry)
	if err != nil {
		slog.Error("enqueue booking", "order_id", o.ID, "error", err.Error())
		return Result{}, apperr.Internal(errors.Wrap(err, "enqueue booking"))
	}

	slog.Warn("booking failed", "order_id", o.ID, "courier", courierCode, "class", class, "code", code, "queue_status", saved.Status)
	return Result{
		Success:   false,
		Error:     msg,
		ErrorCode: code,
		Queued:    saved.Status != models.QueueStatusFailed,
	}, nil
}

func positiveDecimal(v any) error {
	d, _ := v.(*decimal.Decimal)
	if d != nil && !d.IsPositive() {
		return errors.New("must be greater than 0")
	}
	return nil
}

func nonNegativeDecimal(v any) error {
	d, _ := v.(*decimal.Decimal)
	if d != nil && d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}
