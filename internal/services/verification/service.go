package verification

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/pkg/errors"
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

type Repository interface {
	ListUnverifiedDelivered(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error)
	CountUnverifiedDelivered(ctx context.Context, cutoff time.Time) (int, error)
	GetDispatchByOrderID(ctx context.Context, orderID string) (*models.Dispatch, error)
	MarkVerified(ctx context.Context, orderID string, at time.Time) error
	DowngradeOrder(ctx context.Context, d storage.Downgrade) (models.StatusChange, error)
}

type Couriers interface {
	Get(code string) (courier.Client, bool)
}

type Publisher interface {
	StatusChanged(ctx context.Context, c models.StatusChange, source string, courierCode, trackingID *string)
}

type DowngradedOrder struct {
	OrderNumber   string             `json:"order_number"`
	Courier       string             `json:"courier"`
	CourierStatus string             `json:"courier_status"`
	NewStatus     models.OrderStatus `json:"new_status"`
}

type Result struct {
	Processed        int               `json:"processed"`
	Verified         int               `json:"verified"`
	Downgraded       int               `json:"downgraded"`
	Skipped          int               `json:"skipped"`
	Errors           int               `json:"errors"`
	HasMore          bool              `json:"hasMore"`
	DowngradedOrders []DowngradedOrder `json:"downgradedOrders"`
}

// Service re-checks delivered orders against the courier of record.
type Service struct {
	repo     Repository
	couriers Couriers
	pub      Publisher

	recheckAfter time.Duration
	itemTimeout  time.Duration
	now          func() time.Time
}

func New(repo Repository, couriers Couriers, pub Publisher) *Service {
	return &Service{
		repo:         repo,
		couriers:     couriers,
		pub:          pub,
		recheckAfter: 24 * time.Hour,
		itemTimeout:  8 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithSettings(recheckAfter, itemTimeout time.Duration) *Service {
	if recheckAfter > 0 {
		s.recheckAfter = recheckAfter
	}
	if itemTimeout > 0 {
		s.itemTimeout = itemTimeout
	}
	return s
}

type verdict int

const (
	verdictVerified verdict = iota
	verdictDowngraded
	verdictSkipped
)

func (s *Service) Run(ctx context.Context, batchSize int) (Result, error) {
	switch {
	case batchSize <= 0:
		batchSize = DefaultBatchSize
	case batchSize > MaxBatchSize:
		batchSize = MaxBatchSize
	}
	cutoff := s.now().Add(-s.recheckAfter)

	orders, err := s.repo.ListUnverifiedDelivered(ctx, cutoff, batchSize)
	if err != nil {
		return Result{}, errors.Wrap(err, "list unverified delivered")
	}

	res := Result{DowngradedOrders: []DowngradedOrder{}}
	for _, o := range orders {
		res.Processed++
		v, d, err := s.verifyOne(ctx, o)
		if err != nil {
			res.Errors++
			slog.Error("verify delivery", "order_id", o.ID, "order_number", o.OrderNumber, "error", err.Error())
			// штамп ставим и при ошибке, иначе заказ навсегда останется в голове очереди
			s.stamp(ctx, o.ID)
			continue
		}
		switch v {
		case verdictVerified:
			res.Verified++
		case verdictDowngraded:
			res.Downgraded++
			res.DowngradedOrders = append(res.DowngradedOrders, d)
		default:
			res.Skipped++
		}
	}

	left, err := s.repo.CountUnverifiedDelivered(ctx, cutoff)
	if err != nil {
		return res, errors.Wrap(err, "count unverified delivered")
	}
	res.HasMore = left > 0

	slog.Info("delivery verification done",
		"processed", res.Processed, "verified", res.Verified, "downgraded", res.Downgraded,
		"skipped", res.Skipped, "errors", res.Errors)
	return res, nil
}

func (s *Service) verifyOne(ctx context.Context, o *models.Order) (verdict, DowngradedOrder, error) {
	courierCode, trackingID, manual, err := s.shipmentOf(ctx, o)
	if err != nil {
		return 0, DowngradedOrder{}, err
	}
	if manual || trackingID == "" {
		s.stamp(ctx, o.ID)
		return verdictSkipped, DowngradedOrder{}, nil
	}

	client, ok := s.couriers.Get(courierCode)
	if !ok {
		return 0, DowngradedOrder{}, errors.Errorf("courier %q is not configured", courierCode)
	}

	tctx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	tr, err := client.Track(tctx, trackingID)
	cancel()
	if err != nil {
		return 0, DowngradedOrder{}, errors.Wrap(err, "track")
	}

	// status_map may name delivery with a bare code ("DV"), so the normalized status counts too
	if tr.Status == models.ShipmentStatusDelivered || courier.Delivered(tr.RawStatus) {
		s.stamp(ctx, o.ID)
		return verdictVerified, DowngradedOrder{}, nil
	}

	to := DowngradeTarget(tr.RawStatus, tr.Status)
	change, err := s.repo.DowngradeOrder(ctx, storage.Downgrade{
		OrderID:     o.ID,
		From:        models.OrderStatusDelivered,
		To:          to,
		CourierCode: courierCode,
		RawStatus:   tr.RawStatus,
		Reason:      models.ReasonCourierVerificationFailed,
		At:          s.now(),
	})
	if errors.Is(err, storage.ErrConflict) {
		// статус уже сменил кто-то другой
		return verdictSkipped, DowngradedOrder{}, nil
	}
	if err != nil {
		return 0, DowngradedOrder{}, errors.Wrap(err, "downgrade order")
	}
	change.Reason = models.ReasonCourierVerificationFailed
	s.pub.StatusChanged(ctx, change, "verification", &courierCode, &trackingID)

	slog.Warn("delivered order downgraded", "order_number", o.OrderNumber, "courier", courierCode,
		"courier_status", tr.RawStatus, "new_status", to)
	return verdictDowngraded, DowngradedOrder{
		OrderNumber:   o.OrderNumber,
		Courier:       courierCode,
		CourierStatus: tr.RawStatus,
		NewStatus:     to,
	}, nil
}

// shipmentOf prefers the dispatch record; orders booked without one fall back to their own fields.
func (s *Service) shipmentOf(ctx context.Context, o *models.Order) (courierCode, trackingID string, manual bool, err error) {
	d, err := s.repo.GetDispatchByOrderID(ctx, o.ID)
	switch {
	case err == nil:
		if d.Manual {
			return d.CourierCode, "", true, nil
		}
		if d.TrackingID != nil {
			return d.CourierCode, *d.TrackingID, false, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return "", "", false, errors.Wrap(err, "get dispatch")
	}
	if o.CourierCode != nil {
		courierCode = *o.CourierCode
	}
	if o.TrackingID != nil {
		trackingID = *o.TrackingID
	}
	return courierCode, trackingID, false, nil
}

func (s *Service) stamp(ctx context.Context, orderID string) {
	if err := s.repo.MarkVerified(ctx, orderID, s.now()); err != nil {
		slog.Error("mark verified", "order_id", orderID, "error", err.Error())
	}
}
