package scan

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/CourierSync/internal/apperr"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
)

const (
	MatchTrackingID          = "tracking_id"
	MatchOrderNumber         = "order_number"
	MatchPrefixedOrderNumber = "prefixed_order_number"
	MatchFuzzyOrderNumber    = "fuzzy_order_number"
	MatchShopifyOrderNumber  = "shopify_order_number"

	orderNumberPrefix = "SHOP-"
)

type Repository interface {
	FindOrderByTrackingID(ctx context.Context, trackingID string) (*models.Order, error)
	FindOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	FindOrderFuzzy(ctx context.Context, fragment string) (*models.Order, error)
	FindOrderByShopifyNumber(ctx context.Context, number string) (*models.Order, error)
	GetDispatchByOrderID(ctx context.Context, orderID string) (*models.Dispatch, error)
	CreateScanDispatch(ctx context.Context, in storage.ScanDispatch) (*models.Dispatch, error)
	GetReturnByOrderID(ctx context.Context, orderID string) (*models.ReturnRecord, error)
	ReceiveReturn(ctx context.Context, in storage.ScanReturn) (*models.ReturnRecord, error)
	UpdateOrderStatus(ctx context.Context, upd storage.StatusUpdate) (models.StatusChange, error)
}

type CourierNames interface {
	Names() []string
}

type Publisher interface {
	StatusChanged(ctx context.Context, c models.StatusChange, source string, courierCode, trackingID *string)
}

type Request struct {
	Entry     string `json:"entry"`
	CourierID string `json:"courierId,omitempty"`
	UserID    string `json:"userId"`
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Entry, validation.Required),
		validation.Field(&r.UserID, validation.Required),
	)
}

type OrderRef struct {
	OrderNumber  string `json:"order_number"`
	CustomerName string `json:"customer_name"`
}

type Result struct {
	Success        bool     `json:"success"`
	Order          OrderRef `json:"order"`
	TrackingID     *string  `json:"tracking_id"`
	MatchType      string   `json:"matchType"`
	ProcessingTime int64    `json:"processingTime"`
}

type Service struct {
	repo     Repository
	couriers CourierNames
	pub      Publisher
	now      func() time.Time
}

func New(repo Repository, couriers CourierNames, pub Publisher) *Service {
	return &Service{repo: repo, couriers: couriers, pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) validate(req Request) error {
	if err := req.Validate(); err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, err.Error(), "")
	}
	var names []string
	if s.couriers != nil {
		names = s.couriers.Names()
	}
	return ValidateEntry(req.Entry, names)
}

// Dispatch hands the scanned order to a courier.
func (s *Service) Dispatch(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if err := s.validate(req); err != nil {
		return Result{}, err
	}
	entry := strings.TrimSpace(req.Entry)

	o, match, err := s.resolve(ctx, entry)
	if err != nil {
		return Result{}, err
	}

	if _, err := s.repo.GetDispatchByOrderID(ctx, o.ID); err == nil {
		return Result{}, apperr.Conflict(apperr.CodeAlreadyDispatched, "order "+o.OrderNumber+" is already dispatched")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, apperr.Internal(errors.Wrap(err, "get dispatch"))
	}

	courierCode := strings.ToLower(strings.TrimSpace(req.CourierID))
	if courierCode == "" && o.CourierCode != nil {
		courierCode = *o.CourierCode
	}
	trackingID := o.TrackingID
	if match == MatchTrackingID {
		trackingID = &entry
	}

	now := s.now()
	d, err := s.repo.CreateScanDispatch(ctx, storage.ScanDispatch{
		OrderID:     o.ID,
		CourierCode: courierCode,
		TrackingID:  trackingID,
		UserID:      req.UserID,
		At:          now,
	})
	if errors.Is(err, storage.ErrConflict) {
		return Result{}, apperr.Conflict(apperr.CodeAlreadyDispatched, "order "+o.OrderNumber+" is already dispatched")
	}
	if err != nil {
		return Result{}, apperr.Internal(errors.Wrap(err, "create dispatch"))
	}

	s.advance(ctx, o, models.OrderStatusDispatched, now, &courierCode, d.TrackingID)

	slog.Info("order dispatched by scan", "order_number", o.OrderNumber, "match", match, "manual", d.Manual, "user_id", req.UserID)
	return Result{
		Success:        true,
		Order:          OrderRef{OrderNumber: o.OrderNumber, CustomerName: o.CustomerName},
		TrackingID:     d.TrackingID,
		MatchType:      match,
		ProcessingTime: time.Since(start).Milliseconds(),
	}, nil
}

// Return records a parcel coming back to the warehouse.
func (s *Service) Return(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if err := s.validate(req); err != nil {
		return Result{}, err
	}
	entry := strings.TrimSpace(req.Entry)

	o, match, err := s.resolve(ctx, entry)
	if err != nil {
		return Result{}, err
	}

	existing, err := s.repo.GetReturnByOrderID(ctx, o.ID)
	switch {
	case err == nil:
		if models.CheckReturnTransition(existing.ReturnStatus, models.ReturnStatusReceived) != nil {
			return Result{}, apperr.Conflict(apperr.CodeAlreadyReceived, "return for order "+o.OrderNumber+" is already received")
		}
	case !errors.Is(err, storage.ErrNotFound):
		return Result{}, apperr.Internal(errors.Wrap(err, "get return"))
	}

	var courierCode *string
	if c := strings.ToLower(strings.TrimSpace(req.CourierID)); c != "" {
		courierCode = &c
	} else {
		courierCode = o.CourierCode
	}
	trackingID := o.TrackingID
	if match == MatchTrackingID {
		trackingID = &entry
	}

	now := s.now()
	rec, err := s.repo.ReceiveReturn(ctx, storage.ScanReturn{
		OrderID:     o.ID,
		CourierCode: courierCode,
		TrackingID:  trackingID,
		UserID:      req.UserID,
		At:          now,
	})
	if errors.Is(err, storage.ErrConflict) {
		return Result{}, apperr.Conflict(apperr.CodeAlreadyReceived, "return for order "+o.OrderNumber+" is already received")
	}
	if err != nil {
		return Result{}, apperr.Internal(errors.Wrap(err, "receive return"))
	}

	s.advance(ctx, o, models.OrderStatusReturned, now, courierCode, rec.TrackingID)

	slog.Info("return received by scan", "order_number", o.OrderNumber, "match", match, "user_id", req.UserID)
	return Result{
		Success:        true,
		Order:          OrderRef{OrderNumber: o.OrderNumber, CustomerName: o.CustomerName},
		TrackingID:     rec.TrackingID,
		MatchType:      match,
		ProcessingTime: time.Since(start).Milliseconds(),
	}, nil
}

// advance is the second write of a scan: the child record is already stored, so failures are logged.
func (s *Service) advance(ctx context.Context, o *models.Order, to models.OrderStatus, at time.Time, courierCode, trackingID *string) {
	change, err := s.repo.UpdateOrderStatus(ctx, storage.StatusUpdate{OrderID: o.ID, To: to, At: at})
	if err != nil {
		slog.Error("update order status after scan", "order_id", o.ID, "to", to, "error", err.Error())
		return
	}
	change.Reason = "scan"
	s.pub.StatusChanged(ctx, change, "scan", courierCode, trackingID)
}

type lookup struct {
	match string
	find  func(ctx context.Context) (*models.Order, error)
}

// resolve tries the lookups in order; the first hit wins.
func (s *Service) resolve(ctx context.Context, entry string) (*models.Order, string, error) {
	lookups := []lookup{
		{MatchTrackingID, func(ctx context.Context) (*models.Order, error) { return s.repo.FindOrderByTrackingID(ctx, entry) }},
		{MatchOrderNumber, func(ctx context.Context) (*models.Order, error) { return s.repo.FindOrderByNumber(ctx, entry) }},
		{MatchPrefixedOrderNumber, func(ctx context.Context) (*models.Order, error) {
			if strings.HasPrefix(strings.ToUpper(entry), orderNumberPrefix) {
				return nil, storage.ErrNotFound
			}
			return s.repo.FindOrderByNumber(ctx, orderNumberPrefix+entry)
		}},
		{MatchFuzzyOrderNumber, func(ctx context.Context) (*models.Order, error) { return s.repo.FindOrderFuzzy(ctx, entry) }},
		{MatchShopifyOrderNumber, func(ctx context.Context) (*models.Order, error) { return s.repo.FindOrderByShopifyNumber(ctx, entry) }},
	}
	for _, l := range lookups {
		o, err := l.find(ctx)
		if err == nil {
			return o, l.match, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, "", apperr.Internal(errors.Wrap(err, "find order by "+l.match))
		}
	}
	return nil, "", apperr.NotFound("no order matches " + entry)
}
