// Package memstore is an in-memory store with the same semantics as pgstore. It backs the
// "memory" storage mode and service tests.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/google/uuid"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	orders     map[string]*models.Order
	dispatches map[string]*models.Dispatch // by id
	queue      map[string]*models.BookingQueueEntry
	history    []*models.TrackingHistory
	inventory  map[string]*models.InventoryRecord
	returns    map[string]*models.ReturnRecord // by order id
	activity   []*models.ActivityLog
	settings   *models.Settings

	nextItemID    int64
	nextHistoryID uint64
}

func New() *Store {
	return &Store{
		orders:     make(map[string]*models.Order),
		dispatches: make(map[string]*models.Dispatch),
		queue:      make(map[string]*models.BookingQueueEntry),
		inventory:  make(map[string]*models.InventoryRecord),
		returns:    make(map[string]*models.ReturnRecord),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Tags = append([]string(nil), o.Tags...)
	c.Items = append([]models.LineItem(nil), o.Items...)
	return &c
}

func cloneDispatch(d *models.Dispatch) *models.Dispatch {
	c := *d
	c.LastResponse = append(json.RawMessage(nil), d.LastResponse...)
	return &c
}

func cloneEntry(e *models.BookingQueueEntry) *models.BookingQueueEntry {
	c := *e
	return &c
}

// --- orders ---

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.orders {
		if strings.EqualFold(existing.OrderNumber, o.OrderNumber) {
			return storage.ErrConflict
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.Tags == nil {
		o.Tags = []string{}
	}
	for i := range o.Items {
		s.nextItemID++
		o.Items[i].ID = s.nextItemID
		o.Items[i].OrderID = o.ID
	}
	s.orders[o.ID] = cloneOrder(o)
	if o.Status.Open() {
		s.adjustReserved(o, 1, now)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) findOrder(match func(o *models.Order) bool) (*models.Order, error) {
	var best *models.Order
	for _, o := range s.orders {
		if !match(o) {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) || (o.CreatedAt.Equal(best.CreatedAt) && o.ID > best.ID) {
			best = o
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return cloneOrder(best), nil
}

func (s *Store) FindOrderByTrackingID(ctx context.Context, trackingID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	viaDispatch := make(map[string]bool)
	for _, d := range s.dispatches {
		if d.TrackingID != nil && *d.TrackingID == trackingID {
			viaDispatch[d.OrderID] = true
		}
	}
	return s.findOrder(func(o *models.Order) bool {
		return (o.TrackingID != nil && *o.TrackingID == trackingID) || viaDispatch[o.ID]
	})
}

func (s *Store) FindOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findOrder(func(o *models.Order) bool { return strings.EqualFold(o.OrderNumber, number) })
}

func (s *Store) FindOrderFuzzy(ctx context.Context, fragment string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	low := strings.ToLower(fragment)
	return s.findOrder(func(o *models.Order) bool { return strings.Contains(strings.ToLower(o.OrderNumber), low) })
}

func (s *Store) FindOrderByShopifyNumber(ctx context.Context, number string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := strings.TrimPrefix(number, "#")
	return s.findOrder(func(o *models.Order) bool {
		return o.ShopifyOrderNumber != nil && strings.TrimPrefix(*o.ShopifyOrderNumber, "#") == n
	})
}

func (s *Store) writeStatus(o *models.Order, to models.OrderStatus, mode models.TransitionMode, at time.Time) (models.StatusChange, error) {
	change := models.StatusChange{OrderID: o.ID, OrderNumber: o.OrderNumber, From: o.Status, To: o.Status, At: at}
	if err := models.CheckTransition(o.Status, to, mode); err != nil {
		return change, err
	}
	if o.Status == to {
		return change, nil
	}
	wasOpen := o.Status.Open()
	o.ApplyStatus(to, at)
	if mode == models.TransitionDriftCorrection {
		o.DeliveredAt = nil
	}
	change.To = to
	switch {
	case wasOpen && !to.Open():
		s.adjustReserved(o, -1, at)
	case !wasOpen && to.Open():
		s.adjustReserved(o, 1, at)
	}
	return change, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, upd storage.StatusUpdate) (models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[upd.OrderID]
	if !ok {
		return models.StatusChange{}, storage.ErrNotFound
	}
	return s.writeStatus(o, upd.To, models.TransitionForward, upd.At.UTC())
}

func (s *Store) MarkBooked(ctx context.Context, upd storage.BookedUpdate) (models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[upd.OrderID]
	if !ok {
		return models.StatusChange{}, storage.ErrNotFound
	}
	at := upd.At.UTC()
	courierCode, trackingID := upd.CourierCode, upd.TrackingID
	o.CourierCode = &courierCode
	o.TrackingID = &trackingID
	o.UpdatedAt = at

	target := models.OrderStatusBooked
	if models.CheckTransition(o.Status, target, models.TransitionForward) != nil {
		target = o.Status
	}
	change, err := s.writeStatus(o, target, models.TransitionForward, at)
	if err != nil {
		return change, err
	}
	for _, d := range s.dispatches {
		if d.OrderID == o.ID {
			tid := trackingID
			d.TrackingID = &tid
			d.CourierCode = courierCode
			d.Manual = false
			d.LastResponse = upd.Raw
			d.UpdatedAt = at
		}
	}
	for _, e := range s.queue {
		if e.OrderID == o.ID && !e.Status.Terminal() {
			e.Status = models.QueueStatusSuccess
			e.UpdatedAt = at
		}
	}
	return change, nil
}

func unverified(o *models.Order, cutoff time.Time) bool {
	return o.Status == models.OrderStatusDelivered && (o.LastVerifiedAt == nil || o.LastVerifiedAt.Before(cutoff))
}

func (s *Store) ListUnverifiedDelivered(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, o := range s.orders {
		if unverified(o, cutoff) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastVerifiedAt, out[j].LastVerifiedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountUnverifiedDelivered(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if unverified(o, cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkVerified(ctx context.Context, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return storage.ErrNotFound
	}
	t := at.UTC()
	o.LastVerifiedAt = &t
	return nil
}

func (s *Store) DowngradeOrder(ctx context.Context, d storage.Downgrade) (models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[d.OrderID]
	if !ok {
		return models.StatusChange{}, storage.ErrNotFound
	}
	if o.Status != d.From {
		return models.StatusChange{}, storage.ErrConflict
	}
	at := d.At.UTC()
	if err := models.CheckTransition(o.Status, d.To, models.TransitionDriftCorrection); err != nil {
		return models.StatusChange{}, err
	}
	o.LastVerifiedAt = &at
	change, err := s.writeStatus(o, d.To, models.TransitionDriftCorrection, at)
	if err != nil {
		return change, err
	}
	change.Reason = d.Reason
	details, _ := json.Marshal(map[string]any{
		"previous_status": d.From,
		"new_status":      d.To,
		"courier":         d.CourierCode,
		"courier_status":  d.RawStatus,
	})
	s.activity = append(s.activity, &models.ActivityLog{
		ID:         uuid.NewString(),
		EntityType: models.EntityOrder,
		EntityID:   o.ID,
		Action:     models.ActionStatusDowngraded,
		Reason:     d.Reason,
		Details:    details,
		CreatedAt:  at,
	})
	return change, nil
}
