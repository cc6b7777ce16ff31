package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/google/uuid"
)

// PutDispatch stores d as is; seeding helper.
func (s *Store) PutDispatch(d *models.Dispatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s.dispatches[d.ID] = cloneDispatch(d)
}

func (s *Store) GetDispatchByOrderID(ctx context.Context, orderID string) (*models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dispatches {
		if d.OrderID == orderID {
			return cloneDispatch(d), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetDispatchByTrackingID(ctx context.Context, trackingID string) (*models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Dispatch
	for _, d := range s.dispatches {
		if d.TrackingID != nil && *d.TrackingID == trackingID {
			if best == nil || d.DispatchedAt.After(best.DispatchedAt) {
				best = d
			}
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return cloneDispatch(best), nil
}

func (s *Store) ListActiveDispatches(ctx context.Context, offset, limit int) ([]*models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Dispatch
	for _, d := range s.dispatches {
		if d.TrackingID != nil && !d.Status.Terminal() {
			all = append(all, d)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].DispatchedAt.Equal(all[j].DispatchedAt) {
			return all[i].DispatchedAt.Before(all[j].DispatchedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]*models.Dispatch, 0, len(all))
	for _, d := range all {
		out = append(out, cloneDispatch(d))
	}
	return out, nil
}

func (s *Store) CreateScanDispatch(ctx context.Context, in storage.ScanDispatch) (*models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dispatches {
		if d.OrderID == in.OrderID {
			return nil, storage.ErrConflict
		}
	}
	at := in.At.UTC()
	d := &models.Dispatch{
		ID:           uuid.NewString(),
		OrderID:      in.OrderID,
		CourierCode:  in.CourierCode,
		TrackingID:   in.TrackingID,
		Status:       models.ShipmentStatusBooked,
		Manual:       in.TrackingID == nil,
		DispatchedAt: at,
		UpdatedAt:    at,
	}
	if in.UserID != "" {
		u := in.UserID
		d.DispatchedBy = &u
	}
	s.dispatches[d.ID] = d
	return cloneDispatch(d), nil
}

func (s *Store) RecordTracking(ctx context.Context, upd storage.TrackingUpdate) (models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := upd.Result
	checkedAt := res.CheckedAt.UTC()
	if res.CheckedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}
	d, ok := s.dispatches[upd.DispatchID]
	if !ok {
		return models.StatusChange{}, storage.ErrNotFound
	}

	s.nextHistoryID++
	s.history = append(s.history, &models.TrackingHistory{
		ID:              s.nextHistoryID,
		TrackingID:      upd.TrackingID,
		CourierCode:     upd.CourierCode,
		Status:          res.Status,
		RawStatus:       res.RawStatus,
		CurrentLocation: res.Location,
		RawResponse:     res.Raw,
		CheckedAt:       checkedAt,
	})
	d.Status = res.Status
	d.LastResponse = res.Raw
	d.LastCheckedAt = &checkedAt
	d.UpdatedAt = checkedAt

	target, ok := models.OrderStatusFor(res.Status)
	if !ok {
		return models.StatusChange{}, nil
	}
	o, ok := s.orders[upd.OrderID]
	if !ok {
		return models.StatusChange{}, storage.ErrNotFound
	}
	change := models.StatusChange{OrderID: o.ID, OrderNumber: o.OrderNumber, From: o.Status, To: o.Status, At: checkedAt}
	if models.CheckTransition(o.Status, target, models.TransitionForward) == nil {
		var err error
		if change, err = s.writeStatus(o, target, models.TransitionForward, checkedAt); err != nil {
			return change, err
		}
	}
	if target == models.OrderStatusReturned {
		if _, exists := s.returns[o.ID]; !exists {
			courierCode, trackingID := upd.CourierCode, upd.TrackingID
			s.returns[o.ID] = &models.ReturnRecord{
				ID:           uuid.NewString(),
				OrderID:      o.ID,
				CourierCode:  &courierCode,
				TrackingID:   &trackingID,
				ReturnStatus: models.ReturnStatusInTransit,
				CreatedAt:    checkedAt,
				UpdatedAt:    checkedAt,
			}
		}
	}
	return change, nil
}

func (s *Store) ListTrackingHistory(ctx context.Context, trackingID string, limit, offset int) ([]*models.TrackingHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*models.TrackingHistory
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].TrackingID == trackingID {
			h := *s.history[i]
			out = append(out, &h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetReturnByOrderID(ctx context.Context, orderID string) (*models.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.returns[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *Store) ReceiveReturn(ctx context.Context, in storage.ScanReturn) (*models.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := in.At.UTC()
	var by *string
	if in.UserID != "" {
		u := in.UserID
		by = &u
	}
	r, ok := s.returns[in.OrderID]
	if !ok {
		r = &models.ReturnRecord{
			ID:          uuid.NewString(),
			OrderID:     in.OrderID,
			CourierCode: in.CourierCode,
			TrackingID:  in.TrackingID,
			CreatedAt:   at,
		}
		s.returns[in.OrderID] = r
	} else if r.ReturnStatus != models.ReturnStatusInTransit {
		return nil, storage.ErrConflict
	}
	if r.CourierCode == nil {
		r.CourierCode = in.CourierCode
	}
	if r.TrackingID == nil {
		r.TrackingID = in.TrackingID
	}
	r.ReturnStatus = models.ReturnStatusReceived
	r.ReceivedAt = &at
	r.ReceivedBy = by
	r.UpdatedAt = at
	c := *r
	return &c, nil
}
