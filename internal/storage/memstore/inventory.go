package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/google/uuid"
)

// adjustReserved mirrors pgstore: product-linked items only, all outlets when the order has none.
func (s *Store) adjustReserved(o *models.Order, sign int64, at time.Time) {
	qty := make(map[string]int64)
	for _, it := range o.Items {
		if it.ProductID != nil {
			qty[*it.ProductID] += it.Quantity
		}
	}
	for _, r := range s.inventory {
		q, ok := qty[r.ProductID]
		if !ok {
			continue
		}
		if o.OutletID != nil && *o.OutletID != r.OutletID {
			continue
		}
		r.ReservedQuantity = max(r.ReservedQuantity+sign*q, 0)
		r.AvailableQuantity = r.Quantity - r.ReservedQuantity
		r.UpdatedAt = at
	}
}

func (s *Store) UpsertInventory(ctx context.Context, r *models.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.inventory {
		if existing.ProductID == r.ProductID && existing.OutletID == r.OutletID {
			r.ID = existing.ID
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.AvailableQuantity = r.Quantity - r.ReservedQuantity
	r.UpdatedAt = time.Now().UTC()
	c := *r
	s.inventory[r.ID] = &c
	return nil
}

func (s *Store) ListInventory(ctx context.Context) ([]*models.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.InventoryRecord, 0, len(s.inventory))
	for _, r := range s.inventory {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductName != out[j].ProductName {
			return out[i].ProductName < out[j].ProductName
		}
		return out[i].OutletID < out[j].OutletID
	})
	return out, nil
}

func (s *Store) ListOpenOrderItems(ctx context.Context) ([]*models.OpenOrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.OpenOrderItem
	for _, o := range s.orders {
		if !o.Status.Open() {
			continue
		}
		for _, it := range o.Items {
			out = append(out, &models.OpenOrderItem{
				OrderID:     o.ID,
				OrderNumber: o.OrderNumber,
				OutletID:    o.OutletID,
				ProductID:   it.ProductID,
				Name:        it.Name,
				Quantity:    it.Quantity,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (s *Store) FixReserved(ctx context.Context, fix storage.ReservedFix) (*models.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.inventory[fix.InventoryID]
	if !ok || r.ReservedQuantity != fix.Old {
		return nil, storage.ErrConflict
	}
	at := fix.At.UTC()
	r.ReservedQuantity = fix.New
	r.AvailableQuantity = r.Quantity - fix.New
	r.UpdatedAt = at

	details, _ := json.Marshal(map[string]any{
		"product_id":   r.ProductID,
		"product_name": r.ProductName,
		"outlet_id":    r.OutletID,
		"before":       fix.Old,
		"after":        fix.New,
	})
	s.activity = append(s.activity, &models.ActivityLog{
		ID:         uuid.NewString(),
		EntityType: models.EntityInventory,
		EntityID:   r.ID,
		Action:     models.ActionReservedFixed,
		Reason:     models.ReasonReservedDrift,
		Details:    details,
		CreatedAt:  at,
	})
	c := *r
	return &c, nil
}

func (s *Store) ListActivity(ctx context.Context, entityType, entityID string) ([]*models.ActivityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ActivityLog
	for i := len(s.activity) - 1; i >= 0; i-- {
		a := s.activity[i]
		if a.EntityType == entityType && a.EntityID == entityID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetSettings(ctx context.Context) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil, storage.ErrNotFound
	}
	c := *s.settings
	return &c, nil
}

func (s *Store) SaveSettings(ctx context.Context, st models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &st
	return nil
}
