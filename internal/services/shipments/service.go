package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/CourierSync/internal/apperr"
	"github.com/BearBump/CourierSync/internal/cache"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/pkg/errors"
)

type Repository interface {
	GetDispatchByTrackingID(ctx context.Context, trackingID string) (*models.Dispatch, error)
	ListTrackingHistory(ctx context.Context, trackingID string, limit, offset int) ([]*models.TrackingHistory, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) cacheOn() bool {
	return s.cache != nil && s.currentTTL > 0
}

// Current returns the latest known state of a shipment, cache first.
func (s *Service) Current(ctx context.Context, trackingID string) (models.ShipmentSnapshot, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return models.ShipmentSnapshot{}, apperr.Validation(apperr.CodeInvalidInput, "trackingId is required", "")
	}

	if s.cacheOn() {
		b, ok, err := s.cache.Get(ctx, currentKey(trackingID))
		if err == nil && ok {
			var snap models.ShipmentSnapshot
			if json.Unmarshal(b, &snap) == nil {
				return snap, nil
			}
		}
	}

	d, err := s.repo.GetDispatchByTrackingID(ctx, trackingID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.ShipmentSnapshot{}, apperr.NotFound("shipment not found")
	}
	if err != nil {
		return models.ShipmentSnapshot{}, apperr.Internal(errors.Wrap(err, "get dispatch"))
	}
	snap := models.ShipmentSnapshot{
		TrackingID:  trackingID,
		OrderID:     d.OrderID,
		CourierCode: d.CourierCode,
		Status:      d.Status,
		CheckedAt:   d.LastCheckedAt,
	}
	s.PutCurrent(ctx, snap)
	return snap, nil
}

func (s *Service) History(ctx context.Context, trackingID string, limit, offset int) ([]*models.TrackingHistory, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "trackingId is required", "")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.repo.ListTrackingHistory(ctx, trackingID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(errors.Wrap(err, "list tracking history"))
	}
	if items == nil {
		items = []*models.TrackingHistory{}
	}
	return items, nil
}

// PutCurrent refreshes the cached state; the poller calls it after every successful poll.
func (s *Service) PutCurrent(ctx context.Context, snap models.ShipmentSnapshot) {
	if !s.cacheOn() || snap.TrackingID == "" {
		return
	}
	b, _ := json.Marshal(snap)
	if err := s.cache.Set(ctx, currentKey(snap.TrackingID), b, s.currentTTL); err != nil {
		slog.Warn("cache shipment", "tracking_id", snap.TrackingID, "error", err.Error())
	}
}

func currentKey(trackingID string) string {
	return fmt.Sprintf("shipment:%s:current", trackingID)
}
