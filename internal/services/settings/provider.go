package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/CourierSync/internal/cache"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/pkg/errors"
)

const cacheKey = "settings:current"

type Repository interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, st models.Settings) error
}

// Provider loads Settings once per call scope: cache, then store, then the config fallback.
type Provider struct {
	repo     Repository
	cache    cache.BytesCache
	ttl      time.Duration
	fallback models.Settings
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration, fallback models.Settings) *Provider {
	return &Provider{repo: repo, cache: c, ttl: ttl, fallback: fallback}
}

func (p *Provider) Get(ctx context.Context) (models.Settings, error) {
	if p.cache != nil && p.ttl > 0 {
		if b, ok, err := p.cache.Get(ctx, cacheKey); err == nil && ok {
			var st models.Settings
			if json.Unmarshal(b, &st) == nil {
				return st, nil
			}
		}
	}

	stored, err := p.repo.GetSettings(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		stored = &models.Settings{}
	case err != nil:
		return models.Settings{}, errors.Wrap(err, "load settings")
	}
	st := p.merge(*stored)

	if p.cache != nil && p.ttl > 0 {
		b, _ := json.Marshal(st)
		if err := p.cache.Set(ctx, cacheKey, b, p.ttl); err != nil {
			slog.Warn("cache settings", "error", err.Error())
		}
	}
	return st, nil
}

func (p *Provider) Save(ctx context.Context, st models.Settings) error {
	if err := p.repo.SaveSettings(ctx, st); err != nil {
		return errors.Wrap(err, "save settings")
	}
	if p.cache != nil {
		_ = p.cache.Del(ctx, cacheKey)
	}
	return nil
}

// merge fills what the store left empty from the config fallback.
func (p *Provider) merge(st models.Settings) models.Settings {
	if st.PickupAddress.Empty() {
		st.PickupAddress = p.fallback.PickupAddress
	}
	if st.DefaultCourierCode == "" {
		st.DefaultCourierCode = p.fallback.DefaultCourierCode
	}
	if st.KgPerUnit <= 0 {
		st.KgPerUnit = p.fallback.KgPerUnit
	}
	if st.KgPerUnit <= 0 {
		st.KgPerUnit = 1
	}
	return st
}
