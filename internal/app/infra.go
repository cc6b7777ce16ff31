// Package app wires config into storage, brokers, couriers and services for both binaries.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/CourierSync/config"
	"github.com/BearBump/CourierSync/internal/broker/events"
	"github.com/BearBump/CourierSync/internal/broker/kafka"
	"github.com/BearBump/CourierSync/internal/cache/rediscache"
	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/integrations/courier/fake"
	"github.com/BearBump/CourierSync/internal/integrations/courier/registry"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/BearBump/CourierSync/internal/storage/memstore"
	"github.com/BearBump/CourierSync/internal/storage/pgstore"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Factories build the external dependencies; tests swap them out.
type Factories struct {
	NewStorage  func(ctx context.Context, cfg *config.Config) (storage.Store, error)
	NewRedis    func(cfg *config.Config) redis.UniversalClient
	NewProducer func(cfg *config.Config) events.Producer
	NewCouriers func(cfg *config.Config) (*registry.Registry, error)
}

func DefaultFactories() Factories {
	return Factories{
		NewStorage: func(ctx context.Context, cfg *config.Config) (storage.Store, error) {
			if cfg.CourierSync.StorageMode == config.StorageModeMemory {
				slog.Warn("memory storage mode: data is lost on restart")
				return memstore.New(), nil
			}
			return OpenPostgres(ctx, cfg.Database.ConnString(), 60*time.Second)
		},
		NewRedis: func(cfg *config.Config) redis.UniversalClient {
			if !cfg.Redis.Enabled() {
				return nil
			}
			return rediscache.NewClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		},
		NewProducer: func(cfg *config.Config) events.Producer {
			if !cfg.Kafka.Enabled() {
				return nil
			}
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		NewCouriers: func(cfg *config.Config) (*registry.Registry, error) {
			if cfg.CourierSync.CouriersPath == "" {
				// без конфига курьеров работаем на детерминированном fake
				slog.Warn("couriers_path is empty, using fake courier")
				r := registry.New(nil)
				r.Register(fake.New("fake"))
				return r, nil
			}
			cc, err := courier.LoadConfig(cfg.CourierSync.CouriersPath)
			if err != nil {
				return nil, err
			}
			return registry.New(cc), nil
		},
	}
}

// OpenPostgres retries the connection with exponential backoff until wait elapses.
func OpenPostgres(ctx context.Context, connString string, wait time.Duration) (*pgstore.Storage, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = wait

	var st *pgstore.Storage
	err := backoff.RetryNotify(func() error {
		var err error
		st, err = pgstore.New(ctx, connString)
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		slog.Warn("postgres is not ready", "retry_in", next.String(), "error", err.Error())
	})
	if err != nil {
		return nil, errors.Wrapf(err, "postgres is not ready after %s", wait)
	}
	return st, nil
}

// Infra holds the long-lived clients. Redis and Producer are nil when not configured.
type Infra struct {
	Store    storage.Store
	Redis    redis.UniversalClient
	Producer events.Producer
	Couriers *registry.Registry
}

func Build(ctx context.Context, cfg *config.Config, f Factories) (*Infra, error) {
	couriers, err := f.NewCouriers(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "load couriers")
	}
	st, err := f.NewStorage(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}
	in := &Infra{Store: st, Couriers: couriers}
	if f.NewRedis != nil {
		in.Redis = f.NewRedis(cfg)
	}
	if f.NewProducer != nil {
		in.Producer = f.NewProducer(cfg)
	}
	slog.Info("infrastructure ready",
		"storage", cfg.CourierSync.StorageMode,
		"redis", in.Redis != nil,
		"kafka", in.Producer != nil,
		"couriers", couriers.Codes())
	return in, nil
}

// Ping reports whether storage and, when configured, Redis answer.
func (in *Infra) Ping(ctx context.Context) error {
	if err := in.Store.Ping(ctx); err != nil {
		return err
	}
	if in.Redis != nil {
		if err := in.Redis.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
	}
	return nil
}

func (in *Infra) Close() {
	if c, ok := in.Producer.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slog.Warn("close producer", "error", err.Error())
		}
	}
	if in.Redis != nil {
		_ = in.Redis.Close()
	}
	if in.Store != nil {
		in.Store.Close()
	}
}
