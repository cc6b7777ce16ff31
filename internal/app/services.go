package app

import (
	"context"
	"time"

	"github.com/BearBump/CourierSync/config"
	jobsapi "github.com/BearBump/CourierSync/internal/api/jobs_api"
	"github.com/BearBump/CourierSync/internal/broker/events"
	"github.com/BearBump/CourierSync/internal/cache"
	"github.com/BearBump/CourierSync/internal/cache/rediscache"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/services/booking"
	"github.com/BearBump/CourierSync/internal/services/jobs"
	"github.com/BearBump/CourierSync/internal/services/poller"
	"github.com/BearBump/CourierSync/internal/services/reconcile"
	"github.com/BearBump/CourierSync/internal/services/retry"
	"github.com/BearBump/CourierSync/internal/services/scan"
	"github.com/BearBump/CourierSync/internal/services/settings"
	"github.com/BearBump/CourierSync/internal/services/shipments"
	"github.com/BearBump/CourierSync/internal/services/verification"
)

const (
	JobBookingRetries       = "booking-retries"
	JobTrackingSync         = "tracking-sync"
	JobDeliveryVerification = "delivery-verification"
	JobReservedStock        = "reserved-stock"
)

// keyPrefix namespaces every Redis key this service writes.
const keyPrefix = "couriersync:"

type Services struct {
	Publisher    *events.Publisher
	Settings     *settings.Provider
	Booking      *booking.Service
	Retry        *retry.Scheduler
	Poller       *poller.Poller
	Verification *verification.Service
	Reconcile    *reconcile.Service
	Scan         *scan.Service
	Shipments    *shipments.Service

	verificationBatch int
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func NewServices(cfg *config.Config, in *Infra) *Services {
	c := cfg.CourierSync

	topic := cfg.Kafka.OrderStatusTopicName
	if topic == "" {
		topic = "order.status.changed"
	}
	pub := events.NewPublisher(in.Producer, topic)

	// интерфейсы оставляем nil, если Redis не настроен
	var (
		bc cache.BytesCache
		rl poller.RateLimiter
	)
	if in.Redis != nil {
		bc = rediscache.New(in.Redis, keyPrefix)
		rl = rediscache.NewCourierLimiter(in.Redis, keyPrefix)
	}

	settingsTTL := seconds(c.SettingsTTLSeconds)
	if settingsTTL <= 0 {
		settingsTTL = 5 * time.Minute
	}
	currentTTL := seconds(c.CurrentStatusTTLSeconds)
	if currentTTL <= 0 {
		currentTTL = 10 * time.Minute
	}

	sp := settings.New(in.Store, bc, settingsTTL, models.Settings{
		PickupAddress: models.Address{
			Name:    c.PickupAddress.Name,
			Phone:   c.PickupAddress.Phone,
			Line1:   c.PickupAddress.Line1,
			Line2:   c.PickupAddress.Line2,
			City:    c.PickupAddress.City,
			Country: c.PickupAddress.Country,
		},
		DefaultCourierCode: c.DefaultCourierCode,
		KgPerUnit:          c.KgPerUnit,
	})
	booker := booking.NewBooker(in.Couriers, sp)
	ship := shipments.New(in.Store, bc, currentTTL)

	steps := make([]time.Duration, 0, len(c.BookingRetryBackoffMinutes))
	for _, m := range c.BookingRetryBackoffMinutes {
		steps = append(steps, time.Duration(m)*time.Minute)
	}

	return &Services{
		Publisher: pub,
		Settings:  sp,
		Booking:   booking.NewService(in.Store, booker, pub).WithMaxRetries(c.BookingMaxRetries),
		Retry: retry.NewScheduler(in.Store, booker, pub, retry.NewPlanner(steps)).
			WithSettings(c.BookingRetryBatchSize, seconds(c.BookingRetryLeaseSeconds)),
		Poller: poller.New(in.Store, in.Couriers, rl, pub, ship).
			WithSettings(seconds(c.WorkerPollIntervalSeconds), c.WorkerBatchSize, c.WorkerConcurrency,
				seconds(c.WorkerItemTimeoutSeconds), c.WorkerRateLimitPerMinute).
			WithCourierRateLimits(c.WorkerCourierRateLimits),
		Verification: verification.New(in.Store, in.Couriers, pub).
			WithSettings(time.Duration(c.VerificationRecheckAfterHours)*time.Hour, seconds(c.WorkerItemTimeoutSeconds)),
		Reconcile: reconcile.New(in.Store),
		Scan:      scan.New(in.Store, in.Couriers, pub),
		Shipments: ship,

		verificationBatch: c.VerificationBatchSize,
	}
}

// API exposes the services to the HTTP layer.
func (s *Services) API() jobsapi.Services {
	return jobsapi.Services{
		Booking:      s.Booking,
		Retry:        s.Retry,
		Tracking:     s.Poller,
		Verification: s.Verification,
		Reconcile:    s.Reconcile,
		Scan:         s.Scan,
		Shipments:    s.Shipments,
	}
}

// NewScheduler takes job locks in Redis when it is configured.
func NewScheduler(in *Infra) *jobs.Scheduler {
	if in.Redis == nil {
		return jobs.New(nil)
	}
	return jobs.New(rediscache.NewLocker(in.Redis, keyPrefix+"lock:"))
}

// RegisterJobs adds the four batch jobs; a job with an empty schedule only runs on demand.
func (s *Services) RegisterJobs(sched *jobs.Scheduler, cfg *config.Config) error {
	c := cfg.CourierSync
	timeout := seconds(c.JobTimeoutSeconds)

	list := []jobs.Job{
		{
			Name:     JobBookingRetries,
			Schedule: c.ScheduleBookingRetries,
			Timeout:  timeout,
			Run:      func(ctx context.Context) (any, error) { return s.Retry.Run(ctx) },
		},
		{
			Name:     JobTrackingSync,
			Schedule: c.ScheduleTrackingSync,
			Timeout:  timeout,
			Run:      func(ctx context.Context) (any, error) { return s.Poller.Sweep(ctx) },
		},
		{
			Name:     JobDeliveryVerification,
			Schedule: c.ScheduleDeliveryVerification,
			Timeout:  timeout,
			Run:      func(ctx context.Context) (any, error) { return s.Verification.Run(ctx, s.verificationBatch) },
		},
		{
			Name:     JobReservedStock,
			Schedule: c.ScheduleReservedStock,
			Timeout:  timeout,
			Run:      func(ctx context.Context) (any, error) { return s.Reconcile.Fix(ctx) },
		},
	}
	for _, j := range list {
		if err := sched.Register(j); err != nil {
			return err
		}
	}
	return nil
}
