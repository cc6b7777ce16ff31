package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/CourierSync/config"
	"github.com/BearBump/CourierSync/internal/app"
	"github.com/BearBump/CourierSync/internal/broker/kafka"
)

type bookingConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	infra       app.Factories
	newConsumer func(cfg *config.Config) bookingConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		infra: app.DefaultFactories(),
		newConsumer: func(cfg *config.Config) bookingConsumer {
			if !cfg.Kafka.Enabled() {
				return nil
			}
			topic := cfg.Kafka.BookingRequestedTopicName
			if topic == "" {
				topic = "courier.booking.requested"
			}
			group := cfg.Kafka.BookingConsumerGroup
			if group == "" {
				group = "courier-worker"
			}
			return kafka.NewConsumer(cfg.Kafka.Brokers(), topic, group)
		},
	}
}

type workerOpts struct {
	swaggerPath string
	onListen    func(httpAddr string)
}

// RunCourierWorker runs the poll loop, the cron jobs, the booking consumer and the ops server
// until ctx is done or one of them fails.
func RunCourierWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	infra, err := app.Build(ctx, cfg, f.infra)
	if err != nil {
		return err
	}
	defer infra.Close()

	svc := app.NewServices(cfg, infra)
	sched := app.NewScheduler(infra)
	if err := svc.RegisterJobs(sched, cfg); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	errCh := make(chan error, 2)
	go func() {
		errCh <- svc.Poller.Run(ctx)
	}()
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.CourierSync.WorkerHTTPAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			infra:       infra,
			poller:      svc.Poller,
			sched:       sched,
			cfg:         cfg,
		})
	}()

	if f.newConsumer != nil {
		if consumer := f.newConsumer(cfg); consumer != nil {
			defer func() { _ = consumer.Close() }()
			go consumeBookings(ctx, consumer, svc.Booking.HandleBookingRequested)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// consumeBookings restarts the consumer after failures; uncommitted messages are redelivered.
func consumeBookings(ctx context.Context, c bookingConsumer, handler func(ctx context.Context, key, value []byte) error) {
	slog.Info("booking consumer started")
	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("booking consumer stopped", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
