package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/CourierSync/config"
	"github.com/BearBump/CourierSync/internal/app"
	"github.com/BearBump/CourierSync/internal/services/jobs"
	"github.com/BearBump/CourierSync/internal/services/poller"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	infra  *app.Infra
	poller *poller.Poller
	sched  *jobs.Scheduler
	cfg    *config.Config
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: workerRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func workerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := opts.infra.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"poller": opts.poller.Stats(),
			"jobs":   opts.sched.Stats(),
		})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		c := opts.cfg.CourierSync
		// без секретов: только рабочие параметры воркера
		writeJSON(w, http.StatusOK, map[string]any{
			"storageMode":                  c.StorageMode,
			"pollIntervalSeconds":          c.WorkerPollIntervalSeconds,
			"batchSize":                    c.WorkerBatchSize,
			"concurrency":                  c.WorkerConcurrency,
			"itemTimeoutSeconds":           c.WorkerItemTimeoutSeconds,
			"rateLimitPerMinute":           c.WorkerRateLimitPerMinute,
			"courierRateLimits":            c.WorkerCourierRateLimits,
			"bookingMaxRetries":            c.BookingMaxRetries,
			"bookingRetryBackoffMinutes":   c.BookingRetryBackoffMinutes,
			"scheduleBookingRetries":       c.ScheduleBookingRetries,
			"scheduleTrackingSync":         c.ScheduleTrackingSync,
			"scheduleDeliveryVerification": c.ScheduleDeliveryVerification,
			"scheduleReservedStock":        c.ScheduleReservedStock,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		opts.poller.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})
	r.Post("/trigger/{job}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "job")
		res, err := opts.sched.RunNow(r.Context(), name)
		switch {
		case errors.Is(err, jobs.ErrUnknownJob):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "jobs": opts.sched.Names()})
		case errors.Is(err, jobs.ErrBusy):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"job": name, "result": res})
		}
	})

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	return r
}
