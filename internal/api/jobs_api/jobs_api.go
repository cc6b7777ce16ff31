// Package jobs_api exposes the reconciliation jobs, the scan fast path and shipment reads as
// JSON over HTTP.
package jobs_api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/CourierSync/internal/apperr"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/services/booking"
	"github.com/BearBump/CourierSync/internal/services/poller"
	"github.com/BearBump/CourierSync/internal/services/reconcile"
	"github.com/BearBump/CourierSync/internal/services/retry"
	"github.com/BearBump/CourierSync/internal/services/scan"
	"github.com/BearBump/CourierSync/internal/services/verification"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	httpSwagger "github.com/swaggo/http-swagger"
)

type BookingService interface {
	Book(ctx context.Context, req booking.Request) (booking.Result, error)
}

type RetryService interface {
	Run(ctx context.Context) (retry.RunResult, error)
}

type TrackingService interface {
	RunBatch(ctx context.Context, offset, limit int) (poller.BatchResult, error)
}

type VerificationService interface {
	Run(ctx context.Context, batchSize int) (verification.Result, error)
}

type ReconcileService interface {
	Analyze(ctx context.Context) (reconcile.AnalyzeResult, error)
	Fix(ctx context.Context) (reconcile.FixResult, error)
}

type ScanService interface {
	Dispatch(ctx context.Context, req scan.Request) (scan.Result, error)
	Return(ctx context.Context, req scan.Request) (scan.Result, error)
}

type ShipmentService interface {
	Current(ctx context.Context, trackingID string) (models.ShipmentSnapshot, error)
	History(ctx context.Context, trackingID string, limit, offset int) ([]*models.TrackingHistory, error)
}

type Services struct {
	Booking      BookingService
	Retry        RetryService
	Tracking     TrackingService
	Verification VerificationService
	Reconcile    ReconcileService
	Scan         ScanService
	Shipments    ShipmentService
}

type JobsAPI struct {
	svc         Services
	swaggerPath string
	jobTimeout  time.Duration
}

func New(svc Services) *JobsAPI {
	return &JobsAPI{svc: svc, jobTimeout: 5 * time.Minute}
}

// WithSwagger serves the given swagger document at /swagger.json and the UI at /docs/.
func (a *JobsAPI) WithSwagger(path string) *JobsAPI {
	a.swaggerPath = path
	return a
}

func (a *JobsAPI) WithJobTimeout(d time.Duration) *JobsAPI {
	if d > 0 {
		a.jobTimeout = d
	}
	return a
}

func (a *JobsAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/booking", a.book)
			r.Post("/booking-retries", a.processRetries)
			r.Post("/tracking-sync", a.syncTracking)
			r.Post("/delivery-verification", a.verifyDeliveries)
			r.Post("/reserved-stock", a.reconcileReserved)
		})
		r.Post("/scan/dispatch", a.scanDispatch)
		r.Post("/scan/return", a.scanReturn)
		r.Get("/shipments/{trackingId}", a.currentShipment)
		r.Get("/shipments/{trackingId}/history", a.shipmentHistory)
	})

	if a.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, a.swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/swagger.json")))
	}
	return r
}

func (a *JobsAPI) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.jobTimeout)
}

func (a *JobsAPI) book(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if !decode(w, r, &req, false) {
		return
	}
	res, err := a.svc.Booking.Book(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (a *JobsAPI) processRetries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.jobContext(r)
	defer cancel()
	res, err := a.svc.Retry.Run(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type trackingSyncRequest struct {
	Trigger string `json:"trigger"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
}

func (r trackingSyncRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Offset, validation.Min(0)),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(500)),
	)
}

func (a *JobsAPI) syncTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingSyncRequest
	if !decode(w, r, &req, true) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, apperr.Validation(apperr.CodeInvalidInput, err.Error(), "offset >= 0, 0 <= limit <= 500"))
		return
	}
	if req.Trigger == "" {
		req.Trigger = "manual"
	}
	ctx, cancel := a.jobContext(r)
	defer cancel()

	slog.Info("tracking sync requested", "trigger", req.Trigger, "offset", req.Offset, "limit", req.Limit)
	res, err := a.svc.Tracking.RunBatch(ctx, req.Offset, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type verificationRequest struct {
	BatchSize int `json:"batchSize"`
}

func (r verificationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BatchSize, validation.Min(0), validation.Max(verification.MaxBatchSize)),
	)
}

func (a *JobsAPI) verifyDeliveries(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if !decode(w, r, &req, true) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, apperr.Validation(apperr.CodeInvalidInput, err.Error(),
			"batchSize must not exceed "+strconv.Itoa(verification.MaxBatchSize)))
		return
	}
	ctx, cancel := a.jobContext(r)
	defer cancel()
	res, err := a.svc.Verification.Run(ctx, req.BatchSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

const (
	actionAnalyze = "analyze"
	actionFix     = "fix"
)

type reservedStockRequest struct {
	Action string `json:"action"`
}

func (r reservedStockRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Action, validation.In(actionAnalyze, actionFix)),
	)
}

func (a *JobsAPI) reconcileReserved(w http.ResponseWriter, r *http.Request) {
	var req reservedStockRequest
	if !decode(w, r, &req, true) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, apperr.Validation(apperr.CodeInvalidInput, err.Error(), `use "analyze" or "fix"`))
		return
	}
	ctx, cancel := a.jobContext(r)
	defer cancel()

	var (
		res any
		err error
	)
	if req.Action == actionFix {
		res, err = a.svc.Reconcile.Fix(ctx)
	} else {
		res, err = a.svc.Reconcile.Analyze(ctx)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *JobsAPI) scanDispatch(w http.ResponseWriter, r *http.Request) {
	a.scan(w, r, a.svc.Scan.Dispatch)
}

func (a *JobsAPI) scanReturn(w http.ResponseWriter, r *http.Request) {
	a.scan(w, r, a.svc.Scan.Return)
}

func (a *JobsAPI) scan(w http.ResponseWriter, r *http.Request, fn func(context.Context, scan.Request) (scan.Result, error)) {
	var req scan.Request
	if !decode(w, r, &req, false) {
		return
	}
	res, err := fn(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *JobsAPI) currentShipment(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Shipments.Current(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *JobsAPI) shipmentHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := a.svc.Shipments.History(r.Context(), chi.URLParam(r, "trackingId"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
