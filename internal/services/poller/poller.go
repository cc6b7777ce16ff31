package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CourierSync/internal/integrations/courier"
	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/pkg/errors"
)

type Repository interface {
	ListActiveDispatches(ctx context.Context, offset, limit int) ([]*models.Dispatch, error)
	RecordTracking(ctx context.Context, upd storage.TrackingUpdate) (models.StatusChange, error)
}

type Couriers interface {
	Get(code string) (courier.Client, bool)
}

// RateLimiter counts courier calls per minute across replicas.
type RateLimiter interface {
	Take(ctx context.Context, courierCode string, limit int64) (bool, int64, error)
}

type Publisher interface {
	StatusChanged(ctx context.Context, c models.StatusChange, source string, courierCode, trackingID *string)
}

// SnapshotWriter receives the current state of every polled shipment.
type SnapshotWriter interface {
	PutCurrent(ctx context.Context, snap models.ShipmentSnapshot)
}

type Poller struct {
	repo     Repository
	couriers Couriers
	rl       RateLimiter
	pub      Publisher
	snaps    SnapshotWriter

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	itemTimeout        time.Duration
	rateLimitPerMinute int64
	courierRateLimits  map[string]int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalPolled         atomic.Int64
	totalChanged        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, couriers Couriers, rl RateLimiter, pub Publisher, snaps SnapshotWriter) *Poller {
	return &Poller{
		repo: repo, couriers: couriers, rl: rl, pub: pub, snaps: snaps,
		pollInterval:       15 * time.Minute,
		batchSize:          50,
		concurrency:        10,
		itemTimeout:        8 * time.Second,
		rateLimitPerMinute: 120,
		courierRateLimits:  map[string]int64{},
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, itemTimeout time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if itemTimeout > 0 {
		p.itemTimeout = itemTimeout
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

// WithCourierRateLimits overrides the per-minute limit for individual couriers.
func (p *Poller) WithCourierRateLimits(limits map[string]int64) *Poller {
	for code, n := range limits {
		if n > 0 {
			p.courierRateLimits[code] = n
		}
	}
	return p
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalPolled   int64      `json:"totalPolled"`
	TotalChanged  int64      `json:"totalChanged"`
	TotalErrors   int64      `json:"totalErrors"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalPolled:  p.totalPolled.Load(),
		TotalChanged: p.totalChanged.Load(),
		TotalErrors:  p.totalErrors.Load(),
		InFlight:     p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

// Run sweeps on every tick and on Trigger until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.sweepAndLog(ctx)
		case <-p.triggerCh:
			p.sweepAndLog(ctx)
		}
	}
}

func (p *Poller) sweepAndLog(ctx context.Context) {
	res, err := p.Sweep(ctx)
	if err != nil {
		slog.Error("tracking sweep", "error", err.Error())
		p.setLastError(err)
		return
	}
	slog.Info("tracking sweep done",
		"total", res.Results.Total, "updated", res.Results.Updated,
		"delivered", res.Results.Delivered, "returned", res.Results.Returned,
		"failed", res.Results.Failed, "batches", res.Batches)
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

type ItemError struct {
	TrackingID string `json:"tracking_id"`
	Error      string `json:"error"`
}

type Counters struct {
	Total     int         `json:"total"`
	Updated   int         `json:"updated"`
	Delivered int         `json:"delivered"`
	Returned  int         `json:"returned"`
	Failed    int         `json:"failed"`
	NoChange  int         `json:"noChange"`
	Errors    []ItemError `json:"errors"`
}

func (c *Counters) add(o Counters) {
	c.Total += o.Total
	c.Updated += o.Updated
	c.Delivered += o.Delivered
	c.Returned += o.Returned
	c.Failed += o.Failed
	c.NoChange += o.NoChange
	c.Errors = append(c.Errors, o.Errors...)
}

type BatchResult struct {
	Results    Counters `json:"results"`
	HasMore    bool     `json:"hasMore"`
	NextOffset int      `json:"nextOffset"`
}

type SweepResult struct {
	Results Counters `json:"results"`
	Batches int      `json:"batches"`
}

type outcome int

const (
	outcomeNoChange outcome = iota
	outcomeUpdated
	outcomeDelivered
	outcomeReturned
	outcomeFailed
)

// RunBatch polls one page of active dispatches. Shipments that became terminal leave the active
// set, so nextOffset only advances past the ones that are still active.
func (p *Poller) RunBatch(ctx context.Context, offset, limit int) (BatchResult, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = p.batchSize
	}
	p.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	items, err := p.repo.ListActiveDispatches(ctx, offset, limit)
	if err != nil {
		return BatchResult{}, errors.Wrap(err, "list active dispatches")
	}

	var (
		mu   sync.Mutex
		res  = Counters{Errors: []ItemError{}}
		left int
	)
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, d := range items {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func(d *models.Dispatch) {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			out, terminal, err := p.processOne(ctx, d)
			p.totalPolled.Add(1)

			mu.Lock()
			defer mu.Unlock()
			res.Total++
			if terminal {
				left++
			}
			switch out {
			case outcomeFailed:
				p.totalErrors.Add(1)
				p.setLastError(err)
				slog.Error("poll shipment", "tracking_id", *d.TrackingID, "courier", d.CourierCode, "error", err.Error())
				res.Failed++
				res.Errors = append(res.Errors, ItemError{TrackingID: *d.TrackingID, Error: err.Error()})
			case outcomeDelivered:
				res.Delivered++
			case outcomeReturned:
				res.Returned++
			case outcomeUpdated:
				res.Updated++
			default:
				res.NoChange++
			}
		}(d)
	}
	wg.Wait()

	return BatchResult{
		Results:    res,
		HasMore:    len(items) == limit,
		NextOffset: offset + len(items) - left,
	}, nil
}

const maxSweepBatches = 1000

// Sweep chains batches from offset 0 until no page is left.
func (p *Poller) Sweep(ctx context.Context) (SweepResult, error) {
	out := SweepResult{Results: Counters{Errors: []ItemError{}}}
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		b, err := p.RunBatch(ctx, offset, p.batchSize)
		if err != nil {
			return out, err
		}
		out.Batches++
		out.Results.add(b.Results)
		if !b.HasMore || out.Batches >= maxSweepBatches {
			return out, nil
		}
		offset = b.NextOffset
	}
}

func (p *Poller) processOne(ctx context.Context, d *models.Dispatch) (outcome, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	client, ok := p.couriers.Get(d.CourierCode)
	if !ok {
		return outcomeFailed, false, errors.Errorf("courier %q is not configured", d.CourierCode)
	}
	if err := p.waitRateLimit(ctx, client.Code()); err != nil {
		return outcomeFailed, false, err
	}

	res, err := client.Track(ctx, *d.TrackingID)
	if err != nil {
		return outcomeFailed, false, err
	}
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now().UTC()
	}

	change, err := p.repo.RecordTracking(ctx, storage.TrackingUpdate{
		DispatchID:  d.ID,
		OrderID:     d.OrderID,
		TrackingID:  *d.TrackingID,
		CourierCode: d.CourierCode,
		Result:      res,
	})
	if err != nil {
		return outcomeFailed, false, errors.Wrap(err, "record tracking")
	}

	if p.snaps != nil {
		checkedAt := res.CheckedAt
		p.snaps.PutCurrent(ctx, models.ShipmentSnapshot{
			TrackingID:  *d.TrackingID,
			OrderID:     d.OrderID,
			CourierCode: d.CourierCode,
			Status:      res.Status,
			RawStatus:   res.RawStatus,
			Location:    res.Location,
			CheckedAt:   &checkedAt,
		})
	}
	if change.Changed() {
		p.totalChanged.Add(1)
		change.Reason = "courier status " + res.RawStatus
		p.pub.StatusChanged(ctx, change, "tracking", &d.CourierCode, d.TrackingID)
	}

	terminal := res.Status.Terminal()
	switch {
	case res.Status == d.Status:
		return outcomeNoChange, terminal, nil
	case res.Status == models.ShipmentStatusDelivered:
		return outcomeDelivered, terminal, nil
	case res.Status == models.ShipmentStatusReturned:
		return outcomeReturned, terminal, nil
	default:
		return outcomeUpdated, terminal, nil
	}
}

func (p *Poller) waitRateLimit(ctx context.Context, courierCode string) error {
	if p.rl == nil || p.rateLimitPerMinute <= 0 {
		return nil
	}
	limit := p.rateLimitPerMinute
	if n, ok := p.courierRateLimits[courierCode]; ok {
		limit = n
	}

	for {
		allowed, n, err := p.rl.Take(ctx, courierCode, limit)
		if err != nil {
			// Redis недоступен: не блокируем опрос
			slog.Warn("rate limiter unavailable", "courier", courierCode, "error", err.Error())
			return nil
		}
		if allowed {
			return nil
		}
		// Слишком много запросов в минуту: подождём, пока не кончится таймаут элемента.
		slog.Warn("rate limit exceeded", "courier", courierCode, "count", n)
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "rate limited")
		case <-time.After(500 * time.Millisecond):
		}
	}
}
