package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/CourierSync/internal/cache/rediscache"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	// ErrBusy means another replica (or an earlier run) holds the job lock.
	ErrBusy = errors.New("job is already running")
)

type Locker interface {
	Lock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

type Func func(ctx context.Context) (any, error)

type Job struct {
	Name string
	// Schedule is a standard 5-field cron expression; empty means manual trigger only.
	Schedule string
	Timeout  time.Duration
	Run      Func
}

type JobStats struct {
	Name           string     `json:"name"`
	Schedule       string     `json:"schedule,omitempty"`
	Runs           int64      `json:"runs"`
	Failures       int64      `json:"failures"`
	Skipped        int64      `json:"skipped"`
	LastStartedAt  *time.Time `json:"lastStartedAt,omitempty"`
	LastFinishedAt *time.Time `json:"lastFinishedAt,omitempty"`
	LastDurationMs int64      `json:"lastDurationMs"`
	LastError      string     `json:"lastError,omitempty"`
}

// Scheduler runs registered jobs on cron schedules or on demand, one run per job name at a time
// across replicas.
type Scheduler struct {
	cron   *cron.Cron
	locker Locker

	mu    sync.Mutex
	jobs  map[string]Job
	stats map[string]*JobStats

	baseCtx context.Context
}

func New(locker Locker) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		locker:  locker,
		jobs:    make(map[string]Job),
		stats:   make(map[string]*JobStats),
		baseCtx: context.Background(),
	}
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job name and func are required")
	}
	if job.Timeout <= 0 {
		job.Timeout = 10 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return errors.Errorf("job %q already registered", job.Name)
	}
	if job.Schedule != "" {
		name := job.Name
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.runScheduled(name) }); err != nil {
			return errors.Wrapf(err, "schedule %s", job.Name)
		}
	}
	s.jobs[job.Name] = job
	s.stats[job.Name] = &JobStats{Name: job.Name, Schedule: job.Schedule}
	return nil
}

// Start begins firing cron entries; scheduled runs derive their context from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runScheduled(name string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	res, err := s.RunNow(ctx, name)
	switch {
	case errors.Is(err, ErrBusy):
		slog.Info("scheduled job skipped, lock held", "job", name)
	case err != nil:
		slog.Error("scheduled job failed", "job", name, "error", err.Error())
	default:
		slog.Info("scheduled job done", "job", name, "result", res)
	}
}

// RunNow runs a job synchronously under its lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) (any, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	st := s.stats[name]
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownJob
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "job:"+name, job.Timeout)
		if errors.Is(err, rediscache.ErrLockHeld) {
			s.record(st, func(st *JobStats) { st.Skipped++ })
			return nil, ErrBusy
		}
		if err != nil {
			// без Redis продолжаем без блокировки: дубль безопасен, записи идемпотентны
			slog.Warn("job lock unavailable", "job", name, "error", err.Error())
		} else {
			defer func() {
				if err := unlock(context.Background()); err != nil {
					slog.Warn("job unlock", "job", name, "error", err.Error())
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	started := time.Now().UTC()
	s.record(st, func(st *JobStats) { st.LastStartedAt = &started })
	res, err := job.Run(ctx)
	finished := time.Now().UTC()

	s.record(st, func(st *JobStats) {
		st.Runs++
		st.LastFinishedAt = &finished
		st.LastDurationMs = finished.Sub(started).Milliseconds()
		st.LastError = ""
		if err != nil {
			st.Failures++
			st.LastError = err.Error()
		}
	})
	return res, err
}

func (s *Scheduler) record(st *JobStats, fn func(st *JobStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(st)
}

func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
