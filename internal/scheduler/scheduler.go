// Package scheduler runs the daemon's periodic jobs on a gocron scheduler
// in the archive's timezone.
//
// Jobs either repeat at a fixed interval (the sealer) or run once a day at
// a local wall-clock time (warmups, retention). A job never overlaps with
// itself; a run still in progress when the next one is due is skipped.
// Failures and panics are logged and counted, never propagated: the
// scheduler is a fire-and-forget trigger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
)

// Job is one scheduled task. Exactly one of Every and At is set.
type Job struct {
	Name  string
	Every time.Duration // run at this interval
	At    string        // run daily at this local "HH:MM"
	Run   func(ctx context.Context) error
}

func (j Job) validate() error {
	if j.Name == "" {
		return errors.NewMissingField("name")
	}
	if j.Run == nil {
		return errors.NewMissingField(j.Name + ".run")
	}
	switch {
	case j.Every > 0 && j.At != "":
		return errors.NewInvalidArgument(j.Name, j.At, "set either every or at, not both")
	case j.Every > 0:
		if j.Every < time.Minute {
			return errors.NewInvalidArgument(j.Name+".every", j.Every, "must be at least a minute")
		}
	case j.At != "":
		if _, err := time.Parse("15:04", j.At); err != nil {
			return errors.NewInvalidArgument(j.Name+".at", j.At, "must be HH:MM")
		}
	default:
		return errors.NewMissingField(j.Name + ".every")
	}
	return nil
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	// Location is the timezone of daily jobs.
	Location *time.Location

	// DrainTimeout bounds how long Stop waits for running jobs.
	DrainTimeout time.Duration

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// JobStats holds statistics for one job.
type JobStats struct {
	Name      string
	Runs      int64
	Failures  int64
	LastRun   time.Time
	LastError string
	Running   bool
}

// Scheduler triggers jobs. It is safe for concurrent use.
type Scheduler struct {
	cron         *gocron.Scheduler
	jobs         []Job
	drainTimeout time.Duration
	log          *slog.Logger
	runs         *prometheus.CounterVec

	// ctx is cancelled by Stop so running jobs wind down.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stats   map[string]*JobStats
	handles map[string]*gocron.Job
	started bool
	stopped bool
}

// Run outcomes, used as the "outcome" label.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomePanic   = "panic"
	outcomeSkipped = "skipped"
)

// New creates a scheduler for jobs. Nothing runs until Start.
func New(jobs []Job, opts Options) (*Scheduler, error) {
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if err := j.validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[j.Name]; ok {
			return nil, errors.NewInvalidArgument("job", j.Name, "duplicate name")
		}
		seen[j.Name] = struct{}{}
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:         gocron.NewScheduler(opts.Location),
		jobs:         jobs,
		drainTimeout: opts.DrainTimeout,
		log:          opts.Logger,
		ctx:          ctx,
		cancel:       cancel,
		stats:        make(map[string]*JobStats, len(jobs)),
		handles:      make(map[string]*gocron.Job, len(jobs)),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
	}
	for _, j := range jobs {
		s.stats[j.Name] = &JobStats{Name: j.Name}
	}

	if opts.Registerer != nil {
		if err := opts.Registerer.Register(s.runs); err != nil {
			cancel()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return s, nil
}

// Start registers every job with gocron and starts it in the background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	for _, j := range s.jobs {
		j := j
		fn := func() { s.execute(j) }

		var (
			handle *gocron.Job
			err    error
		)
		if j.Every > 0 {
			handle, err = s.cron.Every(j.Every).Do(fn)
		} else {
			handle, err = s.cron.Every(1).Day().At(j.At).Do(fn)
		}
		if err != nil {
			s.cron.Clear()
			return fmt.Errorf("schedule %s: %w", j.Name, err)
		}
		s.handles[j.Name] = handle
	}

	s.cron.StartAsync()
	s.started = true

	s.log.Info("scheduler started", "jobs", len(s.jobs), "location", s.cron.Location().String())
	return nil
}

// Stop stops triggering jobs and waits up to the drain timeout for running
// ones, whose context is cancelled.
func (s *Scheduler) Stop() {
	s.StopWithContext(context.Background())
}

// StopWithContext is Stop bounded by ctx as well as the drain timeout.
func (s *Scheduler) StopWithContext(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.log.Info("scheduler stopping")
	if started {
		s.cron.Stop()
	}
	s.cancel()

	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped gracefully")
	case <-drainCtx.Done():
		s.log.Warn("scheduler drain timeout", "running", s.runningJobs())
	}
}

// RunNow runs the named job synchronously and returns its error. It
// follows the same no-overlap rule as scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.Name == name {
			return s.run(ctx, j)
		}
	}
	return fmt.Errorf("%w: job %q", errors.ErrNotFound, name)
}

// execute is the gocron entry point.
func (s *Scheduler) execute(j Job) {
	s.run(s.ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j Job) (err error) {
	s.mu.Lock()
	st := s.stats[j.Name]
	if s.stopped {
		s.mu.Unlock()
		return errors.Wrap(context.Canceled, "scheduler stopped")
	}
	if st.Running {
		s.mu.Unlock()
		s.runs.WithLabelValues(j.Name, outcomeSkipped).Inc()
		s.log.Warn("job still running, skipped", "job", j.Name)
		return nil
	}
	st.Running = true
	s.wg.Add(1)
	s.mu.Unlock()

	ctx = logging.ContextWithJob(ctx, j.Name)
	log := logging.WithContext(ctx, s.log)
	start := time.Now()

	defer func() {
		outcome := outcomeOK
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			outcome = outcomePanic
		} else if err != nil {
			outcome = outcomeError
		}

		s.mu.Lock()
		st.Running = false
		st.Runs++
		st.LastRun = start
		st.LastError = ""
		if err != nil {
			st.Failures++
			st.LastError = err.Error()
		}
		s.mu.Unlock()
		s.wg.Done()

		s.runs.WithLabelValues(j.Name, outcome).Inc()
		if err != nil {
			log.Error("job failed", "error", err, "elapsed", time.Since(start))
		} else {
			log.Debug("job finished", "elapsed", time.Since(start))
		}
	}()

	return j.Run(ctx)
}

func (s *Scheduler) runningJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, j := range s.jobs {
		if s.stats[j.Name].Running {
			out = append(out, j.Name)
		}
	}
	return out
}

// Jobs returns the configured job names in registration order.
func (s *Scheduler) Jobs() []string {
	out := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.Name
	}
	return out
}

// NextRun returns when the named job is next due. ok is false before Start
// or for an unknown name.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	handle, ok := s.handles[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return handle.NextRun(), true
}

// Stats returns per-job statistics in registration order.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStats, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *s.stats[j.Name])
	}
	return out
}
