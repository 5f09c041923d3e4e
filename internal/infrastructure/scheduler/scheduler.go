// Package scheduler runs the worker's periodic maintenance jobs on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
	ErrInvalidCronExpression   = errors.New("invalid cron expression")
)

// Job is one unit of maintenance work.
type Job interface {
	Name() string
	Description() string

	// Run is cancelled when the scheduler stops or the job timeout passes.
	Run(ctx context.Context) error
}

// Schedule is a cron.Schedule that can describe itself.
type Schedule interface {
	cron.Schedule
	String() string
}

// JobResult records one run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Schedules are evaluated in this zone. Defaults to UTC.
	Timezone *time.Location

	// JobTimeout bounds a single run; 0 means no bound.
	JobTimeout time.Duration

	// How many results GetHistory can return.
	MaxHistorySize int
}

// DefaultSchedulerConfig returns the worker's defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:         slog.Default(),
		Timezone:       time.UTC,
		JobTimeout:     10 * time.Minute,
		MaxHistorySize: 200,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler drives registered jobs with a robfig/cron runner. A job never
// overlaps with itself: an activation is skipped while the previous run is
// still in flight.
type Scheduler struct {
	cron       *cron.Cron
	logger     *slog.Logger
	timezone   *time.Location
	jobTimeout time.Duration
	maxHistory int

	mu       sync.Mutex
	jobs     map[string]*entry
	history  []JobResult
	onResult func(JobResult)
	ctx      context.Context
	cancel   context.CancelFunc
	started  time.Time
}

type entry struct {
	job      Job
	schedule Schedule
	id       cron.EntryID // zero while disabled
	runs     int64
	failures int64
	last     *JobResult
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 200
	}

	log := config.Logger.With("component", "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Timezone),
			cron.WithLogger(cronLogger{log}),
		),
		logger:     log,
		timezone:   config.Timezone,
		jobTimeout: config.JobTimeout,
		maxHistory: config.MaxHistorySize,
		jobs:       make(map[string]*entry),
	}
}

// Register adds job under schedule. Names must be unique.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule}
	s.jobs[name] = e
	s.enable(e)

	s.logger.Info("job registered", "job", name, "schedule", schedule.String())
	return nil
}

// RegisterCron parses expr and registers the job.
func (s *Scheduler) RegisterCron(job Job, expr string) error {
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}
	return s.Register(job, schedule)
}

// SetEnabled adds or removes a job's cron entry. Its counters survive.
func (s *Scheduler) SetEnabled(jobName string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	switch {
	case enabled && e.id == 0:
		s.enable(e)
	case !enabled && e.id != 0:
		s.cron.Remove(e.id)
		e.id = 0
	}
	s.logger.Info("job toggled", "job", jobName, "enabled", enabled)
	return nil
}

// enable must be called with s.mu held.
func (s *Scheduler) enable(e *entry) {
	run := cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.execute(ctx, e, false)
	})
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.logger.With("job", e.job.Name())})).Then(run)
	e.id = s.cron.Schedule(e.schedule, wrapped)
}

// OnJobComplete sets a callback invoked after every scheduled or manual run.
func (s *Scheduler) OnJobComplete(fn func(result JobResult)) {
	s.mu.Lock()
	s.onResult = fn
	s.mu.Unlock()
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// Start runs the cron loop in the background. Runs see a context derived
// from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs_count", count, "timezone", s.timezone.String())
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	uptime := time.Since(s.started)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped", "uptime", uptime.String())
	return nil
}

// IsRunning reports whether Start was called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx != nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────────────────────────────────

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[jobName]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	result := s.execute(ctx, e, true)
	return &result, result.Error
}

func (s *Scheduler) execute(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	log := s.logger.With("job", name, "manual", manual)

	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	log.Info("job started")
	result := JobResult{JobName: name, StartedAt: time.Now(), Manual: manual}
	result.Error = runJob(ctx, e.job)
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = result.Error == nil

	if result.Error != nil {
		log.Error("job failed", "duration", result.Duration.String(), "error", result.Error)
	} else {
		log.Info("job completed", "duration", result.Duration.String())
	}

	s.mu.Lock()
	e.runs++
	if !result.Success {
		e.failures++
	}
	e.last = &result
	s.history = append(s.history, result)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = s.history[over:]
	}
	hook := s.onResult
	s.mu.Unlock()

	if hook != nil {
		hook(result)
	}
	return result
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Introspection
// ──────────────────────────────────────────────────────────────────────────────

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	Enabled     bool
	Schedule    string
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs returns every registered job, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		info := JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Enabled:     e.id != 0,
			Schedule:    e.schedule.String(),
			RunCount:    e.runs,
			FailCount:   e.failures,
			LastResult:  e.last,
		}
		if e.id != 0 {
			info.NextRun = s.cron.Entry(e.id).Next
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// GetHistory returns up to limit of the most recent results, oldest first.
// limit <= 0 returns everything kept.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return append([]JobResult(nil), s.history[len(s.history)-limit:]...)
}

// cronLogger routes robfig/cron's logging into slog. Its Info lines are
// per-activation noise, so they go out at debug.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
