// Package scheduler runs the periodic feed refreshes. Each task starts
// immediately, never overlaps itself and survives its own failures.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"market-pulse/dashboard"
	"market-pulse/models"
	"market-pulse/observability"
)

// Toaster delivers transient user-facing messages
type Toaster interface {
	Toast(toast models.Toast)
}

// Scheduler wraps a gocron scheduler with cancellable refresh tasks
type Scheduler struct {
	cron    gocron.Scheduler
	toaster Toaster
	ctx     context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*Task
}

// Task is a registered periodic job
type Task struct {
	name     string
	interval time.Duration
	job      gocron.Job
	sched    *Scheduler
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

// TaskOption customizes a task
type TaskOption func(*taskConfig)

type taskConfig struct {
	failureTitle string
	silent       bool
}

// WithFailureTitle overrides the toast title shown when a run fails
func WithFailureTitle(title string) TaskOption {
	return func(c *taskConfig) {
		c.failureTitle = title
	}
}

// Silent suppresses failure toasts; failures are still logged
func Silent() TaskOption {
	return func(c *taskConfig) {
		c.silent = true
	}
}

// New creates a scheduler. Tasks do not run until Start is called.
func New(toaster Toaster) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithStopTimeout(5 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron,
		toaster: toaster,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
	}, nil
}

// Start begins running registered tasks
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Every registers fn to run every interval under name. The first run happens
// as soon as the scheduler is started.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context) error, opts ...TaskOption) (*Task, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("task %s: interval must be positive, got %s", name, interval)
	}

	cfg := taskConfig{failureTitle: "Error fetching " + name}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &Task{
		name:     name,
		interval: interval,
		sched:    s,
		ctx:      ctx,
		cancel:   cancel,
	}

	job, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.run(task, cfg, fn) }),
		gocron.WithName(name),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	task.job = job

	s.mu.Lock()
	previous := s.tasks[name]
	s.tasks[name] = task
	s.mu.Unlock()
	if previous != nil {
		previous.Cancel()
	}

	observability.Info("scheduled task registered", "task", name, "interval", interval)
	return task, nil
}

// Task returns the registered task with the given name
func (s *Scheduler) Task(name string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Shutdown cancels every task and stops the scheduler. In-flight runs see
// their context cancelled.
func (s *Scheduler) Shutdown() error {
	s.cancel()

	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	return s.cron.Shutdown()
}

func (s *Scheduler) run(t *Task, cfg taskConfig, fn func(ctx context.Context) error) {
	if t.ctx.Err() != nil {
		return
	}

	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	err := safeRun(t.ctx, fn)
	if err == nil {
		timer.ObserveFeedRefresh(t.name, "success")
		return
	}
	if t.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		timer.ObserveFeedRefresh(t.name, "cancelled")
		return
	}

	timer.ObserveFeedRefresh(t.name, "error")
	observability.WithFeed(t.name).Error("scheduled refresh failed", "error", err)
	if !cfg.silent && s.toaster != nil {
		s.toaster.Toast(models.Toast{
			Title:       cfg.failureTitle,
			Description: "Please try again later",
			Variant:     models.ToastDestructive,
		})
	}
}

// safeRun turns a panic in fn into an error
func safeRun(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Interval returns the task interval
func (t *Task) Interval() time.Duration {
	return t.interval
}

// ID returns the underlying job id
func (t *Task) ID() uuid.UUID {
	return t.job.ID()
}

// RunNow triggers an extra run outside the schedule
func (t *Task) RunNow() error {
	if t.ctx.Err() != nil {
		return fmt.Errorf("task %s is cancelled", t.name)
	}
	return t.job.RunNow()
}

// Cancel stops future runs and cancels an in-flight one. It is idempotent.
func (t *Task) Cancel() {
	t.once.Do(func() {
		t.cancel()
		if err := t.sched.cron.RemoveJob(t.job.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			observability.WithFeed(t.name).Warn("failed to remove scheduled task", "error", err)
		}

		t.sched.mu.Lock()
		if t.sched.tasks[t.name] == t {
			delete(t.sched.tasks, t.name)
		}
		t.sched.mu.Unlock()
	})
}

// Watch refreshes snap from fetch every interval. A failed run keeps the
// last published value and records the error on the snapshot.
func Watch[T any](s *Scheduler, name string, interval time.Duration, fetch func(ctx context.Context) (T, error), snap *dashboard.Snapshot[T], opts ...TaskOption) (*Task, error) {
	return s.Every(name, interval, func(ctx context.Context) error {
		data, err := fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				snap.Fail(err)
			}
			return err
		}
		snap.Publish(data)
		return nil
	}, opts...)
}
