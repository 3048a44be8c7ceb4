// Package scheduler runs the worker's periodic jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work. Its context is cancelled when the
// runner stops.
type Job func(ctx context.Context) error

// Runner wraps a seconds-resolution cron. A job still running when its
// next tick fires is skipped rather than overlapped.
type Runner struct {
	cron    *cron.Cron
	logger  *slog.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// New creates a Runner. timeout bounds each job run; zero means none.
func New(logger *slog.Logger, timeout time.Duration) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With(slog.String("component", "scheduler"))
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		timeout: timeout,
	}
}

// Add schedules job under name. spec uses six fields (with seconds) or a
// descriptor such as "@every 30s".
func (r *Runner) Add(name, spec string, job Job) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() { r.run(name, job) })
	if err != nil {
		return 0, fmt.Errorf("scheduler: add %s %q: %w", name, spec, err)
	}
	r.logger.Info("job scheduled", slog.String("job", name), slog.String("spec", spec))
	return id, nil
}

func (r *Runner) run(name string, job Job) {
	ctx := r.baseCtx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		r.logger.ErrorContext(ctx, "job failed",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.DebugContext(ctx, "job done",
		slog.String("job", name),
		slog.Duration("took", time.Since(start)),
	)
}

// Entries reports the number of scheduled jobs.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

// Start begins firing jobs in the background.
func (r *Runner) Start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("cron stopped")
}

// Run starts the runner and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.Start()
	<-ctx.Done()
	r.Stop()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
