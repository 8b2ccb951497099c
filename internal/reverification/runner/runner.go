// Package runner drives re-verification on a cron cadence.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"tokenverif/internal/reverification/service"
	"tokenverif/pkg/requestcontext"
)

// Jobs is the two-phase re-verification run.
type Jobs interface {
	ScheduleJobs(ctx context.Context) (int, error)
	ProcessJobs(ctx context.Context) (*service.BatchResult, error)
}

const defaultRunTimeout = 30 * time.Minute

// Runner invokes ScheduleJobs then ProcessJobs on every tick. A tick that
// starts while the previous one is still running is skipped.
type Runner struct {
	cron       *cron.Cron
	jobs       Jobs
	logger     *slog.Logger
	runTimeout time.Duration
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunTimeout bounds a single tick.
func WithRunTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.runTimeout = d
		}
	}
}

// New parses spec (standard five-field cron or descriptors like @hourly).
func New(spec string, jobs Jobs, opts ...Option) (*Runner, error) {
	r := &Runner{jobs: jobs, logger: slog.Default(), runTimeout: defaultRunTimeout}
	for _, opt := range opts {
		opt(r)
	}

	cl := cronLogger{r.logger}
	r.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := r.cron.AddFunc(spec, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid re-verification schedule %q: %w", spec, err)
	}
	return r, nil
}

// Start runs the scheduler in its own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop prevents new ticks and waits for a running tick or ctx, whichever
// comes first.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one scheduling and processing pass.
func (r *Runner) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()
	ctx = requestcontext.WithRequestID(ctx, "reverify-"+uuid.NewString())

	created, err := r.jobs.ScheduleJobs(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "re-verification scheduling failed", "error", err)
	}
	result, err := r.jobs.ProcessJobs(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "re-verification processing failed", "error", err)
		return
	}
	r.logger.InfoContext(ctx, "re-verification run complete",
		"request_id", requestcontext.RequestID(ctx),
		"scheduled", created,
		"claimed", result.Claimed,
		"skipped", result.Skipped,
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
