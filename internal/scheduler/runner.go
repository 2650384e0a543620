package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one periodic pass.
type Job interface {
	Name() string
	Run(ctx context.Context, now time.Time) (Summary, error)
}

// cronLogger adapts zap to the cron package's logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Runner triggers the jobs on a cron schedule. A tick that is still running when the
// next one fires causes that next one to be skipped.
type Runner struct {
	cron    *cron.Cron
	spec    string
	jobs    []Job
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRunner builds a runner. spec has a leading seconds field. Jobs run in the given order.
func NewRunner(spec string, timeout time.Duration, logger *zap.Logger, jobs ...Job) *Runner {
	logger = logger.Named("scheduler")
	cl := cronLogger{s: logger.Sugar()}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec:    spec,
		jobs:    jobs,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Start registers the tick and starts the cron loop.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(r.spec, r.Tick); err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", r.spec, err)
	}
	r.cron.Start()
	r.logger.Info("Scheduler started", zap.String("spec", r.spec), zap.Int("jobs", len(r.jobs)))
	return nil
}

// Stop waits for a running tick to finish or ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs every job once. A failing job does not stop the others.
func (r *Runner) Tick() {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	r.RunOnce(ctx)
}

// RunOnce runs every job once with the given context and returns the summaries by job name.
func (r *Runner) RunOnce(ctx context.Context) map[string]Summary {
	now := r.now()
	out := make(map[string]Summary, len(r.jobs))
	for _, job := range r.jobs {
		sum, err := job.Run(ctx, now)
		out[job.Name()] = sum
		if err != nil {
			r.logger.Error("Scheduled job failed", zap.String("job", job.Name()), zap.Error(err))
			continue
		}
		if sum.Processed > 0 || sum.Failed > 0 {
			r.logger.Info("Scheduled job completed", sum.fields(job.Name())...)
		}
	}
	return out
}
