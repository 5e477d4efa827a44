// Package scheduler triggers crawl cycles at fixed times of day and once at startup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/anime-guide-crawler/internal/pipeline"
)

// DefaultSpecs fire at 09:00 and 21:00.
var DefaultSpecs = []string{"0 9 * * *", "0 21 * * *"}

// Job runs one crawl cycle.
type Job interface {
	RunOnce(ctx context.Context) (pipeline.RunSummary, error)
}

// Config controls when the job fires.
type Config struct {
	// Specs are standard five-field cron expressions.
	Specs []string
	// Location interprets Specs; nil means UTC.
	Location     *time.Location
	RunOnStartup bool
}

// Scheduler owns the cron loop and the startup run.
type Scheduler struct {
	job    Job
	cfg    Config
	logger *zap.Logger
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	started     bool
	startupDone chan struct{}
}

// New validates the specs and builds a stopped Scheduler.
func New(job Job, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Specs) == 0 {
		cfg.Specs = DefaultSpecs
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cronLog := cronLogger{log: logger.Sugar()}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{job: job, cfg: cfg, logger: logger, cron: c, ctx: ctx, cancel: cancel}
	for _, spec := range cfg.Specs {
		if _, err := c.AddFunc(spec, func() { s.run("cron") }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %q: %w", spec, err)
		}
	}
	return s, nil
}

// Start begins the cron loop and, when configured, one background startup run.
// Calling Start again is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Strings("specs", s.cfg.Specs), zap.String("location", s.cfg.Location.String()))

	if !s.cfg.RunOnStartup {
		return
	}
	done := make(chan struct{})
	s.startupDone = done
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("startup crawl panicked", zap.Any("panic", rec), zap.Stack("stack"))
			}
		}()
		s.run("startup")
	}()
}

// Shutdown stops future triggers and cancels the running cycle. It does not
// wait for the cycle to return.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cancel()
		return
	}
	s.cron.Stop()
	s.cancel()
	s.logger.Info("scheduler stopped")
}

// Wait blocks until the startup run finishes or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.startupDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun reports the earliest scheduled trigger.
func (s *Scheduler) NextRun() (time.Time, bool) {
	var next time.Time
	for _, entry := range s.cron.Entries() {
		if entry.Next.IsZero() {
			continue
		}
		if next.IsZero() || entry.Next.Before(next) {
			next = entry.Next
		}
	}
	return next, !next.IsZero()
}

func (s *Scheduler) run(trigger string) {
	if s.ctx.Err() != nil {
		return
	}
	log := s.logger.With(zap.String("trigger", trigger))
	summary, err := s.job.RunOnce(s.ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		log.Info("crawl already running, trigger skipped")
	case err != nil:
		log.Error("crawl run failed", zap.String("run_id", summary.RunID), zap.Error(err))
	default:
		log.Info("crawl run complete", zap.String("run_id", summary.RunID), zap.String("status", string(summary.Status)))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
