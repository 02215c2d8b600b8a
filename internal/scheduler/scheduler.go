// Package scheduler runs the daily advancement on a cron timer.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"wellnessplan/progress-app/internal/config"
	"wellnessplan/progress-app/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Advancer is the single entry point the scheduler drives.
type Advancer interface {
	AdvanceAllActiveUsers(ctx context.Context) (*service.AdvanceReport, error)
}

// Scheduler wraps a seconds-enabled cron with one advancement job.
type Scheduler struct {
	cron     *cron.Cron
	job      cron.Job // RunOnce behind the cron chain
	advancer Advancer
	cfg      config.SchedulerConfig
	log      *zap.SugaredLogger
}

// New registers the advancement job on cfg.Spec. Overlapping runs are skipped
// while a previous run is still going.
func New(advancer Advancer, cfg config.SchedulerConfig, log *zap.SugaredLogger) (*Scheduler, error) {
	cl := cronLogger{log: log.Named("cron")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		advancer: advancer,
		cfg:      cfg,
		log:      log,
	}
	id, err := s.cron.AddFunc(cfg.Spec, s.RunOnce)
	if err != nil {
		return nil, fmt.Errorf("add advancement job %q: %w", cfg.Spec, err)
	}
	s.job = s.cron.Entry(id).WrappedJob
	return s, nil
}

// Start begins firing the job. With run_on_start set, one run is kicked off
// immediately; a timer tick during that run is skipped like any other overlap.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infow("advancement scheduler started", "spec", s.cfg.Spec, "timeout", s.cfg.Timeout.String())
	if s.cfg.RunOnStart {
		go s.job.Run()
	}
}

// Stop stops the timer and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("advancement scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("advancement scheduler forced to stop with a run in flight")
	}
}

// RunOnce performs one advancement run bounded by the configured timeout.
func (s *Scheduler) RunOnce() {
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := s.advancer.AdvanceAllActiveUsers(ctx)
	if err != nil {
		s.log.Errorw("advancement run failed", "error", err)
		return
	}
	if report.Failed > 0 {
		s.log.Warnw("advancement run finished with failures",
			"runId", report.RunID, "failed", report.Failed, "failedUserIds", report.FailedUserIDs)
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
