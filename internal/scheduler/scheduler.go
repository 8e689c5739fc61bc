// Package scheduler runs periodic reconciliation so a long-lived session picks
// up status changes even when it is never refocused.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Target is the part of session.Controller a cycle drives.
type Target interface {
	Focus(ctx context.Context) error
	Reconcile(ctx context.Context) error
}

// Scheduler wraps robfig/cron and manages the reconcile loop.
type Scheduler struct {
	cron   *cron.Cron
	target Target
	spec   string // cron spec, e.g. "@every 5m"
	logger *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	cycles int
	after  func()
}

// Every returns the cron spec for a fixed interval.
func Every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// New creates a Scheduler for the given cron spec. after, when non-nil, runs
// at the end of every cycle.
func New(target Target, spec string, logger *zap.Logger, after func()) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		target: target,
		spec:   spec,
		logger: logger,
		after:  after,
	}
}

// Start registers the job and starts the scheduler. One cycle also runs
// immediately so pending updates are applied without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Cron started", zap.String("spec", s.spec))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx)
	}()

	return nil
}

// Stop shuts down the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Cron stopped")
}

// Cycles returns how many cycles have completed.
func (s *Scheduler) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// RunOnce drains pending updates then merges the tracker. Failures are logged;
// the next cycle tries again.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()

	if err := s.target.Focus(ctx); err != nil {
		s.logger.Warn("Pending drain failed", zap.Error(err))
	}
	if err := s.target.Reconcile(ctx); err != nil {
		s.logger.Warn("Tracker reconciliation failed", zap.Error(err))
	}

	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()

	s.logger.Debug("Reconcile cycle complete", zap.Duration("took", time.Since(start)))
	if s.after != nil {
		s.after()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
