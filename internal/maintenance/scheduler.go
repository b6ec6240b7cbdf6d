package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const stopTimeout = 5 * time.Second

// Scheduler runs Sweep on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	sweeper  *Sweeper
	schedule rcron.Schedule
	spec     string
	logger   *zap.Logger

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
}

// NewScheduler validates spec, a standard cron expression or descriptor
// such as "@every 30m".
func NewScheduler(sweeper *Sweeper, spec string, logger *zap.Logger) (*Scheduler, error) {
	sched, err := rcron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{sweeper: sweeper, schedule: sched, spec: spec, logger: logger}, nil
}

// Start begins scheduling. Cancelling ctx stops the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	clog := cronLogger{s.logger.Sugar()}
	c := rcron.New(rcron.WithLogger(clog), rcron.WithChain(rcron.Recover(clog), rcron.SkipIfStillRunning(clog)))
	c.Schedule(s.schedule, rcron.FuncJob(func() {
		if _, err := s.sweeper.Sweep(runCtx); err != nil {
			s.logger.Warn("scheduled sweep failed", zap.Error(err))
		}
	}))
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.logger.Info("maintenance scheduler started", zap.String("schedule", s.spec))

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Stop halts scheduling and waits briefly for a running sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("timed out waiting for running sweep")
	}
	cancel()
	s.logger.Info("maintenance scheduler stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
