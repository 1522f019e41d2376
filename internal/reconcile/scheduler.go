package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/kickctl/internal/lease"
	"github.com/danmuck/kickctl/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 60 * time.Second

var ErrInvalidInterval = errors.New("reconcile: invalid tick interval")

// TickFunc runs one tick to completion.
type TickFunc func(ctx context.Context) error

// SchedulerConfig configures the tick loop.
type SchedulerConfig struct {
	Interval time.Duration
	Clock    clock.Clock
	// Lease guards ticks across processes. Nil runs every tick.
	Lease    lease.Lease
	LeaseTTL time.Duration
}

// Scheduler runs ticks back to back: the next tick is armed only after the
// current one has returned, so ticks never overlap.
type Scheduler struct {
	tick   TickFunc
	cfg    SchedulerConfig
	logger zerolog.Logger
}

func NewScheduler(tick TickFunc, cfg SchedulerConfig) (*Scheduler, error) {
	if tick == nil {
		return nil, errors.New("reconcile: missing tick func")
	}
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Lease == nil {
		cfg.Lease = lease.Noop{}
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * cfg.Interval
	}
	return &Scheduler{
		tick:   tick,
		cfg:    cfg,
		logger: log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run ticks immediately, then once per interval after each tick settles,
// until ctx is done. A failed tick never stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("scheduler started")
	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("scheduler stopped")
			return nil
		}
		s.RunOnce(ctx)

		timer := s.cfg.Clock.Timer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce runs a single guarded tick. Panics are recovered and reported as
// errors so the loop survives them.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	release, ok, err := s.cfg.Lease.Acquire(ctx, s.cfg.LeaseTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("lease acquire failed; tick skipped")
		observability.CaptureError(err, map[string]string{"stage": "lease"})
		return err
	}
	if !ok {
		s.logger.Info().Msg("lease held elsewhere; tick skipped")
		return nil
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconcile: tick panic: %v", r)
			s.logger.Error().Err(err).Msg("tick panicked")
			observability.CaptureError(err, map[string]string{"stage": "tick"})
		}
	}()

	if err := s.tick(ctx); err != nil {
		s.logger.Error().Err(err).Msg("tick failed")
		observability.CaptureError(err, map[string]string{"stage": "tick"})
		return err
	}
	return nil
}
