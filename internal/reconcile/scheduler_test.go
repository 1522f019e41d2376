package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/kickctl/internal/lease"
	"github.com/danmuck/kickctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type stubLease struct {
	ok       bool
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (l *stubLease) Acquire(context.Context, time.Duration) (lease.ReleaseFunc, bool, error) {
	l.acquired.Add(1)
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func() { l.released.Add(1) }, true, nil
}

func TestNewSchedulerValidates(t *testing.T) {
	_, err := NewScheduler(nil, SchedulerConfig{Interval: time.Second})
	require.Error(t, err)

	tick := func(context.Context) error { return nil }
	_, err = NewScheduler(tick, SchedulerConfig{})
	require.ErrorIs(t, err, ErrInvalidInterval)

	s, err := NewScheduler(tick, SchedulerConfig{Interval: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, s.cfg.LeaseTTL)
}

func TestRunOnceRecoversPanic(t *testing.T) {
	testlog.Start(t)
	s, err := NewScheduler(func(context.Context) error { panic("boom") }, SchedulerConfig{Interval: time.Second})
	require.NoError(t, err)
	err = s.RunOnce(context.Background())
	require.ErrorContains(t, err, "boom")
}

func TestRunOnceHonorsLease(t *testing.T) {
	testlog.Start(t)
	var ticks atomic.Int32
	tick := func(context.Context) error {
		ticks.Add(1)
		return nil
	}

	denied := &stubLease{}
	s, err := NewScheduler(tick, SchedulerConfig{Interval: time.Second, Lease: denied})
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))
	require.Zero(t, ticks.Load())

	broken := &stubLease{err: errors.New("redis down")}
	s, err = NewScheduler(tick, SchedulerConfig{Interval: time.Second, Lease: broken})
	require.NoError(t, err)
	require.Error(t, s.RunOnce(context.Background()))
	require.Zero(t, ticks.Load())

	granted := &stubLease{ok: true}
	s, err = NewScheduler(tick, SchedulerConfig{Interval: time.Second, Lease: granted})
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))
	require.EqualValues(t, 1, ticks.Load())
	require.EqualValues(t, 1, granted.released.Load())
}

func TestRunTicksWithoutOverlapAndSurvivesFailures(t *testing.T) {
	testlog.Start(t)
	mock := clock.NewMock()
	var (
		ticks    atomic.Int32
		inflight atomic.Int32
		overlap  atomic.Bool
	)
	tick := func(context.Context) error {
		if inflight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inflight.Add(-1)
		switch ticks.Add(1) {
		case 1:
			return errors.New("ledger unavailable")
		case 2:
			panic("unexpected")
		}
		return nil
	}
	s, err := NewScheduler(tick, SchedulerConfig{Interval: time.Minute, Clock: mock})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, time.Millisecond)
	for want := int32(2); want <= 4; want++ {
		require.Eventually(t, func() bool {
			if ticks.Load() >= want {
				return true
			}
			mock.Add(time.Minute)
			return ticks.Load() >= want
		}, 2*time.Second, 5*time.Millisecond)
	}
	require.False(t, overlap.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunWaitsForInterval(t *testing.T) {
	testlog.Start(t)
	mock := clock.NewMock()
	var ticks atomic.Int32
	s, err := NewScheduler(func(context.Context) error {
		ticks.Add(1)
		return nil
	}, SchedulerConfig{Interval: time.Minute, Clock: mock})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, time.Millisecond)
	mock.Add(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, ticks.Load())
}

func TestRunReturnsOnCanceledContext(t *testing.T) {
	var ticks atomic.Int32
	s, err := NewScheduler(func(context.Context) error {
		ticks.Add(1)
		return nil
	}, SchedulerConfig{Interval: time.Minute, Clock: clock.NewMock()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	require.Zero(t, ticks.Load())
}
