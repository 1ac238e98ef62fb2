package scheduler

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dumeirei/room-rental-backend/internal/common/config"
	"github.com/dumeirei/room-rental-backend/internal/common/metrics"
	"github.com/dumeirei/room-rental-backend/internal/service/booking"
)

type fakeSweeper struct {
	expired  int
	renewals *booking.RenewalReport
	advanced int
	err      error
	calls    []string
}

func (f *fakeSweeper) ExpireUnverifiedBookings(ctx context.Context) (int, error) {
	f.calls = append(f.calls, TaskExpireUnverified)
	return f.expired, f.err
}

func (f *fakeSweeper) ProcessRenewals(ctx context.Context) (*booking.RenewalReport, error) {
	f.calls = append(f.calls, TaskProcessRenewals)
	if f.err != nil {
		return nil, f.err
	}
	return f.renewals, nil
}

func (f *fakeSweeper) AdvanceStatuses(ctx context.Context) (int, error) {
	f.calls = append(f.calls, TaskAdvanceStatuses)
	return f.advanced, f.err
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:                  true,
		ExpireUnverifiedBookings: "0 5 * * * *",
		ProcessRenewals:          "0 15 * * * *",
		AdvanceBookingStatuses:   "0 25 * * * *",
		TaskTimeout:              1,
	}
}

func findTask(t *testing.T, s *Scheduler, name string) Task {
	t.Helper()
	for _, task := range s.Tasks() {
		if task.Name == name {
			return task
		}
	}
	t.Fatalf("task %s not registered", name)
	return Task{}
}

// ==================== New 测试 ====================

func TestNew(t *testing.T) {
	t.Run("注册全部任务", func(t *testing.T) {
		s, err := New(testConfig(), &fakeSweeper{}, nil, nil)
		require.NoError(t, err)
		assert.Len(t, s.Tasks(), 3)
		assert.Len(t, s.cron.Entries(), 3)
		assert.Equal(t, time.Second, s.timeout)
	})

	t.Run("空表达式跳过", func(t *testing.T) {
		cfg := testConfig()
		cfg.ProcessRenewals = ""
		s, err := New(cfg, &fakeSweeper{}, nil, nil)
		require.NoError(t, err)
		assert.Len(t, s.Tasks(), 2)
	})

	t.Run("非法表达式", func(t *testing.T) {
		cfg := testConfig()
		cfg.AdvanceBookingStatuses = "every hour"
		_, err := New(cfg, &fakeSweeper{}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("默认超时", func(t *testing.T) {
		cfg := testConfig()
		cfg.TaskTimeout = 0
		s, err := New(cfg, &fakeSweeper{}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, defaultTaskTimeout, s.timeout)
	})
}

// ==================== RunTask 测试 ====================

func TestRunTask(t *testing.T) {
	sweeper := &fakeSweeper{expired: 2, renewals: &booking.RenewalReport{Processed: 3, Renewed: 2, Failed: 1}, advanced: 4}
	m := metrics.New("test_scheduler")
	s, err := New(testConfig(), sweeper, m, nil)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := s.RunTask(ctx, findTask(t, s, TaskExpireUnverified))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.RunTask(ctx, findTask(t, s, TaskProcessRenewals))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.RunTask(ctx, findTask(t, s, TaskAdvanceStatuses))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, []string{TaskExpireUnverified, TaskProcessRenewals, TaskAdvanceStatuses}, sweeper.calls)

	count, err := testutil.GatherAndCount(m.Registry(), "test_scheduler_sweep_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunTask_LogFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s, err := New(testConfig(), &fakeSweeper{expired: 1}, nil, zap.New(core))
	require.NoError(t, err)

	_, err = s.RunTask(context.Background(), findTask(t, s, TaskExpireUnverified))
	require.NoError(t, err)

	entries := logs.FilterMessage("定时任务完成").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, TaskExpireUnverified, fields["task"])
	assert.Equal(t, "scheduler", fields["module"])
	assert.Equal(t, int64(1), fields["affected"])
}

func TestRunTask_Error(t *testing.T) {
	sweeper := &fakeSweeper{err: stderrors.New("db down")}
	s, err := New(testConfig(), sweeper, nil, nil)
	require.NoError(t, err)

	_, err = s.RunTask(context.Background(), findTask(t, s, TaskProcessRenewals))
	assert.EqualError(t, err, "db down")
}

func TestRunTask_RecoversPanic(t *testing.T) {
	s, err := New(testConfig(), &fakeSweeper{}, nil, nil)
	require.NoError(t, err)

	task := Task{Name: "boom", Spec: "@every 1h", Run: func(ctx context.Context) (int, error) {
		panic("unexpected")
	}}

	var n int
	assert.NotPanics(t, func() {
		n, err = s.RunTask(context.Background(), task)
	})
	assert.Zero(t, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected")
}

func TestRunTask_Timeout(t *testing.T) {
	s, err := New(testConfig(), &fakeSweeper{}, nil, nil)
	require.NoError(t, err)
	s.timeout = 20 * time.Millisecond

	task := Task{Name: "slow", Run: func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}

	_, err = s.RunTask(context.Background(), task)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	s, err := New(testConfig(), &fakeSweeper{}, nil, nil)
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { s.Stop(ctx) })
}
