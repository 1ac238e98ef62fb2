// Package scheduler 定时执行预订维护任务
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dumeirei/room-rental-backend/internal/common/config"
	"github.com/dumeirei/room-rental-backend/internal/common/logger"
	"github.com/dumeirei/room-rental-backend/internal/common/metrics"
	"github.com/dumeirei/room-rental-backend/internal/common/tracing"
	"github.com/dumeirei/room-rental-backend/internal/service/booking"
)

// 任务名称，同时作为指标标签
const (
	TaskExpireUnverified = "expire_unverified_bookings"
	TaskProcessRenewals  = "process_renewals"
	TaskAdvanceStatuses  = "advance_booking_statuses"
)

const defaultTaskTimeout = 5 * time.Minute

// Sweeper 定时任务依赖的预订维护操作
type Sweeper interface {
	ExpireUnverifiedBookings(ctx context.Context) (int, error)
	ProcessRenewals(ctx context.Context) (*booking.RenewalReport, error)
	AdvanceStatuses(ctx context.Context) (int, error)
}

// Task 一个定时任务
type Task struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (int, error)
}

// Scheduler 定时任务调度器
type Scheduler struct {
	cron    *cron.Cron
	tasks   []Task
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New 创建调度器并注册全部任务，cron 表达式非法时返回错误
func New(cfg config.SchedulerConfig, sweeper Sweeper, m *metrics.Metrics, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(logger.Module("scheduler"))
	timeout := time.Duration(cfg.TaskTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
		timeout: timeout,
		metrics: m,
		logger:  log,
	}

	tasks := []Task{
		{Name: TaskExpireUnverified, Spec: cfg.ExpireUnverifiedBookings, Run: sweeper.ExpireUnverifiedBookings},
		{Name: TaskProcessRenewals, Spec: cfg.ProcessRenewals, Run: func(ctx context.Context) (int, error) {
			report, err := sweeper.ProcessRenewals(ctx)
			if err != nil {
				return 0, err
			}
			return report.Renewed, nil
		}},
		{Name: TaskAdvanceStatuses, Spec: cfg.AdvanceBookingStatuses, Run: sweeper.AdvanceStatuses},
	}
	for _, task := range tasks {
		if err := s.Register(task); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register 注册任务，表达式为空时跳过
func (s *Scheduler) Register(task Task) error {
	if task.Spec == "" {
		s.logger.Warn("定时任务未配置，跳过", logger.Task(task.Name))
		return nil
	}
	if _, err := s.cron.AddFunc(task.Spec, func() { s.RunTask(context.Background(), task) }); err != nil {
		return fmt.Errorf("register task %s: %w", task.Name, err)
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Tasks 返回已注册的任务
func (s *Scheduler) Tasks() []Task {
	return s.tasks
}

// RunTask 执行一次任务：带超时与 panic 恢复，记录耗时与处理条数
func (s *Scheduler) RunTask(ctx context.Context, task Task) (affected int, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := tracing.Start(ctx, "scheduler.run", tracing.WithTask(task.Name))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panic: %v", task.Name, r)
			s.logger.Error("定时任务崩溃", logger.Task(task.Name), logger.Any("panic", r), zap.Stack("stack"))
		}
		tracing.End(span, err)
		elapsed := time.Since(start)
		s.metrics.ObserveSweep(task.Name, elapsed, affected)
		if err != nil {
			s.logger.Error("定时任务失败",
				logger.Task(task.Name),
				logger.Duration("elapsed", elapsed),
				logger.Err(err),
			)
			return
		}
		s.logger.Info("定时任务完成",
			logger.Task(task.Name),
			logger.Int("affected", affected),
			logger.Duration("elapsed", elapsed),
		)
	}()

	return task.Run(ctx)
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.logger.Info("启动定时任务", logger.Int("tasks", len(s.tasks)))
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("定时任务已停止")
	case <-ctx.Done():
		s.logger.Warn("等待定时任务结束超时")
	}
}
