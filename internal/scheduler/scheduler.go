package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"SegmentSync/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CycleRunner 执行一轮同步
type CycleRunner interface {
	RunCycle(ctx context.Context, opts service.RunOptions) (*service.SyncSummary, error)
}

// Scheduler 按 cron 表达式定时触发同步
type Scheduler struct {
	cron   *cron.Cron
	runner CycleRunner
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New spec 为空时不注册定时任务，仍可用 RunNow 手动触发
func New(spec string, runner CycleRunner, logger *logrus.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if spec == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("解析定时表达式失败(%s): %w", spec, err)
	}
	logger.Infof("定时同步已启用: %s", spec)
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// RunNow 在后台立即执行一轮（用于 run_on_start）
func (s *Scheduler) RunNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

// Stop 停止调度，取消进行中的同步并等待其退出
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
}

func (s *Scheduler) tick() {
	s.wg.Add(1)
	defer s.wg.Done()
	s.run()
}

func (s *Scheduler) run() {
	summary, err := s.runner.RunCycle(s.ctx, service.RunOptions{})
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		s.logger.Info("上一轮同步尚未结束，跳过本次定时触发")
	case err != nil:
		s.logger.WithError(err).Error("定时同步失败")
	default:
		s.logger.WithFields(logrus.Fields{"cycle_id": summary.CycleID, "synced": summary.Synced, "failed": summary.Failed}).Info("定时同步完成")
	}
}

// cronLogger 把 cron 内部日志转到 logrus
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(toFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(toFields(keysAndValues)).Error(msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
