// Package jobs 定时任务调度
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler 周期性任务调度器
type Scheduler struct {
	mu            sync.Mutex
	running       bool
	interval      time.Duration
	startupDelay  time.Duration
	job           func(context.Context) error
	name          string
	lastExecution time.Time
	ticker        *time.Ticker
	cancel        context.CancelFunc
	log           *zap.SugaredLogger
}

// NewScheduler 创建调度器；任务在启动后短暂延迟先跑一次，之后按interval重复
func NewScheduler(name string, interval time.Duration, job func(context.Context) error, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		name:         name,
		interval:     interval,
		startupDelay: 5 * time.Second,
		job:          job,
		log:          log,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler %s is already running", s.name)
	}
	if s.interval <= 0 {
		return fmt.Errorf("scheduler %s has invalid interval %s", s.name, s.interval)
	}

	// the context is per-run so a stopped scheduler can be started again
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.ticker = time.NewTicker(s.interval)
	go s.run(ctx, s.ticker)

	s.log.Infow("scheduler started", "name", s.name, "interval", s.interval.String())
	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.cancel()
	s.log.Infow("scheduler stopped", "name", s.name)
}

// IsRunning 是否运行中
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastExecution 上次执行时间
func (s *Scheduler) LastExecution() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExecution
}

func (s *Scheduler) run(ctx context.Context, ticker *time.Ticker) {
	startup := time.NewTimer(s.startupDelay)
	defer startup.Stop()

	for {
		select {
		case <-startup.C:
			s.execute(ctx)
		case <-ticker.C:
			s.execute(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	s.mu.Lock()
	s.lastExecution = time.Now()
	s.mu.Unlock()

	if err := s.job(ctx); err != nil {
		s.log.Warnw("scheduled job failed", "name", s.name, "error", err)
	}
}
