// Package scheduler 定时任务调度
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/smysle/sakura-redenvelope-go/internal/config"
	"github.com/smysle/sakura-redenvelope-go/internal/service"
	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

const expirySweepTag = "expiry_sweep"

// Sweeper 过期红包扫描
type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepResult, error)
}

// Scheduler 定时任务调度器
type Scheduler struct {
	cron    *gocron.Scheduler
	cfg     *config.Config
	sweeper Sweeper
	timeout time.Duration
}

// New 创建调度器
func New(cfg *config.Config, sweeper Sweeper) *Scheduler {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		loc = time.Local
	}
	s := gocron.NewScheduler(loc)
	s.SetMaxConcurrentJobs(5, gocron.RescheduleMode)

	return &Scheduler{
		cron:    s,
		cfg:     cfg,
		sweeper: sweeper,
		timeout: 30 * time.Second,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	logger.Info().Msg("启动定时任务调度器")

	if err := s.registerJobs(); err != nil {
		return err
	}

	// 异步启动
	s.cron.StartAsync()
	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	logger.Info().Msg("停止定时任务调度器")
	s.cron.Stop()
}

// registerJobs 注册所有定时任务
func (s *Scheduler) registerJobs() error {
	cfg := s.cfg.Scheduler

	// 过期红包扫描，上一次未结束时跳过
	if cfg.ExpirySweep && s.sweeper != nil {
		interval := cfg.SweepInterval()
		if _, err := s.cron.Every(interval).SingletonMode().Tag(expirySweepTag).Do(s.sweepExpired); err != nil {
			return err
		}
		logger.Info().Dur("interval", interval).Msg("已注册: 过期红包扫描任务")
	}
	return nil
}

// RunNow 立即执行一次指定任务
func (s *Scheduler) RunNow(tag string) error {
	return s.cron.RunByTag(tag)
}

// sweepExpired 过期红包扫描
func (s *Scheduler) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.sweeper.Sweep(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("过期红包扫描失败")
		return
	}
	logger.Debug().
		Int64("expired", result.Expired).
		Dur("elapsed", result.Elapsed).
		Msg("执行定时任务: 过期红包扫描")
}
