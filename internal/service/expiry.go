// Package service 红包到期回收
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/smysle/sakura-redenvelope-go/internal/database/repository"
	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// ExpiryReaper 定时把到期的进行中红包置为已过期，不改动余额和领取记录
type ExpiryReaper struct {
	store repository.Store
	clock func() time.Time
}

// SweepResult 一次扫描的结果
type SweepResult struct {
	Expired int64         // 本次置为过期的红包数
	At      time.Time     // 扫描基准时间
	Elapsed time.Duration // 耗时
}

// NewExpiryReaper 创建到期回收
func NewExpiryReaper(store repository.Store, clock func() time.Time) *ExpiryReaper {
	if clock == nil {
		clock = time.Now
	}
	return &ExpiryReaper{store: store, clock: clock}
}

// Sweep 扫描一次，可重复执行
func (r *ExpiryReaper) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	now := r.clock()

	n, err := r.store.ExpireDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("过期红包扫描失败: %w", err)
	}

	result := &SweepResult{Expired: n, At: now, Elapsed: time.Since(start)}
	if n > 0 {
		logger.Info().
			Int64("expired", n).
			Dur("elapsed", result.Elapsed).
			Msg("过期红包扫描完成")
	}
	return result, nil
}
