// Package repository 红包数据仓库
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
)

var (
	ErrNotFound            = errors.New("记录不存在")
	ErrDuplicateClaim      = errors.New("该用户已领取过此红包")
	ErrConcurrencyConflict = errors.New("红包状态已被其他请求修改")
	ErrInvalidShare        = errors.New("领取金额不合法")
)

// Store 红包持久化边界，余额只能通过 CommitClaim 修改
type Store interface {
	Create(ctx context.Context, envelope *models.RedEnvelope) error
	GetByUUID(ctx context.Context, uuid string) (*models.RedEnvelope, error)
	// AttachAnnouncement 只写一次公告引用，不影响生命周期字段
	AttachAnnouncement(ctx context.Context, uuid, ref string) error
	// CommitClaim 以 Snapshot.Version 做比较交换：扣减余额、累加人数、必要时置为已抢完，并插入领取记录
	CommitClaim(ctx context.Context, commit ClaimCommit) (*models.RedEnvelope, error)
	// ExpireEnvelope 到期则置为已过期，返回本次是否发生迁移
	ExpireEnvelope(ctx context.Context, uuid string, now time.Time) (bool, error)
	// ExpireDue 批量将到期的进行中红包置为已过期
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	GetClaim(ctx context.Context, envelopeUUID, userID string) (*models.RedEnvelopeClaim, error)
	ListClaims(ctx context.Context, envelopeUUID string) ([]models.RedEnvelopeClaim, error)
}

// ClaimCommit 一次领取的提交参数
type ClaimCommit struct {
	Snapshot *models.RedEnvelope // 计算 Share 时读到的红包
	Share    decimal.Decimal
	Claim    *models.RedEnvelopeClaim
	Now      time.Time
}

// nextState 根据快照计算提交后的余额、人数和状态
func (c ClaimCommit) nextState() (decimal.Decimal, int, models.Status, error) {
	s := c.Snapshot
	if s == nil || c.Claim == nil {
		return decimal.Zero, 0, "", fmt.Errorf("%w: 缺少快照或领取记录", ErrInvalidShare)
	}
	if !c.Share.IsPositive() || c.Share.GreaterThan(s.RemainingAmount) {
		return decimal.Zero, 0, "", fmt.Errorf("%w: %s / 剩余 %s", ErrInvalidShare, c.Share, s.RemainingAmount)
	}

	remaining := s.RemainingAmount.Sub(c.Share)
	claimed := s.ClaimedCount + 1
	if claimed > s.RecipientCount {
		return decimal.Zero, 0, "", ErrConcurrencyConflict
	}

	status := models.StatusActive
	if claimed == s.RecipientCount {
		// 最后一人必须领走全部余额
		if !remaining.IsZero() {
			return decimal.Zero, 0, "", fmt.Errorf("%w: 最后一个红包需领取全部余额 %s", ErrInvalidShare, s.RemainingAmount)
		}
		status = models.StatusFullyClaimed
	}
	return remaining, claimed, status, nil
}

var (
	_ Store = (*RedEnvelopeRepository)(nil)
	_ Store = (*MemoryRedEnvelopeRepository)(nil)
)
