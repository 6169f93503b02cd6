package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
	"github.com/smysle/sakura-redenvelope-go/internal/database/repository"
	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

const defaultClaimAttempts = 8

// ClaimProcessor 抢红包，依赖存储层的版本号比较交换，不持有进程内锁
type ClaimProcessor struct {
	deps      Deps
	attempts  int
	baseDelay time.Duration
}

// NewClaimProcessor 创建领取处理器
func NewClaimProcessor(deps Deps) *ClaimProcessor {
	attempts := deps.Config.ClaimMaxAttempts
	if attempts <= 0 {
		attempts = defaultClaimAttempts
	}
	return &ClaimProcessor{
		deps:      deps,
		attempts:  attempts,
		baseDelay: 5 * time.Millisecond,
	}
}

// ClaimRequest 领取请求
type ClaimRequest struct {
	EnvelopeID string
	UserID     string
	UserName   string
}

// ClaimResult 领取结果
type ClaimResult struct {
	Claim      *models.RedEnvelopeClaim
	Envelope   *models.RedEnvelope // 提交后的红包
	IsFinished bool                // 本次领取后红包已抢完
	IsLucky    bool                // 手气最佳（拼手气红包抢完时判断）
}

// Claim 领取红包，版本冲突时重新读取并重试
func (p *ClaimProcessor) Claim(ctx context.Context, req *ClaimRequest) (*ClaimResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, validationError("缺少用户")
	}

	for attempt := 1; attempt <= p.attempts; attempt++ {
		result, err := p.attempt(ctx, req)
		if !errors.Is(err, repository.ErrConcurrencyConflict) {
			return result, err
		}

		logger.Debug().
			Str("uuid", req.EnvelopeID).
			Str("user", req.UserID).
			Int("attempt", attempt).
			Msg("红包版本冲突，重试")

		if attempt < p.attempts {
			if err := p.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	logger.Warn().
		Str("uuid", req.EnvelopeID).
		Str("user", req.UserID).
		Int("attempts", p.attempts).
		Msg("红包领取竞争过于激烈")
	return nil, ErrClaimContention
}

// attempt 一次完整的领取尝试
func (p *ClaimProcessor) attempt(ctx context.Context, req *ClaimRequest) (*ClaimResult, error) {
	envelope, err := loadEnvelope(ctx, p.deps.Store, req.EnvelopeID)
	if err != nil {
		return nil, err
	}

	if p.deps.Config.ClaimRequiresMembership() {
		ok, err := p.deps.Members.IsMember(ctx, envelope.ConversationID, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("校验会话成员失败: %w", err)
		}
		if !ok {
			return nil, ErrForbidden
		}
	}

	switch envelope.Status {
	case models.StatusFullyClaimed:
		return nil, ErrAlreadyClaimedPool
	case models.StatusExpired:
		return nil, ErrExpiredPool
	}

	now := p.deps.now()
	if envelope.IsDue(now) {
		if _, err := p.deps.Store.ExpireEnvelope(ctx, envelope.UUID, now); err != nil {
			logger.Warn().Err(err).Str("uuid", envelope.UUID).Msg("设置红包过期失败")
		}
		return nil, ErrExpiredPool
	}

	if _, err := p.deps.Store.GetClaim(ctx, envelope.UUID, req.UserID); err == nil {
		return nil, ErrDuplicateClaim
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("查询领取记录失败: %w", err)
	}

	if envelope.RemainingRecipients() <= 0 {
		return nil, ErrAlreadyClaimedPool
	}

	share := p.deps.Splitter.NextShare(ShareInputFor(envelope))
	claim := &models.RedEnvelopeClaim{
		UUID:         uuid.New().String(),
		EnvelopeID:   envelope.ID,
		EnvelopeUUID: envelope.UUID,
		UserID:       req.UserID,
		UserName:     req.UserName,
		Amount:       share,
		ClaimedAt:    now,
	}

	updated, err := p.deps.Store.CommitClaim(ctx, repository.ClaimCommit{
		Snapshot: envelope,
		Share:    share,
		Claim:    claim,
		Now:      now,
	})
	switch {
	case errors.Is(err, repository.ErrConcurrencyConflict):
		return nil, err
	case errors.Is(err, repository.ErrDuplicateClaim):
		return nil, ErrDuplicateClaim
	case err != nil:
		return nil, fmt.Errorf("提交领取失败: %w", err)
	}

	result := &ClaimResult{
		Claim:      claim,
		Envelope:   updated,
		IsFinished: updated.Status == models.StatusFullyClaimed,
	}
	if result.IsFinished && updated.Strategy == models.StrategyRandom {
		claims, err := p.deps.Store.ListClaims(ctx, updated.UUID)
		if err != nil {
			logger.Warn().Err(err).Str("uuid", updated.UUID).Msg("获取领取记录失败")
		} else if lucky := luckiest(claims); lucky != nil && lucky.UserID == req.UserID {
			result.IsLucky = true
		}
	}

	logger.Info().
		Str("uuid", updated.UUID).
		Str("user", req.UserID).
		Str("amount", share.String()).
		Int("claimed", updated.ClaimedCount).
		Int("total", updated.RecipientCount).
		Bool("finished", result.IsFinished).
		Msg("红包领取成功")

	return result, nil
}

// backoff 线性退避加随机抖动
func (p *ClaimProcessor) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt)*p.baseDelay + time.Duration(rand.Int63n(int64(p.baseDelay)))
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
