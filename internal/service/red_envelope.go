// Package service 红包服务
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smysle/sakura-redenvelope-go/internal/config"
	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
	"github.com/smysle/sakura-redenvelope-go/internal/database/repository"
	"github.com/smysle/sakura-redenvelope-go/internal/feed"
	"github.com/smysle/sakura-redenvelope-go/internal/membership"
	"github.com/smysle/sakura-redenvelope-go/pkg/currency"
	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

const maxMessageRunes = 500

var (
	// decimal(20,8) 整数部分最多 12 位
	maxTotalAmount = decimal.New(1, 12)
	// 按最小单位计数时保持在 int64 安全范围内
	maxTotalUnits = decimal.New(1, 15)
)

// Deps 红包服务依赖
type Deps struct {
	Store      repository.Store
	Members    membership.Checker
	Announcer  feed.Announcer // 可为空
	Splitter   *Splitter
	Currencies *currency.Registry
	Config     config.RedEnvelopeConfig
	Clock      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// EnvelopeService 红包创建与查询
type EnvelopeService struct {
	deps Deps
}

// NewEnvelopeService 创建红包服务
func NewEnvelopeService(deps Deps) *EnvelopeService {
	return &EnvelopeService{deps: deps}
}

// CreateEnvelopeRequest 创建红包请求
type CreateEnvelopeRequest struct {
	ConversationID string
	SenderID       string
	SenderName     string
	TotalAmount    decimal.Decimal
	Currency       string // 为空时使用默认币种
	RecipientCount int
	Strategy       string // random, equal
	Message        string
}

// CreateEnvelope 创建红包
//
// 校验顺序固定：功能开关、参数、发送者成员身份。红包落库后再发公告，
// 公告失败只记录日志，红包照常返回。
func (s *EnvelopeService) CreateEnvelope(ctx context.Context, req *CreateEnvelopeRequest) (*models.RedEnvelope, error) {
	cfg := s.deps.Config
	if !cfg.Enabled {
		return nil, ErrRedEnvelopeDisabled
	}

	code := req.Currency
	if strings.TrimSpace(code) == "" {
		code = cfg.DefaultCurrency
	}
	code = currency.Normalize(code)

	strategy, err := s.validateCreate(req, code)
	if err != nil {
		return nil, err
	}

	ok, err := s.deps.Members.IsMember(ctx, req.ConversationID, req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("校验会话成员失败: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = cfg.DefaultMessage
	}

	now := s.deps.now()
	envelope := &models.RedEnvelope{
		UUID:            uuid.New().String(),
		ConversationID:  req.ConversationID,
		SenderID:        req.SenderID,
		SenderName:      req.SenderName,
		TotalAmount:     req.TotalAmount,
		Currency:        code,
		RecipientCount:  req.RecipientCount,
		Strategy:        strategy,
		RemainingAmount: req.TotalAmount,
		ClaimedCount:    0,
		Status:          models.StatusActive,
		Message:         message,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(cfg.ExpireAfter()),
	}

	if err := s.deps.Store.Create(ctx, envelope); err != nil {
		return nil, fmt.Errorf("创建红包失败: %w", err)
	}

	logger.Info().
		Str("uuid", envelope.UUID).
		Str("conversation", envelope.ConversationID).
		Str("sender", envelope.SenderID).
		Str("amount", envelope.TotalAmount.String()).
		Str("currency", envelope.Currency).
		Int("count", envelope.RecipientCount).
		Str("strategy", string(envelope.Strategy)).
		Msg("红包创建成功")

	s.announce(ctx, envelope)
	return envelope, nil
}

// validateCreate 参数校验，返回解析后的分配方式
func (s *EnvelopeService) validateCreate(req *CreateEnvelopeRequest, code string) (models.Strategy, error) {
	cfg := s.deps.Config

	if !req.TotalAmount.IsPositive() {
		return "", validationError("红包金额必须大于 0")
	}
	if req.RecipientCount < 1 {
		return "", validationError("红包个数至少为 1")
	}
	if cfg.MaxRecipients > 0 && req.RecipientCount > cfg.MaxRecipients {
		return "", validationError("红包个数不能超过 %d", cfg.MaxRecipients)
	}
	if err := s.deps.Currencies.Validate(code, req.TotalAmount); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	unit := s.deps.Currencies.MinUnit(code)
	if req.TotalAmount.LessThan(unit.Mul(decimal.NewFromInt(int64(req.RecipientCount)))) {
		return "", validationError("每个红包至少 %s %s", s.deps.Currencies.Format(code, unit), code)
	}
	if req.TotalAmount.GreaterThanOrEqual(maxTotalAmount) || req.TotalAmount.Div(unit).GreaterThan(maxTotalUnits) {
		return "", validationError("红包金额过大")
	}

	strategy, ok := models.ParseStrategy(strings.ToLower(strings.TrimSpace(req.Strategy)))
	if !ok {
		return "", validationError("未知的红包类型 %q", req.Strategy)
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		return "", validationError("祝福语不能超过 %d 个字", maxMessageRunes)
	}
	return strategy, nil
}

// Announcement 由红包生成公告内容
func (s *EnvelopeService) Announcement(envelope *models.RedEnvelope) feed.Announcement {
	a := feed.Announcement{
		EnvelopeID:     envelope.UUID,
		ConversationID: envelope.ConversationID,
		SenderID:       envelope.SenderID,
		SenderName:     envelope.SenderName,
		TotalAmount:    s.deps.Currencies.Format(envelope.Currency, envelope.TotalAmount),
		Currency:       envelope.Currency,
		RecipientCount: envelope.RecipientCount,
		Strategy:       string(envelope.Strategy),
		Message:        envelope.Message,
		CreatedAt:      envelope.CreatedAt,
		ExpiresAt:      envelope.ExpiresAt,
	}
	if envelope.Strategy == models.StrategyEqual && envelope.RecipientCount > 0 {
		shares := s.deps.Splitter.Partition(models.StrategyEqual, envelope.Currency, envelope.TotalAmount, envelope.RecipientCount)
		first, last := shares[0], shares[len(shares)-1]
		a.EqualShare = s.deps.Currencies.Format(envelope.Currency, first)
		if !last.Equal(first) {
			a.LastShare = s.deps.Currencies.Format(envelope.Currency, last)
		}
	}
	return a
}

// announce 发送公告并回写引用，失败只记录日志
func (s *EnvelopeService) announce(ctx context.Context, envelope *models.RedEnvelope) {
	if s.deps.Announcer == nil {
		return
	}

	ref, err := s.deps.Announcer.Announce(ctx, s.Announcement(envelope))
	if err != nil {
		logger.Warn().Err(err).Str("uuid", envelope.UUID).Msg("红包公告发送失败")
		return
	}
	if err := s.deps.Store.AttachAnnouncement(ctx, envelope.UUID, ref); err != nil {
		logger.Warn().Err(err).Str("uuid", envelope.UUID).Str("ref", ref).Msg("保存公告引用失败")
		return
	}
	envelope.AnnouncementRef = ref
}

// EnvelopeDetails 红包详情
type EnvelopeDetails struct {
	Envelope          *models.RedEnvelope
	Claims            []models.RedEnvelopeClaim
	CallerHasClaimed  bool
	CallerClaimAmount *decimal.Decimal
	Claimable         bool
	LuckyClaim        *models.RedEnvelopeClaim // 拼手气红包抢完后才有
}

// GetEnvelopeDetails 查询红包详情，只读
func (s *EnvelopeService) GetEnvelopeDetails(ctx context.Context, id, callerID string) (*EnvelopeDetails, error) {
	envelope, err := loadEnvelope(ctx, s.deps.Store, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.deps.Members.IsMember(ctx, envelope.ConversationID, callerID)
	if err != nil {
		return nil, fmt.Errorf("校验会话成员失败: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	claims, err := s.deps.Store.ListClaims(ctx, envelope.UUID)
	if err != nil {
		return nil, fmt.Errorf("获取领取记录失败: %w", err)
	}

	details := &EnvelopeDetails{
		Envelope:  envelope,
		Claims:    claims,
		Claimable: envelope.Claimable(s.deps.now()),
	}
	for i := range claims {
		if claims[i].UserID == callerID {
			amount := claims[i].Amount
			details.CallerHasClaimed = true
			details.CallerClaimAmount = &amount
			break
		}
	}
	if envelope.Status == models.StatusFullyClaimed && envelope.Strategy == models.StrategyRandom {
		details.LuckyClaim = luckiest(claims)
	}
	return details, nil
}

// loadEnvelope 读取红包并转换存储层错误
func loadEnvelope(ctx context.Context, store repository.Store, id string) (*models.RedEnvelope, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}
	envelope, err := store.GetByUUID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("获取红包失败: %w", err)
	}
	return envelope, nil
}

// luckiest 手气最佳，金额相同时先领的优先
func luckiest(claims []models.RedEnvelopeClaim) *models.RedEnvelopeClaim {
	var best *models.RedEnvelopeClaim
	for i := range claims {
		if best == nil || claims[i].Amount.GreaterThan(best.Amount) {
			best = &claims[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}
