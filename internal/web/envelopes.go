package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/smysle/sakura-redenvelope-go/internal/database/models"
	"github.com/smysle/sakura-redenvelope-go/internal/service"
	pkglogger "github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// CreateEnvelopeBody 发红包请求体，金额可以是字符串或数字
type CreateEnvelopeBody struct {
	ConversationID string          `json:"conversation_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	RecipientCount int             `json:"recipient_count"`
	Strategy       string          `json:"strategy"`
	Message        string          `json:"message"`
}

// EnvelopeResponse 红包
type EnvelopeResponse struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	SenderName      string    `json:"sender_name,omitempty"`
	TotalAmount     string    `json:"total_amount"`
	RemainingAmount string    `json:"remaining_amount"`
	Currency        string    `json:"currency"`
	RecipientCount  int       `json:"recipient_count"`
	ClaimedCount    int       `json:"claimed_count"`
	Strategy        string    `json:"strategy"`
	Status          string    `json:"status"`
	Closed          bool      `json:"closed"` // 已抢完或已过期
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ClaimResponse 领取记录
type ClaimResponse struct {
	ID         string    `json:"id"`
	EnvelopeID string    `json:"envelope_id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name,omitempty"`
	Amount     string    `json:"amount"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// ClaimResultResponse 领取结果
type ClaimResultResponse struct {
	Claim      ClaimResponse    `json:"claim"`
	Envelope   EnvelopeResponse `json:"envelope"`
	IsFinished bool             `json:"is_finished"`
	IsLucky    bool             `json:"is_lucky"`
}

// DetailsResponse 红包详情
type DetailsResponse struct {
	Envelope          EnvelopeResponse `json:"envelope"`
	Claims            []ClaimResponse  `json:"claims"`
	CallerHasClaimed  bool             `json:"caller_has_claimed"`
	CallerClaimAmount *string          `json:"caller_claim_amount"`
	Claimable         bool             `json:"claimable"`
	LuckyClaim        *ClaimResponse   `json:"lucky_claim,omitempty"`
}

func (s *Server) envelopeResponse(e *models.RedEnvelope) EnvelopeResponse {
	return EnvelopeResponse{
		ID:              e.UUID,
		ConversationID:  e.ConversationID,
		SenderID:        e.SenderID,
		SenderName:      e.SenderName,
		TotalAmount:     s.svc.Currencies.Format(e.Currency, e.TotalAmount),
		RemainingAmount: s.svc.Currencies.Format(e.Currency, e.RemainingAmount),
		Currency:        e.Currency,
		RecipientCount:  e.RecipientCount,
		ClaimedCount:    e.ClaimedCount,
		Strategy:        string(e.Strategy),
		Status:          string(e.Status),
		Closed:          e.Status.IsTerminal(),
		Message:         e.Message,
		CreatedAt:       e.CreatedAt,
		ExpiresAt:       e.ExpiresAt,
	}
}

func (s *Server) claimResponse(code string, c *models.RedEnvelopeClaim) ClaimResponse {
	return ClaimResponse{
		ID:         c.UUID,
		EnvelopeID: c.EnvelopeUUID,
		UserID:     c.UserID,
		UserName:   c.UserName,
		Amount:     s.svc.Currencies.Format(code, c.Amount),
		ClaimedAt:  c.ClaimedAt,
	}
}

// createEnvelope POST /api/v1/envelopes
func (s *Server) createEnvelope(c *fiber.Ctx) error {
	var body CreateEnvelopeBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "请求体格式错误")
	}

	envelope, err := s.svc.Envelopes.CreateEnvelope(c.UserContext(), &service.CreateEnvelopeRequest{
		ConversationID: body.ConversationID,
		SenderID:       callerID(c),
		SenderName:     callerName(c),
		TotalAmount:    body.TotalAmount,
		Currency:       body.Currency,
		RecipientCount: body.RecipientCount,
		Strategy:       body.Strategy,
		Message:        body.Message,
	})
	if err != nil {
		return serviceError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.envelopeResponse(envelope))
}

// claimEnvelope POST /api/v1/envelopes/:id/claim
func (s *Server) claimEnvelope(c *fiber.Ctx) error {
	result, err := s.svc.Claims.Claim(c.UserContext(), &service.ClaimRequest{
		EnvelopeID: c.Params("id"),
		UserID:     callerID(c),
		UserName:   callerName(c),
	})
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(ClaimResultResponse{
		Claim:      s.claimResponse(result.Envelope.Currency, result.Claim),
		Envelope:   s.envelopeResponse(result.Envelope),
		IsFinished: result.IsFinished,
		IsLucky:    result.IsLucky,
	})
}

// getEnvelope GET /api/v1/envelopes/:id
func (s *Server) getEnvelope(c *fiber.Ctx) error {
	details, err := s.svc.Envelopes.GetEnvelopeDetails(c.UserContext(), c.Params("id"), callerID(c))
	if err != nil {
		return serviceError(err)
	}

	code := details.Envelope.Currency
	resp := DetailsResponse{
		Envelope:         s.envelopeResponse(details.Envelope),
		Claims:           make([]ClaimResponse, 0, len(details.Claims)),
		CallerHasClaimed: details.CallerHasClaimed,
		Claimable:        details.Claimable,
	}
	for i := range details.Claims {
		resp.Claims = append(resp.Claims, s.claimResponse(code, &details.Claims[i]))
	}
	if details.CallerClaimAmount != nil {
		amount := s.svc.Currencies.Format(code, *details.CallerClaimAmount)
		resp.CallerClaimAmount = &amount
	}
	if details.LuckyClaim != nil {
		lucky := s.claimResponse(code, details.LuckyClaim)
		resp.LuckyClaim = &lucky
	}
	return c.JSON(resp)
}

// serviceError 业务错误转换为 HTTP 状态码
func serviceError(err error) error {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrExpiredPool):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAlreadyClaimedPool), errors.Is(err, service.ErrDuplicateClaim):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRedEnvelopeDisabled):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}

	pkglogger.Error().Err(err).Msg("【API服务】请求处理失败")
	return fiber.NewError(fiber.StatusInternalServerError, "服务器内部错误")
}
