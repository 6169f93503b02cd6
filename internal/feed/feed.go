// Package feed 红包公告投递
package feed

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// Announcement 红包创建公告，只追加，不会被修改
type Announcement struct {
	EnvelopeID     string    `json:"envelope_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	TotalAmount    string    `json:"total_amount"`
	Currency       string    `json:"currency"`
	RecipientCount int       `json:"recipient_count"`
	Strategy       string    `json:"strategy"`
	EqualShare     string    `json:"equal_share,omitempty"` // 均分红包每份金额
	LastShare      string    `json:"last_share,omitempty"`  // 均分有余数时最后一人的金额
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Announcer 会话消息流，返回可回写到红包上的引用
type Announcer interface {
	Announce(ctx context.Context, a Announcement) (string, error)
}

// LogAnnouncer 只写日志，未配置消息流时使用
type LogAnnouncer struct{}

// Announce 实现 Announcer
func (LogAnnouncer) Announce(_ context.Context, a Announcement) (string, error) {
	ref := "log:" + uuid.New().String()
	logger.Info().
		Str("envelope", a.EnvelopeID).
		Str("conversation", a.ConversationID).
		Str("amount", a.TotalAmount).
		Str("currency", a.Currency).
		Int("count", a.RecipientCount).
		Str("ref", ref).
		Msg("红包公告")
	return ref, nil
}
