// Package models 红包数据模型
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status 红包生命周期状态
type Status string

const (
	StatusActive       Status = "active"
	StatusFullyClaimed Status = "fully_claimed"
	StatusExpired      Status = "expired"
)

// IsTerminal 已抢完和已过期都是终态
func (s Status) IsTerminal() bool {
	return s == StatusFullyClaimed || s == StatusExpired
}

// CanClaim 只有进行中的红包可以领取
func (s Status) CanClaim() bool {
	return s == StatusActive
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFullyClaimed, StatusExpired:
		return true
	}
	return false
}

// Strategy 红包金额分配方式
type Strategy string

const (
	StrategyEqual  Strategy = "equal"  // 均分
	StrategyRandom Strategy = "random" // 拼手气
)

// ParseStrategy 解析分配方式，空字符串默认为拼手气
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case "", StrategyRandom:
		return StrategyRandom, true
	case StrategyEqual:
		return StrategyEqual, true
	}
	return "", false
}

// RedEnvelope 红包表
type RedEnvelope struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	UUID            string          `gorm:"column:uuid;size:36;uniqueIndex" json:"id"`
	ConversationID  string          `gorm:"column:conversation_id;size:64;index" json:"conversation_id"`
	SenderID        string          `gorm:"column:sender_id;size:64;index" json:"sender_id"`
	SenderName      string          `gorm:"column:sender_name;size:255" json:"sender_name"`
	TotalAmount     decimal.Decimal `gorm:"column:total_amount;type:decimal(20,8);not null" json:"total_amount"`
	Currency        string          `gorm:"column:currency;size:16;not null" json:"currency"`
	RecipientCount  int             `gorm:"column:recipient_count;not null" json:"recipient_count"`
	Strategy        Strategy        `gorm:"column:strategy;size:20;not null" json:"strategy"`
	RemainingAmount decimal.Decimal `gorm:"column:remaining_amount;type:decimal(20,8);not null" json:"remaining_amount"`
	ClaimedCount    int             `gorm:"column:claimed_count;not null;default:0" json:"claimed_count"`
	Status          Status          `gorm:"column:status;size:20;not null;index:idx_envelope_status_expires" json:"status"`
	Version         int64           `gorm:"column:version;not null;default:0" json:"-"`
	Message         string          `gorm:"column:message;size:500" json:"message"`
	AnnouncementRef string          `gorm:"column:announcement_ref;size:128" json:"announcement_ref,omitempty"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at" json:"updated_at"`
	ExpiresAt       time.Time       `gorm:"column:expires_at;index:idx_envelope_status_expires" json:"expires_at"`
}

// TableName 表名
func (RedEnvelope) TableName() string {
	return "red_envelopes"
}

// RemainingRecipients 剩余可领取人数
func (r *RedEnvelope) RemainingRecipients() int {
	return r.RecipientCount - r.ClaimedCount
}

// IsDue 在 now 时刻是否已到过期时间
func (r *RedEnvelope) IsDue(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Claimable 只读判断当前是否还能领取，不做任何状态迁移
func (r *RedEnvelope) Claimable(now time.Time) bool {
	return r.Status.CanClaim() && !r.IsDue(now) && r.RemainingRecipients() > 0
}

// RedEnvelopeClaim 红包领取记录，(envelope_id, user_id) 唯一
type RedEnvelopeClaim struct {
	ID           uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	UUID         string          `gorm:"column:uuid;size:36;uniqueIndex" json:"id"`
	EnvelopeID   uint            `gorm:"column:envelope_id;not null;uniqueIndex:idx_claim_envelope_user,priority:1" json:"-"`
	EnvelopeUUID string          `gorm:"column:envelope_uuid;size:36;index" json:"envelope_id"`
	UserID       string          `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_claim_envelope_user,priority:2" json:"user_id"`
	UserName     string          `gorm:"column:user_name;size:255" json:"user_name"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	ClaimedAt    time.Time       `gorm:"column:claimed_at" json:"claimed_at"`
}

// TableName 表名
func (RedEnvelopeClaim) TableName() string {
	return "red_envelope_claims"
}
