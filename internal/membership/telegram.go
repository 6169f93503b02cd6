package membership

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"
)

// ChatMemberLookup *tele.Bot 的成员查询能力
type ChatMemberLookup interface {
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
}

// TelegramChecker 通过 getChatMember 判断群成员
type TelegramChecker struct {
	bot ChatMemberLookup
}

// NewTelegramChecker 创建 Telegram 成员校验
func NewTelegramChecker(bot ChatMemberLookup) *TelegramChecker {
	return &TelegramChecker{bot: bot}
}

// IsMember 实现 Checker，已退群和被踢出的都不算成员
func (t *TelegramChecker) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return false, nil
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false, nil
	}

	member, err := t.bot.ChatMemberOf(tele.ChatID(chatID), &tele.User{ID: uid})
	if err != nil {
		return false, fmt.Errorf("查询群成员失败: %w", err)
	}

	switch member.Role {
	case tele.Left, tele.Kicked:
		return false, nil
	case tele.Restricted:
		return member.Member, nil
	}
	return true, nil
}
