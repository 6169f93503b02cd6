package feed

import (
	"context"
	"fmt"
	"html"
	"strconv"

	tele "gopkg.in/telebot.v3"
)

// GrabUnique 抢红包按钮的回调标识
const GrabUnique = "grab_red"

// MessageSender *tele.Bot 的发送能力
type MessageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramAnnouncer 在会话所在群组发送带抢红包按钮的消息
type TelegramAnnouncer struct {
	sender MessageSender
}

// NewTelegramAnnouncer 创建 Telegram 公告
func NewTelegramAnnouncer(sender MessageSender) *TelegramAnnouncer {
	return &TelegramAnnouncer{sender: sender}
}

// Announce 实现 Announcer，引用为 "<chatID>:<messageID>"
func (t *TelegramAnnouncer) Announce(_ context.Context, a Announcement) (string, error) {
	chatID, err := strconv.ParseInt(a.ConversationID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("会话 %q 不是 Telegram 群组", a.ConversationID)
	}

	msg, err := t.sender.Send(tele.ChatID(chatID), RenderAnnouncement(a), GrabMarkup(a.EnvelopeID), tele.ModeHTML)
	if err != nil {
		return "", err
	}
	messageID, chat := msg.MessageSig()
	return fmt.Sprintf("%d:%s", chat, messageID), nil
}

// GrabMarkup 抢红包按钮
func GrabMarkup(envelopeID string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(
		markup.Row(
			markup.Data("🧧 抢红包", GrabUnique, envelopeID),
		),
	)
	return markup
}

// StrategyLabel 分配方式的中文名
func StrategyLabel(strategy string) string {
	if strategy == "equal" {
		return "普通红包"
	}
	return "拼手气红包"
}

// RenderAnnouncement 红包公告正文（HTML）
func RenderAnnouncement(a Announcement) string {
	text := fmt.Sprintf(
		"🧧 <b>%s 发了一个%s</b>\n\n"+
			"💰 <b>总金额</b>: %s %s\n"+
			"🎁 <b>红包个数</b>: %d 个\n",
		html.EscapeString(a.SenderName), StrategyLabel(a.Strategy),
		a.TotalAmount, a.Currency,
		a.RecipientCount,
	)
	switch {
	case a.LastShare != "":
		text += fmt.Sprintf("🪙 <b>每人</b>: %s %s（最后一位 %s）\n", a.EqualShare, a.Currency, a.LastShare)
	case a.EqualShare != "":
		text += fmt.Sprintf("🪙 <b>每人</b>: %s %s\n", a.EqualShare, a.Currency)
	}
	text += fmt.Sprintf("💬 <b>%s</b>", html.EscapeString(a.Message))
	return text
}
