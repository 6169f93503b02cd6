// Package utils Bot 工具函数
package utils

import (
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// DeleteAfter 定时删除消息
func DeleteAfter(b *tele.Bot, msg *tele.Message, seconds int) {
	if msg == nil || b == nil {
		return
	}
	time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		if err := b.Delete(msg); err != nil {
			logger.Debug().Err(err).Msg("删除消息失败")
		}
	})
}

// ReplyAndDelete 回复消息并定时删除，用于群内的错误提示
func ReplyAndDelete(c tele.Context, text string, seconds int, opts ...interface{}) error {
	msg, err := c.Bot().Reply(c.Message(), text, opts...)
	if err != nil {
		return err
	}
	DeleteAfter(c.Bot(), msg, seconds)
	return nil
}
