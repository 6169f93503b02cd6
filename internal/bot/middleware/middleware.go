// Package middleware Bot 中间件
package middleware

import (
	"runtime/debug"

	tele "gopkg.in/telebot.v3"

	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// Logger 记录命令和按钮回调
func Logger() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil {
				return next(c)
			}

			event := logger.Debug().Int64("user_id", user.ID).Str("username", user.Username)
			if chat := c.Chat(); chat != nil {
				event = event.Int64("chat_id", chat.ID)
			}
			if cb := c.Callback(); cb != nil {
				event.Str("unique", cb.Unique).Str("data", cb.Data).Msg("收到回调")
			} else {
				event.Str("text", c.Text()).Msg("收到消息")
			}
			return next(c)
		}
	}
}

// Recover 捕获处理器 panic，按钮回调用弹窗提示
func Recover() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				logger.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("处理器 panic")

				const text = "❌ 处理请求时发生错误，请稍后重试"
				if c.Callback() != nil {
					err = c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
					return
				}
				err = c.Send(text)
			}()
			return next(c)
		}
	}
}

// GroupOnly 仅允许在群组和超级群组中使用
func GroupOnly() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil || (chat.Type != tele.ChatGroup && chat.Type != tele.ChatSuperGroup) {
				return c.Send("❌ 红包只能在群组中使用")
			}
			return next(c)
		}
	}
}
