// Package bot Telegram Bot 核心
package bot

import (
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/smysle/sakura-redenvelope-go/internal/bot/handlers"
	"github.com/smysle/sakura-redenvelope-go/internal/bot/middleware"
	"github.com/smysle/sakura-redenvelope-go/internal/config"
	"github.com/smysle/sakura-redenvelope-go/internal/feed"
	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// Bot Telegram Bot 实例
type Bot struct {
	*tele.Bot
	cfg *config.BotConfig
}

// New 创建新的 Bot 实例，处理器在业务服务就绪后通过 RegisterHandlers 注册
func New(cfg *config.BotConfig) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			logger.Error().Err(err).Msg("Bot 错误")
		},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{
		Bot: b,
		cfg: cfg,
	}

	// 注册中间件
	bot.registerMiddleware()

	return bot, nil
}

// registerMiddleware 注册中间件
func (b *Bot) registerMiddleware() {
	// 日志中间件
	b.Use(middleware.Logger())

	// 恢复中间件
	b.Use(middleware.Recover())
}

// RegisterHandlers 注册红包处理器
func (b *Bot) RegisterHandlers(h *handlers.RedEnvelopeHandler) {
	group := b.Group()
	group.Use(middleware.GroupOnly())
	group.Handle("/red", h.HandleRed)

	b.Handle("/redinfo", h.HandleRedInfo)
	b.Handle(&tele.Btn{Unique: feed.GrabUnique}, h.HandleGrab)

	b.setCommands()
}

// setCommands 设置命令列表
func (b *Bot) setCommands() {
	cmds := []tele.Command{
		{Text: "red", Description: "[群组] 发红包"},
		{Text: "redinfo", Description: "[用户] 查看红包详情"},
	}
	if err := b.SetCommands(cmds); err != nil {
		logger.Warn().Err(err).Msg("设置命令列表失败")
	}
}

// Run 运行 Bot
func (b *Bot) Run() {
	logger.Info().Str("bot", b.cfg.Name).Msg("Bot 启动中...")
	b.Start()
}

// Stop 停止 Bot
func (b *Bot) Stop() {
	logger.Info().Msg("Bot 停止中...")
	b.Bot.Stop()
}
