// Sakura RedEnvelope - 群聊红包服务
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smysle/sakura-redenvelope-go/internal/bot"
	"github.com/smysle/sakura-redenvelope-go/internal/bot/handlers"
	"github.com/smysle/sakura-redenvelope-go/internal/config"
	"github.com/smysle/sakura-redenvelope-go/internal/database"
	"github.com/smysle/sakura-redenvelope-go/internal/database/repository"
	"github.com/smysle/sakura-redenvelope-go/internal/feed"
	"github.com/smysle/sakura-redenvelope-go/internal/membership"
	"github.com/smysle/sakura-redenvelope-go/internal/scheduler"
	"github.com/smysle/sakura-redenvelope-go/internal/service"
	"github.com/smysle/sakura-redenvelope-go/internal/web"
	"github.com/smysle/sakura-redenvelope-go/pkg/currency"
	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

var (
	configPath = flag.String("config", "config.json", "配置文件路径")
	debug      = flag.Bool("debug", false, "调试模式")
	issueToken = flag.String("issue-token", "", "为指定用户签发 API Token 后退出")
	tokenName  = flag.String("token-name", "", "签发 Token 时的用户昵称")
	tokenTTL   = flag.Duration("token-ttl", 30*24*time.Hour, "签发 Token 的有效期")
)

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 签发 Token 不需要启动任何服务
	if *issueToken != "" {
		token, err := web.SignToken(cfg.API.JWTSecret, *issueToken, *tokenName, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "签发 Token 失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// 初始化日志
	logger.Init(logger.Options{
		Debug:    *debug || cfg.Debug,
		Dir:      cfg.LogDir,
		TimeZone: cfg.TimeZone,
	})
	log := logger.Component("main")
	log.Info().Msg("🧧 Sakura RedEnvelope 启动中...")

	// 初始化存储
	var store repository.Store
	var dbPing func() bool
	if cfg.Database.Driver == "memory" {
		store = repository.NewMemoryRedEnvelopeRepository()
		log.Warn().Msg("使用内存存储，重启后数据会丢失")
	} else {
		db, err := database.Init(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化数据库失败")
		}
		defer database.Close()
		store = repository.NewRedEnvelopeRepository(db)
		dbPing = database.Ping
	}

	currencies := currency.NewRegistry(cfg.Currencies)

	// 初始化 Telegram Bot，成员校验和公告可能依赖它
	var tgBot *bot.Bot
	if cfg.Bot.Enabled {
		tgBot, err = bot.New(&cfg.Bot)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化 Telegram Bot 失败")
		}
		log.Info().Str("bot", cfg.Bot.Name).Msg("✅ Telegram Bot 初始化完成")
	}

	members, err := newMembershipChecker(cfg, tgBot)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化成员校验失败")
	}

	announcer, closeFeed, err := newAnnouncer(cfg, tgBot)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化红包公告失败")
	}
	defer closeFeed()

	deps := service.Deps{
		Store:      store,
		Members:    members,
		Announcer:  announcer,
		Splitter:   service.NewSplitter(service.NewRandSource(0), currencies),
		Currencies: currencies,
		Config:     cfg.RedEnvelope,
	}
	envelopes := service.NewEnvelopeService(deps)
	claims := service.NewClaimProcessor(deps)

	// 初始化定时任务调度器
	sched := scheduler.New(cfg, service.NewExpiryReaper(store, nil))
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("启动定时任务失败")
	}
	defer sched.Stop()
	log.Info().Msg("✅ 定时任务调度器启动")

	// 初始化 Web API 服务
	if cfg.API.Enabled {
		webServer := web.New(&cfg.API, web.Services{
			Envelopes:   envelopes,
			Claims:      claims,
			Currencies:  currencies,
			StoreDriver: cfg.Database.Driver,
			DBPing:      dbPing,
		})
		go func() {
			if err := webServer.Start(); err != nil {
				log.Error().Err(err).Msg("Web API 服务启动失败")
			}
		}()
		defer webServer.Stop()
	}

	if tgBot != nil {
		tgBot.RegisterHandlers(handlers.NewRedEnvelopeHandler(envelopes, claims, currencies, cfg.TimeZone))
		go tgBot.Run()
		defer tgBot.Stop()
	}

	// 监听系统信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Msg("🚀 Sakura RedEnvelope 启动成功!")
	<-quit

	log.Info().Msg("正在关闭服务...")
}

// newMembershipChecker 按配置选择成员校验方式
func newMembershipChecker(cfg *config.Config, tgBot *bot.Bot) (membership.Checker, error) {
	var checker membership.Checker
	switch cfg.Membership.Driver {
	case "static":
		return membership.NewStaticChecker(cfg.Membership.Static), nil
	case "telegram":
		if tgBot == nil {
			return nil, fmt.Errorf("telegram 成员校验需要启用 Bot")
		}
		checker = membership.NewTelegramChecker(tgBot)
	case "http":
		if cfg.Membership.URL == "" {
			return nil, fmt.Errorf("http 成员校验缺少 url")
		}
		timeout := time.Duration(cfg.Membership.TimeoutSeconds) * time.Second
		checker = membership.NewHTTPChecker(cfg.Membership.URL, cfg.Membership.Token, timeout)
	default:
		return nil, fmt.Errorf("不支持的成员校验方式: %s", cfg.Membership.Driver)
	}
	return membership.NewCachedChecker(checker, cfg.Membership.MembershipCacheTTL()), nil
}

// newAnnouncer 按配置选择公告投递方式，返回的 close 在退出时调用
func newAnnouncer(cfg *config.Config, tgBot *bot.Bot) (feed.Announcer, func(), error) {
	noop := func() {}
	switch cfg.Feed.Driver {
	case "log":
		return feed.LogAnnouncer{}, noop, nil
	case "telegram":
		if tgBot == nil {
			return nil, noop, fmt.Errorf("telegram 公告需要启用 Bot")
		}
		return feed.NewTelegramAnnouncer(tgBot), noop, nil
	case "rabbitmq":
		publisher, err := feed.NewRabbitMQAnnouncer(cfg.Feed.AMQPURL, cfg.Feed.Exchange, cfg.Feed.RoutingKey)
		if err != nil {
			return nil, noop, err
		}
		return publisher, publisher.Close, nil
	default:
		return nil, noop, fmt.Errorf("不支持的公告方式: %s", cfg.Feed.Driver)
	}
}
