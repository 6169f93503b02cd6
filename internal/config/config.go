// Package config 配置管理模块
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/smysle/sakura-redenvelope-go/pkg/currency"
)

// Config 全局配置结构
type Config struct {
	Name     string `json:"name"`
	Debug    bool   `json:"debug"`
	TimeZone string `json:"time_zone"`
	LogDir   string `json:"log_dir"`

	Database    DatabaseConfig    `json:"database"`
	API         APIConfig         `json:"api"`
	Bot         BotConfig         `json:"bot"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	RedEnvelope RedEnvelopeConfig `json:"red_envelope"`
	Membership  MembershipConfig  `json:"membership"`
	Feed        FeedConfig        `json:"feed"`

	// Currencies 币种 -> 小数位数（最小单位）
	Currencies map[string]int32 `json:"currencies"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string `json:"driver"` // mysql, postgres, sqlite, memory
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"` // sqlite 时为数据库文件路径
	SSLMode      string `json:"ssl_mode"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxOpenConns int    `json:"max_open_conns"`
}

// APIConfig Web API 配置
type APIConfig struct {
	Enabled      bool     `json:"enabled"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	AllowOrigins []string `json:"allow_origins"`
	JWTSecret    string   `json:"jwt_secret"` // 为空时信任 X-User-ID（仅开发环境）
}

// BotConfig Telegram Bot 配置
type BotConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
	Token   string `json:"token"`
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	ExpirySweep        bool `json:"expiry_sweep"`
	ExpirySweepSeconds int  `json:"expiry_sweep_seconds"`
}

// RedEnvelopeConfig 红包配置
type RedEnvelopeConfig struct {
	Enabled                  bool   `json:"enabled"`
	DefaultCurrency          string `json:"default_currency"`
	MaxRecipients            int    `json:"max_recipients"`
	ExpireHours              int    `json:"expire_hours"`
	ClaimMaxAttempts         int    `json:"claim_max_attempts"`
	RequireMembershipToClaim *bool  `json:"require_membership_to_claim"`
	DefaultMessage           string `json:"default_message"`
}

// MembershipConfig 会话成员校验配置
type MembershipConfig struct {
	Driver         string              `json:"driver"` // static, telegram, http
	URL            string              `json:"url"`
	Token          string              `json:"token"`
	TimeoutSeconds int                 `json:"timeout_seconds"`
	// CacheSeconds 成员结果缓存时长，被移出会话的用户在这段时间内仍可能通过校验
	CacheSeconds   int                 `json:"cache_seconds"`
	Static         map[string][]string `json:"static"` // conversation -> members
}

// FeedConfig 红包公告投递配置
type FeedConfig struct {
	Driver     string `json:"driver"` // log, telegram, rabbitmq
	AMQPURL    string `json:"amqp_url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

var (
	cfg     *Config
	cfgLock sync.RWMutex
)

// Load 加载配置文件，.env 与环境变量中的密钥会覆盖文件内容
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	// .env 不存在是正常情况
	_ = godotenv.Load()
	config.applyEnv()
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	Set(&config)
	return &config, nil
}

// Get 获取全局配置（线程安全）
func Get() *Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	return cfg
}

// Set 替换全局配置
func Set(c *Config) {
	cfgLock.Lock()
	cfg = c
	cfgLock.Unlock()
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// applyEnv 使用环境变量覆盖敏感配置
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"RED_DATABASE_PASSWORD": &c.Database.Password,
		"RED_JWT_SECRET":        &c.API.JWTSecret,
		"RED_BOT_TOKEN":         &c.Bot.Token,
		"RED_AMQP_URL":          &c.Feed.AMQPURL,
		"RED_MEMBERSHIP_TOKEN":  &c.Membership.Token,
	}
	for key, field := range overrides {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*field = v
		}
	}
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "Sakura RedEnvelope"
	}
	if c.TimeZone == "" {
		c.TimeZone = "Asia/Shanghai"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.API.Port == 0 {
		c.API.Port = 8838
	}
	if len(c.API.AllowOrigins) == 0 {
		c.API.AllowOrigins = []string{"*"}
	}
	if c.Scheduler.ExpirySweepSeconds <= 0 {
		c.Scheduler.ExpirySweepSeconds = 60
	}
	if c.RedEnvelope.DefaultCurrency == "" {
		c.RedEnvelope.DefaultCurrency = "CNY"
	}
	if c.RedEnvelope.MaxRecipients == 0 {
		c.RedEnvelope.MaxRecipients = 100
	}
	if c.RedEnvelope.ExpireHours == 0 {
		c.RedEnvelope.ExpireHours = 24
	}
	if c.RedEnvelope.ClaimMaxAttempts == 0 {
		c.RedEnvelope.ClaimMaxAttempts = 8
	}
	if c.RedEnvelope.RequireMembershipToClaim == nil {
		required := true
		c.RedEnvelope.RequireMembershipToClaim = &required
	}
	if c.RedEnvelope.DefaultMessage == "" {
		c.RedEnvelope.DefaultMessage = "恭喜发财，大吉大利！"
	}
	if c.Membership.Driver == "" {
		c.Membership.Driver = "static"
	}
	if c.Membership.TimeoutSeconds == 0 {
		c.Membership.TimeoutSeconds = 5
	}
	if c.Membership.CacheSeconds == 0 {
		c.Membership.CacheSeconds = 30
	}
	if c.Feed.Driver == "" {
		c.Feed.Driver = "log"
	}
	if c.Feed.Exchange == "" {
		c.Feed.Exchange = "conversation_feed"
	}
	if c.Feed.RoutingKey == "" {
		c.Feed.RoutingKey = "red_envelope.created"
	}
	if len(c.Currencies) == 0 {
		c.Currencies = map[string]int32{"CNY": 2, "USD": 2, "EUR": 2, "JPY": 0}
	}
	if _, ok := c.Currencies[strings.ToUpper(c.RedEnvelope.DefaultCurrency)]; !ok {
		c.Currencies[strings.ToUpper(c.RedEnvelope.DefaultCurrency)] = 2
	}
}

// validate 检查默认值无法修正的配置
func (c *Config) validate() error {
	for code, places := range c.Currencies {
		if places < 0 || places > currency.MaxPlaces {
			return fmt.Errorf("币种 %s 的小数位数 %d 超出范围 [0, %d]", code, places, currency.MaxPlaces)
		}
	}
	return nil
}

// ExpireAfter 红包有效期
func (c *RedEnvelopeConfig) ExpireAfter() time.Duration {
	return time.Duration(c.ExpireHours) * time.Hour
}

// ClaimRequiresMembership 领取时是否校验会话成员
func (c *RedEnvelopeConfig) ClaimRequiresMembership() bool {
	return c.RequireMembershipToClaim == nil || *c.RequireMembershipToClaim
}

// SweepInterval 过期扫描间隔
func (c *SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(c.ExpirySweepSeconds) * time.Second
}

// MembershipCacheTTL 成员校验缓存时长
func (c *MembershipConfig) MembershipCacheTTL() time.Duration {
	return time.Duration(c.CacheSeconds) * time.Second
}
