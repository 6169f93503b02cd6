// Package web Web API 服务
package web

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/smysle/sakura-redenvelope-go/internal/config"
	"github.com/smysle/sakura-redenvelope-go/internal/service"
	"github.com/smysle/sakura-redenvelope-go/pkg/currency"
	pkglogger "github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// Version 服务版本
const Version = "1.0.0"

// Services 路由依赖的业务服务
type Services struct {
	Envelopes  *service.EnvelopeService
	Claims     *service.ClaimProcessor
	Currencies *currency.Registry

	// StoreDriver 存储驱动名，为空视为 memory
	StoreDriver string
	// DBPing 数据库连通性检查，内存存储时为空
	DBPing      func() bool
}

// Server Web 服务器
type Server struct {
	app       *fiber.App
	cfg       *config.APIConfig
	svc       Services
	startTime time.Time
}

// New 创建 Web 服务器
func New(cfg *config.APIConfig, svc Services) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// 中间件
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-User-Name",
	}))

	server := &Server{
		app:       app,
		cfg:       cfg,
		svc:       svc,
		startTime: time.Now(),
	}

	// 注册路由
	server.registerRoutes()

	return server
}

// registerRoutes 注册路由
func (s *Server) registerRoutes() {
	// 健康检查
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/", s.healthCheck)

	// 详细状态
	s.app.Get("/status", s.detailedStatus)

	// API v1
	v1 := s.app.Group("/api/v1", Identity(s.cfg.JWTSecret))

	envelopes := v1.Group("/envelopes")
	envelopes.Post("/", s.createEnvelope)
	envelopes.Get("/:id", s.getEnvelope)
	envelopes.Post("/:id/claim", s.claimEnvelope)
}

// App 底层 fiber 实例
func (s *Server) App() *fiber.App {
	return s.app
}

// Start 启动服务器
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		pkglogger.Info().Msg("【API服务】未启用，跳过...")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	pkglogger.Info().Str("addr", addr).Msg("【API服务】启动中...")

	return s.app.Listen(addr)
}

// Stop 停止服务器
func (s *Server) Stop() error {
	return s.app.Shutdown()
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	})
}

// StatusResponse 详细状态响应
type StatusResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Uptime   string         `json:"uptime"`
	System   SystemInfo     `json:"system"`
	Database DatabaseStatus `json:"database"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAlloc     string `json:"mem_alloc"`
}

// DatabaseStatus 数据库状态
type DatabaseStatus struct {
	Driver    string `json:"driver"`
	Connected bool   `json:"connected"`
}

// detailedStatus 详细状态，数据库不可用时为 degraded
func (s *Server) detailedStatus(c *fiber.Ctx) error {
	db := s.storeStatus()
	resp := StatusResponse{
		Status:   "ok",
		Version:  Version,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		System:   systemInfo(),
		Database: db,
	}
	if !db.Connected {
		resp.Status = "degraded"
	}
	return c.JSON(resp)
}

func (s *Server) storeStatus() DatabaseStatus {
	db := DatabaseStatus{Driver: s.svc.StoreDriver, Connected: true}
	if db.Driver == "" {
		db.Driver = "memory"
	}
	if s.svc.DBPing != nil {
		db.Connected = s.svc.DBPing()
	}
	return db
}

func systemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		MemAlloc:     fmt.Sprintf("%.2f MB", float64(memStats.Alloc)/1024/1024),
	}
}
