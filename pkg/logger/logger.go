// Package logger 日志模块
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger 全局日志实例，未初始化时为空操作日志
var Logger zerolog.Logger

// Options 日志初始化参数
type Options struct {
	Debug    bool
	Dir      string // 日志目录，为空时只输出到控制台
	FileName string
	TimeZone string
}

// Init 初始化日志
func Init(opts Options) {
	if opts.TimeZone != "" {
		if loc, err := time.LoadLocation(opts.TimeZone); err == nil {
			zerolog.TimestampFunc = func() time.Time {
				return time.Now().In(loc)
			}
		}
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
	}}

	// 文件输出失败时退化为仅控制台
	if opts.Dir != "" {
		name := opts.FileName
		if name == "" {
			name = "redenvelope.log"
		}
		if err := os.MkdirAll(opts.Dir, 0755); err == nil {
			logFile, err := os.OpenFile(
				filepath.Join(opts.Dir, name),
				os.O_APPEND|os.O_CREATE|os.O_WRONLY,
				0644,
			)
			if err == nil {
				writers = append(writers, logFile)
			}
		}
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Caller().Logger()
	log.Logger = Logger
}

// Component 带组件名的子日志
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Debug 调试日志
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info 信息日志
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn 警告日志
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error 错误日志
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal 致命错误日志
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}
