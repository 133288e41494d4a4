package app

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
)

// Options 应用程序配置选项
type Options struct {
	ID          string
	Name        string
	StopTimeout time.Duration
	Logger      logger.Logger
	// Banner 版本横幅输出位置，nil 表示不输出
	Banner io.Writer
	// Signals 为 false 时不监听 SIGINT/SIGTERM
	Signals bool
}

// Option 定义配置函数
type Option func(*Options)

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		ID:          uuid.NewString(),
		Name:        AppName,
		StopTimeout: 10 * time.Second,
		Logger:      logger.Default(),
		Banner:      os.Stdout,
		Signals:     true,
	}
}

// WithLogger 设置应用日志器
func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithName 设置应用名称
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithStopTimeout 设置优雅停止超时时间
func WithStopTimeout(t time.Duration) Option {
	return func(o *Options) { o.StopTimeout = t }
}

// WithBanner 设置版本横幅输出
func WithBanner(w io.Writer) Option {
	return func(o *Options) { o.Banner = w }
}

// WithoutSignals 不监听系统信号（测试用）
func WithoutSignals() Option {
	return func(o *Options) { o.Signals = false }
}
