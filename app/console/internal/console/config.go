package console

import (
	"time"

	"github.com/lk2023060901/xdooria-interlock/app/console/internal/auth"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/reconnect"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/remote"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/status"
)

// Config 控制台会话配置
type Config struct {
	Auth      auth.Config      `mapstructure:"auth" json:"auth" yaml:"auth"`
	Remote    remote.Config    `mapstructure:"remote" json:"remote" yaml:"remote"`
	Reconnect reconnect.Config `mapstructure:"reconnect" json:"reconnect" yaml:"reconnect"`
	// StatusInterval 连接状态重发间隔
	StatusInterval time.Duration `mapstructure:"status_interval" json:"status_interval" yaml:"status_interval"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Auth:           *auth.DefaultConfig(),
		Remote:         *remote.DefaultConfig(),
		Reconnect:      *reconnect.DefaultConfig(),
		StatusInterval: status.DefaultInterval,
	}
}
