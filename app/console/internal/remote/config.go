package remote

import (
	"time"

	"github.com/lk2023060901/xdooria-interlock/pkg/hub"
)

// Config 远程会话配置
type Config struct {
	Hub hub.Config `mapstructure:"hub" json:"hub" yaml:"hub"`
	// RebuildInterval 通道重建的最小间隔，首次重建不等待
	RebuildInterval time.Duration `mapstructure:"rebuild_interval" json:"rebuild_interval" yaml:"rebuild_interval"`
	// StopTimeout 关闭通道时等待断开回调的最长时间
	StopTimeout time.Duration `mapstructure:"stop_timeout" json:"stop_timeout" yaml:"stop_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Hub:             *hub.DefaultConfig(),
		RebuildInterval: 500 * time.Millisecond,
		StopTimeout:     5 * time.Second,
	}
}
