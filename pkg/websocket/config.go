package websocket

import (
	"net/url"
	"time"
)

// HeartbeatConfig 心跳配置
type HeartbeatConfig struct {
	// Enable 是否启用 Ping/Pong 心跳
	Enable bool `mapstructure:"enable" json:"enable" yaml:"enable"`
	// Interval Ping 间隔
	Interval time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	// Timeout 超过该时间未收到 Pong 视为超时
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	// MaxMissCount 连续 Ping 失败次数上限
	MaxMissCount int `mapstructure:"max_miss_count" json:"max_miss_count" yaml:"max_miss_count"`
}

// DefaultHeartbeatConfig 返回默认心跳配置
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Enable:       true,
		Interval:     15 * time.Second,
		Timeout:      45 * time.Second,
		MaxMissCount: 3,
	}
}

// ClientConfig 客户端配置
type ClientConfig struct {
	// 连接地址 "ws://host:port/path" 或 "wss://..."
	URL string `mapstructure:"url" json:"url" yaml:"url"`

	ReadBufferSize  int   `mapstructure:"read_buffer_size" json:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int   `mapstructure:"write_buffer_size" json:"write_buffer_size" yaml:"write_buffer_size"`
	MaxMessageSize  int64 `mapstructure:"max_message_size" json:"max_message_size" yaml:"max_message_size"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout"`

	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" json:"heartbeat" yaml:"heartbeat"`

	EnableCompression bool `mapstructure:"enable_compression" json:"enable_compression" yaml:"enable_compression"`

	// HTTP Headers（用于握手）
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty" yaml:"headers,omitempty"`

	SendQueueSize int `mapstructure:"send_queue_size" json:"send_queue_size" yaml:"send_queue_size"`
	// PoolSize 客户端自带协程池大小（读、写、心跳）
	PoolSize int `mapstructure:"pool_size" json:"pool_size" yaml:"pool_size"`
}

// DefaultClientConfig 返回默认客户端配置
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  4 * 1024 * 1024,
		DialTimeout:     10 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		Heartbeat:       DefaultHeartbeatConfig(),
		SendQueueSize:   256,
		PoolSize:        4,
	}
}

// Validate 验证客户端配置，并补齐缺省值
func (c *ClientConfig) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ErrInvalidURL
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 4096
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.PoolSize < 3 {
		c.PoolSize = 4
	}
	if c.Heartbeat.Enable && c.Heartbeat.Interval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
