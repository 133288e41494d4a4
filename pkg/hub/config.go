package hub

import (
	"net/url"
	"strings"
	"time"

	"github.com/lk2023060901/xdooria-interlock/pkg/websocket"
)

// Config Hub 连接配置
type Config struct {
	// Address 服务地址，http(s) 或 ws(s)
	Address string `mapstructure:"address" json:"address" yaml:"address" validate:"required,url"`
	// Path Hub 路径
	Path string `mapstructure:"path" json:"path" yaml:"path"`
	// Protocol 帧编码 json / msgpack
	Protocol string `mapstructure:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=json msgpack"`
	// InvokeTimeout 调用未设置截止时间时的默认超时
	InvokeTimeout time.Duration `mapstructure:"invoke_timeout" json:"invoke_timeout" yaml:"invoke_timeout"`

	WebSocket websocket.ClientConfig `mapstructure:"websocket" json:"websocket" yaml:"websocket"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Path:          "/hub/interlocking",
		Protocol:      "json",
		InvokeTimeout: 30 * time.Second,
		WebSocket:     *websocket.DefaultClientConfig(),
	}
}

// Endpoint 生成带 access_token 与 protocol 查询参数的 WebSocket 地址
func (c *Config) Endpoint(accessToken string) (string, error) {
	u, err := url.Parse(c.Address)
	if err != nil || u.Host == "" {
		return "", ErrInvalidConfig
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", ErrInvalidConfig
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + c.Path
	q := u.Query()
	q.Set("access_token", accessToken)
	q.Set("protocol", c.Protocol)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
