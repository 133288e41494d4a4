package auth

import (
	"strings"
	"time"

	"github.com/lk2023060901/xdooria-interlock/pkg/config"
)

// Config 认证配置
type Config struct {
	// Authority 授权服务地址
	Authority string `mapstructure:"authority" json:"authority" yaml:"authority" validate:"required,url"`
	// AuthURL 授权端点，默认 {authority}/connect/authorize
	AuthURL string `mapstructure:"auth_url" json:"auth_url" yaml:"auth_url"`
	// TokenURL 令牌端点，默认 {authority}/connect/token
	TokenURL string `mapstructure:"token_url" json:"token_url" yaml:"token_url"`

	ClientID     string   `mapstructure:"client_id" json:"client_id" yaml:"client_id" validate:"required"`
	ClientSecret string   `mapstructure:"client_secret" json:"client_secret" yaml:"client_secret"`
	Scopes       []string `mapstructure:"scopes" json:"scopes" yaml:"scopes"`

	// 本地回调监听，端口为 0 时随机分配
	RedirectHost string `mapstructure:"redirect_host" json:"redirect_host" yaml:"redirect_host"`
	RedirectPort int    `mapstructure:"redirect_port" json:"redirect_port" yaml:"redirect_port"`
	CallbackPath string `mapstructure:"callback_path" json:"callback_path" yaml:"callback_path"`

	// RequiredRole 访问令牌中必须包含的角色，为空不检查
	RequiredRole string `mapstructure:"required_role" json:"required_role" yaml:"required_role"`
	RoleClaim    string `mapstructure:"role_claim" json:"role_claim" yaml:"role_claim"`

	// LoginTimeout 等待浏览器回调的最长时间
	LoginTimeout time.Duration `mapstructure:"login_timeout" json:"login_timeout" yaml:"login_timeout"`
	// HTTPTimeout 令牌端点请求超时
	HTTPTimeout time.Duration `mapstructure:"http_timeout" json:"http_timeout" yaml:"http_timeout"`
}

// OfflineAccessScope 获取刷新令牌所需的范围
const OfflineAccessScope = "offline_access"

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		RedirectHost: "127.0.0.1",
		CallbackPath: "/callback/login",
		RoleClaim:    "role",
		LoginTimeout: 5 * time.Minute,
		HTTPTimeout:  30 * time.Second,
	}
}

func (c *Config) normalize() error {
	if err := config.NewValidator().Validate(c); err != nil {
		return err
	}

	base := strings.TrimSuffix(c.Authority, "/")
	if c.AuthURL == "" {
		c.AuthURL = base + "/connect/authorize"
	}
	if c.TokenURL == "" {
		c.TokenURL = base + "/connect/token"
	}
	if !strings.HasPrefix(c.CallbackPath, "/") {
		c.CallbackPath = "/" + c.CallbackPath
	}
	return nil
}

// scopes 配置范围加上 offline_access，去重
func (c *Config) scopes() []string {
	out := []string{OfflineAccessScope}
	for _, s := range c.Scopes {
		if s != "" && s != OfflineAccessScope {
			out = append(out, s)
		}
	}
	return out
}
