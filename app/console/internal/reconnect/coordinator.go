// Package reconnect 通道断开后的恢复流程
package reconnect

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/auth"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/metrics"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/prompt"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/remote"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/lk2023060901/xdooria-interlock/pkg/config"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
)

var (
	// ErrAlreadyRunning 已有恢复流程在运行
	ErrAlreadyRunning = errors.New("reconnect: already running")
	// ErrNoReauth 未配置重新登录流程
	ErrNoReauth = errors.New("reconnect: reauthentication not configured")
)

// State 协调器状态
type State int32

const (
	StateIdle State = iota
	StateAttemptingResume
	StateAttemptingRefreshThenResume
	StateAwaitingReauth
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttemptingResume:
		return "attempting_resume"
	case StateAttemptingRefreshThenResume:
		return "attempting_refresh_then_resume"
	case StateAwaitingReauth:
		return "awaiting_reauth"
	default:
		return "unknown"
	}
}

// Remote 协调器需要的远程会话操作
type Remote interface {
	Initialize(tok token.Token) error
	ConnectAndWaitReady(ctx context.Context) (bool, error)
	RegisterHandlers() error
	DisposeAndStop(ctx context.Context)
	IsConnected() bool
	EndReconnect()
}

// Refresher 刷新令牌
type Refresher interface {
	Refresh(ctx context.Context, tok token.Token) (token.Token, error)
}

// ReauthFunc 完整的登录 → 初始化 → 连接流程
type ReauthFunc func(ctx context.Context) error

// Config 协调器配置
type Config struct {
	// Interval 两次尝试之间的间隔
	Interval time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	// Margin 令牌剩余有效期不大于该值时先刷新
	Margin time.Duration `mapstructure:"margin" json:"margin" yaml:"margin"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Interval: 500 * time.Millisecond,
		Margin:   time.Minute,
	}
}

// Option 协调器选项
type Option func(*Coordinator)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithPrompter 设置操作员交互
func WithPrompter(p prompt.Prompter) Option {
	return func(c *Coordinator) {
		c.prompter = p
	}
}

// WithReauth 设置重新登录流程
func WithReauth(fn ReauthFunc) Option {
	return func(c *Coordinator) {
		c.reauth = fn
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.ConsoleMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator 重连状态机
type Coordinator struct {
	config    *Config
	store     *token.Store
	remote    Remote
	refresher Refresher
	reauth    ReauthFunc
	prompter  prompt.Prompter
	logger    logger.Logger
	metrics   *metrics.ConsoleMetrics
	now       func() time.Time

	state   atomic.Int32
	running atomic.Bool
}

// New 创建协调器
func New(cfg *Config, store *token.Store, r Remote, refresher Refresher, opts ...Option) (*Coordinator, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "merge reconnect config")
	}

	c := &Coordinator{
		config:    newCfg,
		store:     store,
		remote:    r,
		refresher: refresher,
		prompter:  prompt.Static{},
		logger:    logger.NewNoop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State 当前状态
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Running 是否有恢复流程在运行
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// Decide 剩余有效期严格大于 margin 时恢复，否则先刷新
func (c *Coordinator) Decide(tok token.Token, now time.Time) State {
	if tok.ValidFor(c.config.Margin, now) {
		return StateAttemptingResume
	}
	return StateAttemptingRefreshThenResume
}

// Run 执行恢复流程，直到连接成功、操作员放弃、出现致命错误或 ctx 取消
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.setState(StateIdle)

	c.logger.InfoContext(ctx, "开始恢复连接")
	for {
		done, err := c.cycle(ctx)
		if done || err != nil {
			if !c.remote.IsConnected() {
				c.remote.EndReconnect()
			}
			return err
		}

		select {
		case <-ctx.Done():
			c.remote.EndReconnect()
			return ctx.Err()
		case <-time.After(c.config.Interval):
		}
	}
}

// cycle 执行一个恢复周期；done 为 true 时结束循环
func (c *Coordinator) cycle(ctx context.Context) (bool, error) {
	tok := c.store.Get()
	next := c.Decide(tok, c.now())
	c.setState(next)

	if next == StateAttemptingResume {
		c.logger.DebugContext(ctx, "令牌仍有效，尝试直接恢复", "expires_at", tok.ExpiresAt)
		return c.connect(ctx, "resume", tok)
	}

	c.logger.InfoContext(ctx, "令牌即将过期，先刷新", "expires_at", tok.ExpiresAt)
	renewed, err := c.refresher.Refresh(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidGrant) {
			c.logger.WarnContext(ctx, "刷新令牌不可用，需要重新登录", "error", err)
			return c.reauthenticate(ctx)
		}
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		c.metrics.ObserveReconnect("refresh", "failed")
		return true, errors.Wrap(err, "refresh token")
	}

	c.remote.DisposeAndStop(ctx)
	if err := c.remote.Initialize(renewed); err != nil {
		c.logger.WarnContext(ctx, "重建通道失败", "error", err)
		return false, nil
	}
	return c.connect(ctx, "refresh", renewed)
}

func (c *Coordinator) connect(ctx context.Context, path string, tok token.Token) (bool, error) {
	actionNeeded, err := c.remote.ConnectAndWaitReady(ctx)
	if errors.Is(err, remote.ErrNotInitialized) {
		if initErr := c.remote.Initialize(tok); initErr != nil && !errors.Is(initErr, remote.ErrAlreadyInitialized) {
			c.logger.WarnContext(ctx, "初始化通道失败", "error", initErr)
			return false, nil
		}
		actionNeeded, err = c.remote.ConnectAndWaitReady(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		c.logger.WarnContext(ctx, "连接失败", "path", path, "error", err)
		return false, nil
	}

	switch {
	case actionNeeded:
		c.metrics.ObserveReconnect(path, "action_needed")
		c.logger.WarnContext(ctx, "连接需要操作员处理，停止恢复", "path", path)
		return true, nil
	case c.remote.IsConnected():
		if err := c.remote.RegisterHandlers(); err != nil {
			c.logger.WarnContext(ctx, "注册推送处理失败", "error", err)
		}
		c.metrics.ObserveReconnect(path, "connected")
		c.logger.InfoContext(ctx, "连接已恢复", "path", path)
		return true, nil
	default:
		c.metrics.ObserveReconnect(path, "aborted")
		c.logger.InfoContext(ctx, "操作员放弃重连", "path", path)
		return true, nil
	}
}

func (c *Coordinator) reauthenticate(ctx context.Context) (bool, error) {
	c.setState(StateAwaitingReauth)
	if !c.prompter.ConfirmReauth(ctx) {
		c.metrics.ObserveReconnect("reauth", "declined")
		c.logger.InfoContext(ctx, "操作员拒绝重新登录，保持断开")
		return true, nil
	}
	if c.reauth == nil {
		return true, ErrNoReauth
	}

	if err := c.reauth(ctx); err != nil {
		c.metrics.ObserveReconnect("reauth", "failed")
		return true, errors.Wrap(err, "reauthenticate")
	}
	if c.remote.IsConnected() {
		c.metrics.ObserveReconnect("reauth", "connected")
	} else {
		c.metrics.ObserveReconnect("reauth", "aborted")
	}
	return true, nil
}
