// Package console 控制台上下文：在启动时创建一次，持有会话各组件
package console

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/auth"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/metrics"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/model"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/prompt"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/reconnect"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/remote"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/statesync"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/status"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/lk2023060901/xdooria-interlock/pkg/config"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
	"github.com/panjf2000/ants/v2"
)

// ErrClosed 控制台已关闭
var ErrClosed = errors.New("console: closed")

type options struct {
	logger   logger.Logger
	prompter prompt.Prompter
	metrics  *metrics.ConsoleMetrics
	pool     *ants.Pool
	opener   auth.Opener
}

// Option 控制台选项
type Option func(*options)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPrompter 设置操作员交互
func WithPrompter(p prompt.Prompter) Option {
	return func(o *options) {
		o.prompter = p
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.ConsoleMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithWorkerPool 通道读写协程池
func WithWorkerPool(p *ants.Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// WithOpener 替换浏览器打开方式
func WithOpener(fn auth.Opener) Option {
	return func(o *options) {
		o.opener = fn
	}
}

// Console 控制台上下文
type Console struct {
	config   *Config
	logger   logger.Logger
	prompter prompt.Prompter
	metrics  *metrics.ConsoleMetrics

	store    *token.Store
	model    *model.Model
	engine   *statesync.Engine
	notifier *status.Notifier
	auth     *auth.Session
	remote   *remote.Session
	coord    *reconnect.Coordinator

	// session 被 Disconnect 取消，用于结束正在运行的恢复流程
	mu            sync.Mutex
	sessionID     string
	session       context.Context
	cancelSession context.CancelFunc
	closed        atomic.Bool
}

// New 创建控制台上下文，不会发起网络请求
func New(cfg *Config, opts ...Option) (*Console, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "merge console config")
	}

	o := &options{
		logger:   logger.NewNoop(),
		prompter: prompt.Static{},
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Console{
		config:   newCfg,
		logger:   o.logger,
		prompter: o.prompter,
		metrics:  o.metrics,
		store:    token.NewStore(),
		model:    model.New(),
		notifier: status.NewNotifier(newCfg.StatusInterval),
	}
	c.resetSession()
	c.engine = statesync.New(c.model, statesync.WithLogger(o.logger.Named("statesync")))

	authOpts := []auth.Option{
		auth.WithLogger(o.logger.Named("auth")),
		auth.WithMetrics(o.metrics),
	}
	if o.opener != nil {
		authOpts = append(authOpts, auth.WithOpener(o.opener))
	}
	if c.auth, err = auth.New(&newCfg.Auth, c.store, authOpts...); err != nil {
		return nil, err
	}

	c.remote, err = remote.New(&newCfg.Remote, c.store,
		remote.WithLogger(o.logger.Named("remote")),
		remote.WithPrompter(o.prompter),
		remote.WithNotifier(c.notifier),
		remote.WithMetrics(o.metrics),
		remote.WithWorkerPool(o.pool),
		remote.WithPushHandler(c.handlePush),
		remote.WithOnLost(c.handleLost),
	)
	if err != nil {
		return nil, err
	}

	c.coord, err = reconnect.New(&newCfg.Reconnect, c.store, c.remote, c.auth,
		reconnect.WithLogger(o.logger.Named("reconnect")),
		reconnect.WithPrompter(o.prompter),
		reconnect.WithMetrics(o.metrics),
		reconnect.WithReauth(c.Authorize),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Model 本地模型（只读使用 Snapshot）
func (c *Console) Model() *model.Model {
	return c.model
}

// Status 连接状态发布器
func (c *Console) Status() *status.Notifier {
	return c.notifier
}

// State 远程会话状态
func (c *Console) State() remote.State {
	return c.remote.State()
}

// Connected 通道是否已连接
func (c *Console) Connected() bool {
	return c.remote.IsConnected()
}

// Token 当前令牌
func (c *Console) Token() token.Token {
	return c.store.Get()
}

// Subscribe 订阅模型变更
func (c *Console) Subscribe(l statesync.Listener) {
	c.engine.Subscribe(l)
}

// Authorize 交互式登录后重建通道并连接
func (c *Console) Authorize(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	tok, err := c.auth.AuthenticateInteractive(ctx)
	if err != nil {
		c.alertAuthFailure(ctx, err)
		return err
	}

	c.remote.DisposeAndStop(ctx)
	if err := c.remote.Initialize(tok); err != nil {
		return err
	}
	actionNeeded, err := c.remote.ConnectAndWaitReady(ctx)
	if err != nil {
		return err
	}
	if actionNeeded || !c.remote.IsConnected() {
		return nil
	}
	return c.remote.RegisterHandlers()
}

func (c *Console) alertAuthFailure(ctx context.Context, err error) {
	c.logger.Warn("登录失败", "kind", auth.Kind(err), "error", err)
	switch {
	case errors.Is(err, auth.ErrDenied):
		c.prompter.Alert(ctx, "登录失败", "当前账号没有使用联锁控制台的权限。")
	case errors.Is(err, auth.ErrServerFault):
		c.prompter.Alert(ctx, "登录失败", "认证服务器发生错误，请稍后再试。")
	case errors.Is(err, auth.ErrCancelled):
	default:
		c.prompter.Alert(ctx, "登录失败", err.Error())
	}
}

// Reconnect 手动恢复连接；没有令牌时走完整登录
func (c *Console) Reconnect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.store.Get().IsZero() {
		return c.Authorize(ctx)
	}
	return c.runCoordinator(ctx)
}

// resetSession 开始新的会话，调用方持有 mu（构造时除外）
func (c *Console) resetSession() {
	c.sessionID = uuid.NewString()
	c.session, c.cancelSession = context.WithCancel(logger.WithSessionID(context.Background(), c.sessionID))
}

// withSession 为操作附带当前会话 ID，供日志关联
func (c *Console) withSession(ctx context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return logger.WithSessionID(ctx, c.sessionID)
}

// runCoordinator 运行恢复流程，Disconnect 或 ctx 取消时结束
func (c *Console) runCoordinator(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(c.withSession(ctx))
	defer cancel()
	stop := context.AfterFunc(session, cancel)
	defer stop()

	return c.coord.Run(runCtx)
}

func (c *Console) handleLost(err error) {
	// 断开回调之后可能已被 Disconnect
	if c.closed.Load() || c.remote.State() != remote.StateReconnecting {
		return
	}
	c.logger.Warn("通道异常断开，开始恢复", "error", err)

	err = c.runCoordinator(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		c.logger.Info("恢复流程已取消")
	case errors.Is(err, reconnect.ErrAlreadyRunning):
		c.logger.Debug("恢复流程已在运行")
	default:
		c.logger.Error("恢复连接失败，保持断开", "error", err)
	}
}

func (c *Console) handlePush(d *model.DataFromServer) {
	changed := c.engine.ApplyPush(d)
	c.metrics.ObserveApplied(string(statesync.SourcePush), changed)
}

// SendLever 发送てこ操作并合并应答
func (c *Console) SendLever(ctx context.Context, d model.LeverData) error {
	ctx = c.withSession(ctx)
	var resp *model.LeverData
	if err := c.remote.Send(ctx, remote.SetPhysicalLeverData, d, &resp); err != nil {
		c.logger.WarnContext(ctx, "てこ操作发送失败", "name", d.Name, "error", err)
		return err
	}
	changed := c.engine.ApplyLeverResponse(resp)
	c.metrics.ObserveApplied(string(statesync.SourceLever), changed)
	return nil
}

// SendKeyLever 发送鍵てこ操作；accepted 为 false 表示服务端拒绝了插拔键
func (c *Console) SendKeyLever(ctx context.Context, d model.KeyLeverData) (bool, error) {
	ctx = c.withSession(ctx)
	var resp *model.KeyLeverData
	if err := c.remote.Send(ctx, remote.SetPhysicalKeyLeverData, d, &resp); err != nil {
		c.logger.WarnContext(ctx, "鍵てこ操作发送失败", "name", d.Name, "error", err)
		return false, err
	}
	return c.engine.ApplyKeyLeverResponse(resp), nil
}

// SendDestinationButton 发送着点按钮操作并合并应答
func (c *Console) SendDestinationButton(ctx context.Context, d model.DestinationButtonData) error {
	ctx = c.withSession(ctx)
	var resp *model.DestinationButtonData
	if err := c.remote.Send(ctx, remote.SetDestinationButtonState, d, &resp); err != nil {
		c.logger.WarnContext(ctx, "着点按钮操作发送失败", "name", d.Name, "error", err)
		return err
	}
	changed := c.engine.ApplyButtonResponse(resp)
	c.metrics.ObserveApplied(string(statesync.SourceButton), changed)
	return nil
}

// Disconnect 结束恢复流程并关闭通道
func (c *Console) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.cancelSession()
	c.resetSession()
	c.mu.Unlock()

	c.remote.DisposeAndStop(ctx)
	c.notifier.Publish(false)
	c.metrics.SetConnected(false)
	c.logger.Info("已断开连接")
	return nil
}

// Close 断开并停止接受新的操作
func (c *Console) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Disconnect(context.Background())
}
