// Package remote 与服务端的单条持久通道
package remote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/metrics"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/model"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/prompt"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/status"
	"github.com/lk2023060901/xdooria-interlock/app/console/internal/token"
	"github.com/lk2023060901/xdooria-interlock/pkg/config"
	"github.com/lk2023060901/xdooria-interlock/pkg/hub"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// ReceiveData 服务端推送的方法名
const ReceiveData = "ReceiveData"

// 请求方法名
const (
	SetPhysicalLeverData      = "SetPhysicalLeverData"
	SetPhysicalKeyLeverData   = "SetPhysicalKeyLeverData"
	SetDestinationButtonState = "SetDestinationButtonState"
)

// State 会话状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// PushHandler 推送数据处理
type PushHandler func(data *model.DataFromServer)

// Option Session 选项
type Option func(*Session)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithPrompter 设置操作员交互
func WithPrompter(p prompt.Prompter) Option {
	return func(s *Session) {
		s.prompter = p
	}
}

// WithNotifier 设置连接状态发布器
func WithNotifier(n *status.Notifier) Option {
	return func(s *Session) {
		s.notifier = n
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.ConsoleMetrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithWorkerPool 通道读写协程池
func WithWorkerPool(p *ants.Pool) Option {
	return func(s *Session) {
		s.pool = p
	}
}

// WithPushHandler 设置 ReceiveData 推送处理
func WithPushHandler(h PushHandler) Option {
	return func(s *Session) {
		s.onPush = h
	}
}

// WithOnLost 通道异常断开时在独立协程中调用
func WithOnLost(fn func(err error)) Option {
	return func(s *Session) {
		s.onLost = fn
	}
}

// channel 通道实例及其一次性注册标记
type channel struct {
	conn       *hub.Conn
	registered atomic.Bool
}

// Session 远程会话，同一时刻最多持有一个通道
type Session struct {
	config   *Config
	store    *token.Store
	logger   logger.Logger
	prompter prompt.Prompter
	notifier *status.Notifier
	metrics  *metrics.ConsoleMetrics
	pool     *ants.Pool
	onPush   PushHandler
	onLost   func(err error)

	// lifecycle 串行化 Initialize / DisposeAndStop
	lifecycle sync.Mutex
	current   atomic.Pointer[channel]
	state     atomic.Int32
	rebuild   *rate.Limiter
}

// New 创建远程会话，不会发起连接
func New(cfg *Config, store *token.Store, opts ...Option) (*Session, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "merge remote config")
	}

	s := &Session{
		config:   newCfg,
		store:    store,
		logger:   logger.NewNoop(),
		prompter: prompt.Static{},
		notifier: status.NewNotifier(0),
		rebuild:  rate.NewLimiter(rate.Every(newCfg.RebuildInterval), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Notifier 连接状态发布器
func (s *Session) Notifier() *status.Notifier {
	return s.notifier
}

// State 当前状态
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsConnected 通道是否已连接
func (s *Session) IsConnected() bool {
	ch := s.current.Load()
	return ch != nil && ch.conn.State() == hub.StateConnected && s.State() == StateConnected
}

// Initialized 是否持有通道
func (s *Session) Initialized() bool {
	return s.current.Load() != nil
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) publish(connected bool) {
	s.notifier.Publish(connected)
	s.metrics.SetConnected(connected)
}

// Initialize 使用令牌创建通道，已有通道时失败
func (s *Session) Initialize(tok token.Token) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.current.Load() != nil {
		return ErrAlreadyInitialized
	}

	opts := []hub.Option{hub.WithLogger(s.logger)}
	if s.pool != nil {
		opts = append(opts, hub.WithWorkerPool(s.pool))
	}
	conn, err := hub.NewConn(&s.config.Hub, tok.AccessToken, opts...)
	if err != nil {
		return errors.Wrap(err, "create hub connection")
	}

	ch := &channel{conn: conn}
	conn.OnClosed(s.handleClosed(ch))
	s.current.Store(ch)
	s.logger.Debug("通道已创建", "channel_id", conn.ID())
	return nil
}

// ConnectAndWaitReady 连接直到成功或需要操作员处理
// 返回 true 表示权限不足，需要操作员采取措施；false 且无错误时表示已连接或操作员放弃
func (s *Session) ConnectAndWaitReady(ctx context.Context) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateDisconnected)
			return false, err
		}

		ch := s.current.Load()
		if ch == nil {
			s.setState(StateDisconnected)
			return false, ErrNotInitialized
		}

		s.setState(StateConnecting)
		err := classify(ch.conn.Start(ctx))
		s.metrics.ObserveConnect(Kind(err))
		if err == nil {
			s.setState(StateConnected)
			s.publish(true)
			s.logger.Info("通道已连接", "channel_id", ch.conn.ID())
			return false, nil
		}
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return false, ctx.Err()
		}

		switch {
		case errors.Is(err, ErrPermissionDenied):
			s.setState(StateDisconnected)
			s.logger.Warn("没有访问联锁通道的权限", "error", err)
			s.prompter.Alert(ctx, "权限不足", "当前账号没有访问联锁服务的权限，请联系管理员分配角色后重新登录。")
			return true, nil

		case errors.Is(err, ErrChannelDisposed):
			s.publish(false)
			s.logger.Warn("通道已被销毁，重建后重试", "channel_id", ch.conn.ID())
			if err := s.rebuild.Wait(ctx); err != nil {
				s.setState(StateDisconnected)
				return false, err
			}
			s.DisposeAndStop(ctx)
			if err := s.Initialize(s.store.Get()); err != nil {
				s.setState(StateDisconnected)
				return false, errors.Mark(err, ErrNotInitialized)
			}

		default:
			s.setState(StateDisconnected)
			s.publish(false)
			s.logger.Warn("连接服务器失败", "kind", Kind(err), "error", err)
			msg := fmt.Sprintf("无法连接到联锁服务器：%v", err)
			if !s.prompter.AskRetry(ctx, "连接失败", msg) {
				s.logger.Info("操作员放弃连接")
				return false, nil
			}
		}
	}
}

// RegisterHandlers 注册 ReceiveData 推送处理，每个通道只注册一次
func (s *Session) RegisterHandlers() error {
	ch := s.current.Load()
	if ch == nil {
		return ErrNotInitialized
	}
	if !ch.registered.CompareAndSwap(false, true) {
		return nil
	}

	ch.conn.On(ReceiveData, func(p hub.Payload) {
		var data model.DataFromServer
		if err := p.Decode(&data); err != nil {
			s.logger.Warn("推送数据解析失败", "error", err)
			return
		}
		if s.onPush != nil {
			s.onPush(&data)
		}
	})
	return nil
}

// Send 调用服务端方法，result 为 nil 时忽略返回值
func (s *Session) Send(ctx context.Context, requestName string, payload, result any) error {
	ch := s.current.Load()
	if ch == nil {
		s.metrics.ObserveInvocation(requestName, Kind(ErrNotInitialized))
		return ErrNotInitialized
	}

	err := classify(ch.conn.Invoke(ctx, requestName, payload, result))
	s.metrics.ObserveInvocation(requestName, Kind(err))
	if err != nil {
		s.logger.DebugContext(logger.WithChannelID(ctx, ch.conn.ID()), "调用失败", "request", requestName, "kind", Kind(err), "error", err)
		return errors.Wrapf(err, "invoke %s", requestName)
	}
	return nil
}

// DisposeAndStop 关闭并释放通道；可重复调用，失败只记录日志
func (s *Session) DisposeAndStop(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	ch := s.current.Swap(nil)
	defer s.setState(StateDisconnected)
	if ch == nil {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.StopTimeout)
	defer cancel()
	if err := ch.conn.Stop(stopCtx); err != nil {
		s.logger.Warn("关闭通道失败", "channel_id", ch.conn.ID(), "error", err)
		return
	}
	s.logger.Debug("通道已关闭", "channel_id", ch.conn.ID())
}

// EndReconnect 重连流程结束但未连接时，状态回到 Disconnected
func (s *Session) EndReconnect() {
	s.state.CompareAndSwap(int32(StateReconnecting), int32(StateDisconnected))
}

// handleClosed 通道断开回调；Stop 会等待它执行完毕，这里不能获取 lifecycle 锁
func (s *Session) handleClosed(ch *channel) func(error) {
	return func(err error) {
		if s.current.Load() != ch {
			return
		}

		s.publish(false)
		if err == nil {
			s.setState(StateDisconnected)
			s.logger.Info("通道已关闭", "channel_id", ch.conn.ID())
			return
		}

		s.logger.Warn("通道异常断开", "channel_id", ch.conn.ID(), "error", err)
		if s.onLost == nil {
			s.setState(StateDisconnected)
			return
		}
		s.setState(StateReconnecting)
		go s.onLost(err)
	}
}
