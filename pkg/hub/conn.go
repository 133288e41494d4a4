package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-interlock/pkg/config"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
	"github.com/lk2023060901/xdooria-interlock/pkg/serializer"
	"github.com/lk2023060901/xdooria-interlock/pkg/websocket"
	"github.com/panjf2000/ants/v2"
)

// State Hub 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Handler 推送处理函数，在读循环中同步执行
type Handler func(payload Payload)

// Option Conn 选项
type Option func(*Conn)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Conn) {
		c.logger = l
	}
}

// WithWorkerPool 共享 websocket 协程池
func WithWorkerPool(p *ants.Pool) Option {
	return func(c *Conn) {
		c.pool = p
	}
}

// Conn 一条 Hub 连接：命名调用 + 服务端推送
type Conn struct {
	id     string
	config *Config
	codec  serializer.Serializer
	logger logger.Logger
	pool   *ants.Pool
	client *websocket.Client

	hmu      sync.RWMutex
	handlers map[string]Handler
	onClosed func(error)

	pmu     sync.Mutex
	pending map[string]chan *Frame

	state      atomic.Int32
	stopped    atomic.Bool
	closeFrame atomic.Pointer[ServerCloseError]
}

// NewConn 创建连接对象，不会发起网络请求
func NewConn(cfg *Config, accessToken string, opts ...Option) (*Conn, error) {
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}

	codec, err := serializer.ByName(merged.Protocol)
	if err != nil {
		return nil, err
	}

	endpoint, err := merged.Endpoint(accessToken)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		id:       uuid.NewString(),
		config:   merged,
		codec:    codec,
		logger:   logger.NewNoop(),
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan *Frame),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields("channel_id", c.id)

	wsCfg := merged.WebSocket
	wsCfg.URL = endpoint
	wsOpts := []websocket.ClientOption{
		websocket.WithLogger(c.logger),
		websocket.WithHandler(websocket.HandlerFuncs{
			Message:    c.onMessage,
			Disconnect: c.onDisconnect,
		}),
	}
	if c.pool != nil {
		wsOpts = append(wsOpts, websocket.WithPool(c.pool))
	}

	client, err := websocket.NewClient(&wsCfg, wsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	c.client = client
	return c, nil
}

// ID 连接 ID
func (c *Conn) ID() string {
	return c.id
}

// State 当前状态
func (c *Conn) State() State {
	return State(c.state.Load())
}

// On 注册推送处理函数，同名覆盖
func (c *Conn) On(target string, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[target] = h
}

// OnClosed 注册连接断开回调；err 为 nil 表示本地正常 Stop 或服务端正常关闭
func (c *Conn) OnClosed(fn func(err error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.onClosed = fn
}

// Start 建立连接
func (c *Conn) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrConnDisposed
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		if c.State() == StateDisposed {
			return ErrConnDisposed
		}
		return websocket.ErrAlreadyConnected
	}

	c.closeFrame.Store(nil)
	if err := c.client.Connect(ctx); err != nil {
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected))
		if errors.Is(err, websocket.ErrClientClosed) {
			return ErrConnDisposed
		}
		return err
	}

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return ErrConnDisposed
	}
	c.logger.Debug("hub connected", "protocol", c.codec.Name())
	return nil
}

// Stop 关闭连接并等待断开回调执行完毕，之后不可再 Start
func (c *Conn) Stop(ctx context.Context) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.client.Close()
	}()

	select {
	case <-done:
		c.state.Store(int32(StateDisposed))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke 调用服务端方法并等待结果
// result 为 nil 时忽略返回值；服务端返回 null 时 result 保持不变
func (c *Conn) Invoke(ctx context.Context, target string, arg any, result any) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	payload, err := c.codec.Serialize(arg)
	if err != nil {
		return fmt.Errorf("failed to encode %s argument: %w", target, err)
	}

	if _, ok := ctx.Deadline(); !ok && c.config.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.InvokeTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	ch := make(chan *Frame, 1)
	c.pmu.Lock()
	c.pending[id] = ch
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	if err := c.send(ctx, &Frame{Type: FrameInvocation, InvocationID: id, Target: target, Payload: payload}); err != nil {
		return err
	}

	select {
	case frame, ok := <-ch:
		if !ok || frame == nil {
			return ErrConnectionLost
		}
		if frame.Error != "" {
			c.logger.DebugContext(ctx, "invocation completed with error", "target", target, "invocation_id", id, "error", frame.Error)
			return &InvocationError{Target: target, Message: frame.Error}
		}
		if result == nil {
			return nil
		}
		if err := NewPayload(frame.Payload, c.codec).Decode(result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", target, err)
		}
		return nil
	case <-ctx.Done():
		c.logger.DebugContext(ctx, "invocation abandoned", "target", target, "invocation_id", id, "error", ctx.Err())
		return ctx.Err()
	}
}

func (c *Conn) send(ctx context.Context, f *Frame) error {
	data, err := c.codec.Serialize(f)
	if err != nil {
		return err
	}
	msg := websocket.NewTextMessage(data)
	if c.codec.Binary() {
		msg = websocket.NewBinaryMessage(data)
	}
	if err := c.client.Send(ctx, msg); err != nil {
		if errors.Is(err, websocket.ErrNotConnected) || errors.Is(err, websocket.ErrConnectionClosed) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

func (c *Conn) onMessage(msg *websocket.Message) {
	var f Frame
	if err := c.codec.Deserialize(msg.Data, &f); err != nil {
		c.logger.Warn("hub frame decode failed", "error", err, "size", len(msg.Data))
		return
	}

	switch f.Type {
	case FrameCompletion:
		c.pmu.Lock()
		ch, ok := c.pending[f.InvocationID]
		delete(c.pending, f.InvocationID)
		c.pmu.Unlock()
		if !ok {
			c.logger.Debug("hub completion without pending invocation", "invocation_id", f.InvocationID)
			return
		}
		ch <- &f
	case FramePush, FrameInvocation:
		c.dispatch(f.Target, NewPayload(f.Payload, c.codec))
	case FrameClose:
		if f.Error != "" {
			c.closeFrame.Store(&ServerCloseError{Message: f.Error})
		}
	default:
		c.logger.Debug("hub frame ignored", "type", f.Type)
	}
}

func (c *Conn) dispatch(target string, payload Payload) {
	c.hmu.RLock()
	h, ok := c.handlers[target]
	c.hmu.RUnlock()
	if !ok {
		c.logger.Debug("hub push without handler", "target", target)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("hub push handler panic", "target", target, "panic", r)
		}
	}()
	h(payload)
}

func (c *Conn) onDisconnect(cause error) {
	if c.stopped.Load() {
		cause = nil
	} else if cause == nil {
		if ce := c.closeFrame.Load(); ce != nil {
			cause = ce
		}
	}
	if !c.stopped.Load() {
		c.state.Store(int32(StateDisconnected))
	}

	// 唤醒所有等待中的调用
	c.pmu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pmu.Unlock()

	c.hmu.RLock()
	fn := c.onClosed
	c.hmu.RUnlock()
	if fn != nil {
		fn(cause)
	}
}
