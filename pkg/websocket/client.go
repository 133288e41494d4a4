// pkg/websocket/client.go
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
	"github.com/panjf2000/ants/v2"
)

// Handler 客户端事件处理器
// OnDisconnect 对每条连接只调用一次；err 为 nil 表示正常关闭
type Handler interface {
	OnMessage(msg *Message)
	OnDisconnect(err error)
}

// HandlerFuncs 以函数形式实现 Handler
type HandlerFuncs struct {
	Message    func(msg *Message)
	Disconnect func(err error)
}

func (h HandlerFuncs) OnMessage(msg *Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h HandlerFuncs) OnDisconnect(err error) {
	if h.Disconnect != nil {
		h.Disconnect(err)
	}
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithLogger 设置日志
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithHandler 设置事件处理器
func WithHandler(h Handler) ClientOption {
	return func(c *Client) {
		c.handler = h
	}
}

// WithPool 使用外部协程池，Close 时不会释放
func WithPool(p *ants.Pool) ClientOption {
	return func(c *Client) {
		c.pool = p
	}
}

// Client WebSocket 客户端
// 一个 Client 可多次 Connect（上一条连接断开后），Close 之后不可再用
type Client struct {
	config  *ClientConfig
	logger  logger.Logger
	dialer  *websocket.Dialer
	handler Handler

	pool    *ants.Pool
	ownPool bool

	connMu    sync.RWMutex
	conn      *Connection
	heartbeat *HeartbeatManager
	loops     sync.WaitGroup

	mu        sync.RWMutex
	state     ConnectionState
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewClient 创建客户端
func NewClient(cfg *ClientConfig, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:  cfg,
		logger:  logger.NewNoop(),
		handler: HandlerFuncs{},
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.pool == nil {
		pool, err := ants.NewPool(cfg.PoolSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket worker pool: %w", err)
		}
		c.pool = pool
		c.ownPool = true
	}

	c.dialer = &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  cfg.DialTimeout,
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.EnableCompression,
	}
	return c, nil
}

// Connect 建立连接并启动读写循环
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	// 等待上一条连接的循环全部退出
	c.loops.Wait()

	if err := c.connect(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	header := make(http.Header, len(c.config.Headers))
	for k, v := range c.config.Headers {
		header.Set(k, v)
	}

	wsConn, resp, err := c.dialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			return &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return err
	}

	conn := newConnection(wsConn, c.config, c.logger)

	c.connMu.Lock()
	if c.closed.Load() {
		c.connMu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	var hb *HeartbeatManager
	if c.config.Heartbeat.Enable {
		hb = NewHeartbeatManager(&c.config.Heartbeat, conn, c.logger, func() {
			conn.CloseWithError(ErrHeartbeatTimeout)
		})
		conn.setPongHandler(hb.OnPong)
	}
	c.heartbeat = hb

	tasks := []func(){
		conn.writeLoop,
		func() { c.readLoop(conn) },
	}
	if hb != nil {
		tasks = append(tasks, hb.run)
	}
	// 在锁内登记，保证并发的 Close 能等到这些循环
	c.loops.Add(len(tasks))
	c.connMu.Unlock()

	c.setState(StateConnected)
	c.logger.Debug("websocket connected", "url", c.config.URL, "conn_id", conn.ID())

	for i, task := range tasks {
		task := task
		if err := c.pool.Submit(func() {
			defer c.loops.Done()
			task()
		}); err != nil {
			c.loops.Add(-(len(tasks) - i))
			conn.CloseWithError(err)
			return fmt.Errorf("failed to start websocket loop: %w", err)
		}
	}
	return nil
}

func (c *Client) readLoop(conn *Connection) {
	cause := conn.readLoop(c.handler.OnMessage)
	c.handleDisconnect(conn, cause)
}

// handleDisconnect 清理连接状态并通知处理器
func (c *Client) handleDisconnect(conn *Connection, cause error) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.heartbeat != nil {
			c.heartbeat.Stop()
			c.heartbeat = nil
		}
	}
	c.connMu.Unlock()

	if c.closed.Load() {
		cause = nil
		c.setState(StateClosed)
	} else {
		c.setState(StateDisconnected)
	}

	if cause != nil {
		c.logger.Warn("websocket disconnected", "error", cause, "conn_id", conn.ID())
	} else {
		c.logger.Debug("websocket disconnected", "conn_id", conn.ID())
	}
	c.handler.OnDisconnect(cause)
}

// Send 发送消息
func (c *Client) Send(ctx context.Context, msg *Message) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, msg)
}

// State 获取连接状态
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// IsConnected 检查是否已连接
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Close 关闭客户端，等待读写循环与断开回调完成
// 不能在 Handler 回调中调用
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn != nil {
			conn.Close()
		}

		c.loops.Wait()
		c.setState(StateClosed)

		if c.ownPool {
			c.pool.Release()
		}
	})
	return nil
}
