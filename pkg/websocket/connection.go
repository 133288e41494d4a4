// pkg/websocket/connection.go
package websocket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lk2023060901/xdooria-interlock/pkg/logger"
)

// Connection 单条 WebSocket 连接封装
// 写操作全部经过 sendChan 串行化，控制帧除外
type Connection struct {
	id   string
	conn *websocket.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration

	sendChan chan *Message
	logger   logger.Logger

	closed     atomic.Bool
	closeChan  chan struct{}
	closeOnce  sync.Once
	closeMu    sync.Mutex
	closeError error
}

func newConnection(conn *websocket.Conn, cfg *ClientConfig, log logger.Logger) *Connection {
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		sendChan:     make(chan *Message, cfg.SendQueueSize),
		closeChan:    make(chan struct{}),
	}
	c.logger = log.WithFields("conn_id", c.id)
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return c
}

// ID 返回连接 ID
func (c *Connection) ID() string {
	return c.id
}

// IsClosed 检查连接是否已关闭
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Send 将消息放入发送队列
func (c *Connection) Send(ctx context.Context, msg *Message) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.sendChan <- msg:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	}
}

// readLoop 读取直到连接结束，返回断开原因
// 本地 Close 返回 nil；服务端正常关闭返回 nil，GoingAway 返回 ErrServerGoingAway
func (c *Connection) readLoop(onMessage func(*Message)) error {
	for {
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.IsClosed() {
				return c.CloseError()
			}
			cause := classifyReadError(err)
			c.logger.Debug("websocket read loop ended", "error", err)
			c.CloseWithError(cause)
			return cause
		}

		if onMessage != nil {
			onMessage(&Message{Type: MessageType(msgType), Data: data, Timestamp: time.Now()})
		}
	}
}

func classifyReadError(err error) error {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
		return nil
	case websocket.IsCloseError(err, websocket.CloseGoingAway):
		return ErrServerGoingAway
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ErrConnectionClosed
	default:
		return err
	}
}

// writeLoop 串行写出发送队列
func (c *Connection) writeLoop() {
	for {
		select {
		case msg := <-c.sendChan:
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.conn.WriteMessage(int(msg.Type), msg.Data); err != nil {
				c.logger.Debug("websocket write error", "error", err)
				c.CloseWithError(err)
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// Close 正常关闭连接
func (c *Connection) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError 带原因关闭连接，仅第一次调用生效
func (c *Connection) CloseWithError(err error) error {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeError = err
		c.closeMu.Unlock()
		c.closed.Store(true)
		close(c.closeChan)

		code := websocket.CloseNormalClosure
		if err != nil {
			code = websocket.CloseInternalServerErr
		}
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	})
	return nil
}

// CloseError 返回关闭原因
func (c *Connection) CloseError() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeError
}

// Ping 发送 Ping 控制帧
func (c *Connection) Ping() error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// setPongHandler 收到 Pong 时延长读超时
func (c *Connection) setPongHandler(onPong func()) {
	c.conn.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		if c.readTimeout > 0 {
			return c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		return nil
	})
}
