// pkg/websocket/errors.go
package websocket

import (
	"errors"
	"fmt"
)

var (
	// 配置错误
	ErrInvalidConfig = errors.New("websocket: invalid config")
	ErrInvalidURL    = errors.New("websocket: invalid url")

	// 连接错误
	ErrClientClosed     = errors.New("websocket: client closed")
	ErrConnectionClosed = errors.New("websocket: connection closed")
	ErrAlreadyConnected = errors.New("websocket: already connected")
	ErrNotConnected     = errors.New("websocket: not connected")
	ErrServerGoingAway  = errors.New("websocket: server going away")

	// 发送错误
	ErrSendQueueFull = errors.New("websocket: send queue full")

	// 心跳错误
	ErrHeartbeatTimeout = errors.New("websocket: heartbeat timeout")
)

// HandshakeError 握手阶段服务端返回了非 101 状态码
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket: handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
