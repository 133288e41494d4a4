package hub

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("hub: invalid config")
	ErrNotConnected  = errors.New("hub: not connected")
	// ErrConnDisposed Conn 已 Stop，不能再次 Start
	ErrConnDisposed = errors.New("hub: connection disposed")
	// ErrConnectionLost 调用等待期间连接断开
	ErrConnectionLost = errors.New("hub: connection lost")
)

// InvocationError 服务端执行调用失败
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("hub: invocation %s failed: %s", e.Target, e.Message)
}

// ServerCloseError 服务端带错误关闭连接
type ServerCloseError struct {
	Message string
}

func (e *ServerCloseError) Error() string {
	return "hub: server closed connection: " + e.Message
}
