package remote

import (
	"context"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-interlock/pkg/hub"
	"github.com/lk2023060901/xdooria-interlock/pkg/websocket"
)

// 传输错误类别，使用 errors.Is 判断
var (
	// ErrPermissionDenied 当前身份无权访问通道，重试无意义
	ErrPermissionDenied = errors.New("remote: permission denied")
	// ErrChannelDisposed 通道对象已被销毁，需要重建
	ErrChannelDisposed = errors.New("remote: channel disposed")
	// ErrUnreachable 服务端不可达
	ErrUnreachable = errors.New("remote: server unreachable")
	// ErrTransportUnknown 其他传输错误
	ErrTransportUnknown = errors.New("remote: transport error")
)

var (
	ErrNotInitialized     = errors.New("remote: session not initialized")
	ErrAlreadyInitialized = errors.New("remote: session already initialized")
	ErrNotConnected       = errors.New("remote: not connected")
)

// classify 为 hub / websocket 错误打上传输类别标记
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var he *websocket.HandshakeError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == http.StatusForbidden:
			return errors.Mark(err, ErrPermissionDenied)
		case he.StatusCode == http.StatusNotFound || he.StatusCode >= http.StatusInternalServerError:
			return errors.Mark(err, ErrUnreachable)
		default:
			return errors.Mark(err, ErrTransportUnknown)
		}
	}

	switch {
	case errors.Is(err, hub.ErrConnDisposed):
		return errors.Mark(err, ErrChannelDisposed)
	case errors.Is(err, hub.ErrNotConnected):
		return errors.Mark(err, ErrNotConnected)
	case errors.Is(err, hub.ErrConnectionLost):
		return errors.Mark(err, ErrUnreachable)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return errors.Mark(err, ErrUnreachable)
	}
	return errors.Mark(err, ErrTransportUnknown)
}

// Kind 返回错误类别名称，用于日志与指标
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrChannelDisposed):
		return "disposed"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNotInitialized):
		return "not_connected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}
