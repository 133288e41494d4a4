package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"
)

// 认证错误类别，使用 errors.Is 判断
var (
	// ErrDenied 身份未被授权（无所需角色或范围）
	ErrDenied = errors.New("auth: denied")
	// ErrServerFault 认证服务端故障
	ErrServerFault = errors.New("auth: server fault")
	// ErrInvalidGrant 刷新令牌无效、过期或不存在
	ErrInvalidGrant = errors.New("auth: invalid or expired grant")
	// ErrCancelled 认证被取消或超时
	ErrCancelled = errors.New("auth: cancelled")
	// ErrUnknown 其他错误
	ErrUnknown = errors.New("auth: unknown error")
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = errors.New("auth: invalid config")

// ProtocolError 授权服务返回的协议错误
type ProtocolError struct {
	Code        string
	Description string
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return "oauth error: " + e.Code
	}
	return fmt.Sprintf("oauth error: %s: %s", e.Code, e.Description)
}

// kindForCode OAuth 错误码到错误类别
func kindForCode(code string) error {
	switch code {
	case "access_denied", "unauthorized_client", "insufficient_scope":
		return ErrDenied
	case "server_error", "temporarily_unavailable":
		return ErrServerFault
	case "invalid_grant", "invalid_token", "expired_token":
		return ErrInvalidGrant
	default:
		return nil
	}
}

// classify 为错误打上类别标记，原始错误链保留
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, msg)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(wrapped, ErrCancelled)
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		if kind := kindForCode(pe.Code); kind != nil {
			return errors.Mark(wrapped, kind)
		}
		return errors.Mark(wrapped, ErrUnknown)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if kind := kindForCode(re.ErrorCode); kind != nil {
			return errors.Mark(wrapped, kind)
		}
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return errors.Mark(wrapped, ErrServerFault)
		}
	}
	return errors.Mark(wrapped, ErrUnknown)
}

// Kind 返回错误类别名称，用于日志与指标
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, ErrServerFault):
		return "server_fault"
	case errors.Is(err, ErrInvalidGrant):
		return "invalid_grant"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
