package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	channelIDKey
)

// ContextFieldExtractor 从 context 提取日志字段
type ContextFieldExtractor func(ctx context.Context) []zap.Field

// WithSessionID 在 context 中记录会话 ID
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithChannelID 在 context 中记录通道 ID
func WithChannelID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, channelIDKey, id)
}

// DefaultContextExtractor 提取 session_id 与 channel_id
func DefaultContextExtractor(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("session_id", id))
	}
	if id, ok := ctx.Value(channelIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("channel_id", id))
	}
	return fields
}
