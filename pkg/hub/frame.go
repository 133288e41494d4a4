package hub

import (
	"bytes"

	"github.com/lk2023060901/xdooria-interlock/pkg/serializer"
)

// FrameType 帧类型
type FrameType int

const (
	// FrameInvocation 客户端发起的调用，带 InvocationID
	FrameInvocation FrameType = 1
	// FrameCompletion 调用结果
	FrameCompletion FrameType = 3
	// FramePush 服务端主动推送
	FramePush FrameType = 4
	// FrameClose 服务端通知关闭，可带错误
	FrameClose FrameType = 7
)

// Frame 线上帧
type Frame struct {
	Type         FrameType `codec:"type" json:"type"`
	InvocationID string    `codec:"invocationId" json:"invocationId,omitempty"`
	Target       string    `codec:"target" json:"target,omitempty"`
	Payload      []byte    `codec:"payload" json:"payload,omitempty"`
	Error        string    `codec:"error" json:"error,omitempty"`
}

var nullPayloads = [][]byte{[]byte("null"), {0xc0}}

// Payload 延迟解码的帧负载
type Payload struct {
	data  []byte
	codec serializer.Serializer
}

// NewPayload 用指定编解码器包装原始负载
func NewPayload(data []byte, codec serializer.Serializer) Payload {
	return Payload{data: data, codec: codec}
}

// IsNull 负载为空或显式 null
func (p Payload) IsNull() bool {
	if len(p.data) == 0 {
		return true
	}
	for _, n := range nullPayloads {
		if bytes.Equal(p.data, n) {
			return true
		}
	}
	return false
}

// Decode 解码到 v；null 负载不修改 v
func (p Payload) Decode(v any) error {
	if p.IsNull() {
		return nil
	}
	return p.codec.Deserialize(p.data, v)
}

