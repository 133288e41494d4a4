// pkg/websocket/message.go
package websocket

import "time"

// Message WebSocket 消息
type Message struct {
	Type      MessageType
	Data      []byte
	Timestamp time.Time
}

// NewTextMessage 创建文本消息
func NewTextMessage(data []byte) *Message {
	return &Message{Type: MessageTypeText, Data: data, Timestamp: time.Now()}
}

// NewBinaryMessage 创建二进制消息
func NewBinaryMessage(data []byte) *Message {
	return &Message{Type: MessageTypeBinary, Data: data, Timestamp: time.Now()}
}
