package serializer

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownSerializer 未注册的序列化器名称
	ErrUnknownSerializer = errors.New("serializer: unknown serializer")
)

// Serializer 序列化器接口
type Serializer interface {
	// Serialize 序列化
	Serialize(v any) ([]byte, error)
	// Deserialize 反序列化
	Deserialize(data []byte, v any) error
	// Name 协议名称，用于连接协商（json / msgpack）
	Name() string
	// Binary 是否为二进制格式
	Binary() bool
}

// JSON JSON 序列化器
type JSON struct{}

// NewJSON 创建 JSON 序列化器
func NewJSON() *JSON {
	return &JSON{}
}

func (s *JSON) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *JSON) Deserialize(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (s *JSON) Name() string { return "json" }

func (s *JSON) Binary() bool { return false }

// ByName 按协议名称获取序列化器
func ByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return NewJSON(), nil
	case "msgpack":
		return NewMsgPack(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, name)
	}
}

// Default 默认序列化器
func Default() Serializer {
	return NewJSON()
}
