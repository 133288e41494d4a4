// pkg/serializer/msgpack.go
package serializer

import (
	"bytes"
	"reflect"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/valyala/bytebufferpool"
)

// msgpackHandle msgpack 编解码配置
// RawToString=true, MapType=map[string]interface{}, 时间按 msgpack 扩展类型编码
var msgpackHandle = &codec.MsgpackHandle{}

func init() {
	msgpackHandle.MapType = reflect.TypeOf(map[string]interface{}{})
	msgpackHandle.RawToString = true
	msgpackHandle.WriteExt = true
}

var bufPool bytebufferpool.Pool

// MsgPack msgpack 序列化器
type MsgPack struct{}

// NewMsgPack 创建 msgpack 序列化器
func NewMsgPack() *MsgPack {
	return &MsgPack{}
}

func (s *MsgPack) Serialize(v any) ([]byte, error) {
	return Encode(v)
}

func (s *MsgPack) Deserialize(data []byte, v any) error {
	return Decode(data, v)
}

func (s *MsgPack) Name() string { return "msgpack" }

func (s *MsgPack) Binary() bool { return true }

// Encode 使用 msgpack 编码数据
func Encode(v any) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := codec.NewEncoder(buf, msgpackHandle).Encode(v); err != nil {
		return nil, err
	}

	// buf 会被回收复用，需要复制
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

// Decode 使用 msgpack 解码数据
func Decode(data []byte, v any) error {
	return codec.NewDecoder(bytes.NewReader(data), msgpackHandle).Decode(v)
}
