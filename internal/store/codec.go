package store

import (
	"bytes"
	"encoding/json"
)

// Codec 记录值的序列化方式，对后端透明
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

// JSONCodec 默认编码
func JSONCodec() Codec { return jsonCodec{} }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal 解到 map[string]any 时保留数字原样，避免 int64 时间戳经 float64 往返
func (jsonCodec) Unmarshal(data []byte, v any) error {
	if _, ok := v.(*map[string]any); ok {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		return dec.Decode(v)
	}
	return json.Unmarshal(data, v)
}
