package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoCodec marshals and unmarshals any google.golang.org/protobuf message.
// It is the realistic default a production caller would pick — the original
// C++ implementation this engine is modeled on only ever spoke protobuf —
// but the handler registry never assumes it; MessageCodec stays the only
// contract the dispatch path depends on.
type ProtoCodec struct{}

func (c ProtoCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protorpc/codec: %T does not implement proto.Message", v)
	}
	return proto.Marshal(msg)
}

func (c ProtoCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("protorpc/codec: %T does not implement proto.Message", v)
	}
	return proto.Unmarshal(data, msg)
}
