// Package codec provides the abstract payload serializer the RPC engine
// treats as an opaque collaborator: the engine never parses a request or
// response body itself, only routes raw bytes around a type-name string
// supplied by the codec.
package codec

// MessageCodec marshals and unmarshals a request or response value to and
// from the bytes carried in a REQ or RESP data frame.
type MessageCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
