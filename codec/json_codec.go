package codec

import "encoding/json"

// JSONCodec uses the standard library encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower than a binary codec due to reflection and string parsing.
type JSONCodec struct{}

func (c JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
