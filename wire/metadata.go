package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DecodeError reports that a buffer could not be fully consumed as a
// well-formed metadata map, or ran out of bytes mid-field.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode error: " + e.Reason }

// EncodeMetadata serializes a string→string map as:
//
//	count:u32 | { keyLen:u32 | key | valLen:u32 | val } * count
func EncodeMetadata(md map[string]string) []byte {
	size := 4
	for k, v := range md {
		size += 8 + len(k) + len(v)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(md)))
	offset := 4
	for k, v := range md {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(k)))
		offset += 4
		offset += copy(buf[offset:], k)
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(v)))
		offset += 4
		offset += copy(buf[offset:], v)
	}
	return buf
}

// DecodeMetadata parses a buffer produced by EncodeMetadata. The decoder
// must fully consume the buffer; any trailing bytes are a decode error.
// Duplicate keys resolve last-write-wins.
func DecodeMetadata(buf []byte) (map[string]string, error) {
	offset := 0
	need := func(n int) error {
		if offset+n > len(buf) {
			return &DecodeError{Reason: "unexpected end of buffer"}
		}
		return nil
	}

	if err := need(4); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(buf[offset : offset+4])
	offset += 4

	// count comes straight off the wire and is not yet validated against
	// len(buf); sizing the map by the raw value would let a malformed
	// frame (count near 2^32) force a multi-GB allocation before the
	// per-entry need() checks below ever run. Each entry costs at least 8
	// bytes on the wire, so that bounds the pre-size hint.
	hint := count
	if maxEntries := uint32(len(buf)-offset) / 8; hint > maxEntries {
		hint = maxEntries
	}
	md := make(map[string]string, hint)
	for i := uint32(0); i < count; i++ {
		if err := need(4); err != nil {
			return nil, err
		}
		keyLen := int(binary.BigEndian.Uint32(buf[offset : offset+4]))
		offset += 4
		if err := need(keyLen); err != nil {
			return nil, err
		}
		key := string(buf[offset : offset+keyLen])
		offset += keyLen

		if err := need(4); err != nil {
			return nil, err
		}
		valLen := int(binary.BigEndian.Uint32(buf[offset : offset+4]))
		offset += 4
		if err := need(valLen); err != nil {
			return nil, err
		}
		val := string(buf[offset : offset+valLen])
		offset += valLen

		md[key] = val
	}

	if offset != len(buf) {
		return nil, &DecodeError{Reason: fmt.Sprintf("%d trailing bytes after decoding metadata", len(buf)-offset)}
	}
	return md, nil
}

// SendMetadata wraps EncodeMetadata in a METADATA data frame.
func SendMetadata(c conn, md map[string]string, deadline time.Time) error {
	return SendData(c, METADATA, EncodeMetadata(md), deadline)
}

// RecvMetadata reads a METADATA data frame and parses it.
func RecvMetadata(c conn, deadline time.Time) (map[string]string, error) {
	buf, err := RecvData(c, METADATA, deadline)
	if err != nil {
		return nil, err
	}
	return DecodeMetadata(buf)
}
