// Package usppb hand-encodes the USP Record and Message wire shapes (TR-369)
// using the raw protobuf wire primitives in google.golang.org/protobuf
// (encoding/protowire). Full reflection-backed codegen from the .proto
// schema is out of scope (spec.md Non-goals: "wire-level encoding of
// protobuf frames ... delegated to libraries, assumed available"); this
// package supplies the minimum field shapes the dispatcher and MTPs need
// to drive Get/Set/Add/Delete/Operate/Notify/GetSupportedDM/
// GetSupportedProtocol/GetInstances.
package usppb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	if msg == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// field is a decoded (number, wiretype, raw-bytes-or-value) tuple used by
// the per-message Unmarshal loops below.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	bytes []byte
	vint  uint64
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("usppb: malformed tag")
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("usppb: malformed bytes field %d", num)
			}
			out = append(out, field{num: num, typ: typ, bytes: v})
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("usppb: malformed varint field %d", num)
			}
			out = append(out, field{num: num, typ: typ, vint: v})
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("usppb: malformed field %d", num)
			}
			b = b[n:]
		}
	}
	return out, nil
}
