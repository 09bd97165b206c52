package meshproto

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrInvalidProtobuf marks payloads the wire walker cannot decode. Callers
// drop the payload; nothing is partially applied.
var ErrInvalidProtobuf = errors.New("invalid protobuf data")

const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

// walkFields iterates top-level protobuf fields. Varint and fixed fields are
// delivered through val, length-delimited fields through data.
func walkFields(buf []byte, fn func(fieldNum int, wireType int, val uint64, data []byte) error) error {
	pos := 0
	for pos < len(buf) {
		tag, n := decodeVarint(buf[pos:])
		if n == 0 {
			return ErrInvalidProtobuf
		}
		pos += n
		fieldNum := int(tag >> 3)
		wireType := int(tag & 0x07)
		if fieldNum == 0 {
			return ErrInvalidProtobuf
		}

		switch wireType {
		case wireVarint:
			val, n := decodeVarint(buf[pos:])
			if n == 0 {
				return ErrInvalidProtobuf
			}
			pos += n
			if err := fn(fieldNum, wireType, val, nil); err != nil {
				return err
			}
		case wireFixed64:
			if pos+8 > len(buf) {
				return ErrInvalidProtobuf
			}
			val := binary.LittleEndian.Uint64(buf[pos : pos+8])
			pos += 8
			if err := fn(fieldNum, wireType, val, nil); err != nil {
				return err
			}
		case wireBytes:
			length, n := decodeVarint(buf[pos:])
			if n == 0 {
				return ErrInvalidProtobuf
			}
			pos += n
			if length > uint64(len(buf)-pos) {
				return ErrInvalidProtobuf
			}
			data := buf[pos : pos+int(length)]
			pos += int(length)
			if err := fn(fieldNum, wireType, 0, data); err != nil {
				return err
			}
		case wireFixed32:
			if pos+4 > len(buf) {
				return ErrInvalidProtobuf
			}
			val := uint64(binary.LittleEndian.Uint32(buf[pos : pos+4]))
			pos += 4
			if err := fn(fieldNum, wireType, val, nil); err != nil {
				return err
			}
		default:
			return ErrInvalidProtobuf
		}
	}

	return nil
}

func decodeVarint(data []byte) (uint64, int) {
	var val uint64
	var shift uint
	for i, b := range data {
		if shift >= 64 {
			return 0, 0
		}
		val |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return val, i + 1
		}
		shift += 7
	}

	return 0, 0
}

// packedUint32s decodes a packed repeated fixed32/varint field, accepting
// either scalar layout since firmware versions differ.
func packedFixed32s(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, ErrInvalidProtobuf
	}
	out := make([]uint32, 0, len(data)/4)
	for pos := 0; pos < len(data); pos += 4 {
		out = append(out, binary.LittleEndian.Uint32(data[pos:pos+4]))
	}

	return out, nil
}

func packedVarints(data []byte) ([]uint64, error) {
	var out []uint64
	pos := 0
	for pos < len(data) {
		val, n := decodeVarint(data[pos:])
		if n == 0 {
			return nil, ErrInvalidProtobuf
		}
		out = append(out, val)
		pos += n
	}

	return out, nil
}

// Encoding helpers. All appenders grow and return buf.

func appendVarint(buf []byte, val uint64) []byte {
	for val >= 0x80 {
		buf = append(buf, byte(val)|0x80)
		val >>= 7
	}

	return append(buf, byte(val))
}

func appendTag(buf []byte, fieldNum, wireType int) []byte {
	return appendVarint(buf, uint64(fieldNum)<<3|uint64(wireType))
}

func appendUint32Field(buf []byte, fieldNum int, val uint32) []byte {
	if val == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireVarint)

	return appendVarint(buf, uint64(val))
}

// appendInt32Field encodes a signed int32 as a standard (non-zigzag) varint,
// sign-extended to 64 bits as protobuf requires.
func appendInt32Field(buf []byte, fieldNum int, val int32) []byte {
	if val == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireVarint)

	return appendVarint(buf, uint64(int64(val)))
}

func appendBoolField(buf []byte, fieldNum int, val bool) []byte {
	if !val {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireVarint)

	return append(buf, 1)
}

func appendFixed32Field(buf []byte, fieldNum int, val uint32) []byte {
	if val == 0 {
		return buf
	}

	return appendFixed32FieldAlways(buf, fieldNum, val)
}

func appendFixed32FieldAlways(buf []byte, fieldNum int, val uint32) []byte {
	buf = appendTag(buf, fieldNum, wireFixed32)

	return binary.LittleEndian.AppendUint32(buf, val)
}

func appendSfixed32Field(buf []byte, fieldNum int, val int32) []byte {
	return appendFixed32FieldAlways(buf, fieldNum, uint32(val))
}

func appendFloatField(buf []byte, fieldNum int, val float32) []byte {
	if val == 0 {
		return buf
	}

	return appendFixed32FieldAlways(buf, fieldNum, math.Float32bits(val))
}

func appendBytesField(buf []byte, fieldNum int, data []byte) []byte {
	if len(data) == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireBytes)
	buf = appendVarint(buf, uint64(len(data)))

	return append(buf, data...)
}

func appendStringField(buf []byte, fieldNum int, s string) []byte {
	if s == "" {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireBytes)
	buf = appendVarint(buf, uint64(len(s)))

	return append(buf, s...)
}

func appendMessageField(buf []byte, fieldNum int, msg []byte) []byte {
	buf = appendTag(buf, fieldNum, wireBytes)
	buf = appendVarint(buf, uint64(len(msg)))

	return append(buf, msg...)
}

func appendPackedFixed32(buf []byte, fieldNum int, vals []uint32) []byte {
	if len(vals) == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireBytes)
	buf = appendVarint(buf, uint64(len(vals)*4))
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}

	return buf
}

func appendPackedInt32(buf []byte, fieldNum int, vals []int32) []byte {
	if len(vals) == 0 {
		return buf
	}
	var body []byte
	for _, v := range vals {
		body = appendVarint(body, uint64(int64(v)))
	}
	buf = appendTag(buf, fieldNum, wireBytes)
	buf = appendVarint(buf, uint64(len(body)))

	return append(buf, body...)
}
