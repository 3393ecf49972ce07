package thrift

import (
	"encoding/binary"
	"math"

	"github.com/Sh00ty/proxyplane/internal/buffer"
)

// peekU16/peekU32/peekI32 read without consuming, for headers whose
// later bytes still need a length check before anything is drained —
// mirroring BufferHelper::peekU16/peekI32 in the reference decoder.

func peekU16(buf *buffer.Instance, offset int) (uint16, bool) {
	b := buf.Peek(offset + 2)
	if b == nil {
		return 0, false
	}
	return binary.BigEndian.Uint16(b[offset:]), true
}

func peekI8(buf *buffer.Instance, offset int) (int8, bool) {
	b := buf.Peek(offset + 1)
	if b == nil {
		return 0, false
	}
	return int8(b[offset]), true
}

func peekI16(buf *buffer.Instance, offset int) (int16, bool) {
	b := buf.Peek(offset + 2)
	if b == nil {
		return 0, false
	}
	return int16(binary.BigEndian.Uint16(b[offset:])), true
}

func peekU32(buf *buffer.Instance, offset int) (uint32, bool) {
	b := buf.Peek(offset + 4)
	if b == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[offset:]), true
}

func peekI32(buf *buffer.Instance, offset int) (int32, bool) {
	u, ok := peekU32(buf, offset)
	return int32(u), ok
}

func drainI8(buf *buffer.Instance) int8 {
	v := int8(buf.Peek(1)[0])
	buf.Drain(1)
	return v
}

func drainI16(buf *buffer.Instance) int16 {
	v := int16(binary.BigEndian.Uint16(buf.Peek(2)))
	buf.Drain(2)
	return v
}

func drainU32(buf *buffer.Instance) uint32 {
	v := binary.BigEndian.Uint32(buf.Peek(4))
	buf.Drain(4)
	return v
}

func drainI32(buf *buffer.Instance) int32 {
	return int32(drainU32(buf))
}

func drainI64(buf *buffer.Instance) int64 {
	v := int64(binary.BigEndian.Uint64(buf.Peek(8)))
	buf.Drain(8)
	return v
}

func drainDouble(buf *buffer.Instance) float64 {
	return math.Float64frombits(uint64(drainI64(buf)))
}

func writeI8(buf *buffer.Instance, v int8) {
	buf.Add([]byte{byte(v)})
}

func writeU16(buf *buffer.Instance, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Add(b[:])
}

func writeI16(buf *buffer.Instance, v int16) {
	writeU16(buf, uint16(v))
}

func writeU32(buf *buffer.Instance, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Add(b[:])
}

func writeI32(buf *buffer.Instance, v int32) {
	writeU32(buf, uint32(v))
}

func writeI64(buf *buffer.Instance, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Add(b[:])
}

func writeDouble(buf *buffer.Instance, v float64) {
	writeI64(buf, int64(math.Float64bits(v)))
}

// peekVarU64 decodes a base-128 varint (7 bits per byte, MSB is the
// continuation flag) without consuming it. size is the number of bytes
// the encoding occupies, or -1 if the buffer doesn't yet hold a
// complete varint (at most 10 bytes for a uint64).
func peekVarU64(buf *buffer.Instance, offset int) (value uint64, size int) {
	for i := 0; i < 10; i++ {
		b, ok := peekI8(buf, offset+i)
		if !ok {
			return 0, -1
		}
		value |= uint64(byte(b)&0x7f) << (7 * i)
		if byte(b)&0x80 == 0 {
			return value, i + 1
		}
	}
	return 0, -1
}

func peekZigZag32(buf *buffer.Instance, offset int) (value int32, size int) {
	u, n := peekVarU64(buf, offset)
	if n < 0 {
		return 0, -1
	}
	v := uint32(u)
	return int32(v>>1) ^ -int32(v&1), n
}

func peekZigZag64(buf *buffer.Instance, offset int) (value int64, size int) {
	u, n := peekVarU64(buf, offset)
	if n < 0 {
		return 0, -1
	}
	return int64(u>>1) ^ -int64(u&1), n
}

// peekVarI32 decodes a plain (non-zig-zag) varint as an int32, the
// encoding the compact protocol uses for string and name lengths.
func peekVarI32(buf *buffer.Instance, offset int) (value int32, size int) {
	u, n := peekVarU64(buf, offset)
	if n < 0 {
		return 0, -1
	}
	return int32(uint32(u)), n
}

func writeVarU64(buf *buffer.Instance, v uint64) {
	var tmp [10]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			tmp[n] = b | 0x80
		} else {
			tmp[n] = b
			n++
			break
		}
		n++
	}
	buf.Add(tmp[:n])
}

func writeZigZag32(buf *buffer.Instance, v int32) {
	writeVarU64(buf, uint64(uint32((v<<1)^(v>>31))))
}

func writeZigZag64(buf *buffer.Instance, v int64) {
	writeVarU64(buf, uint64((v<<1)^(v>>63)))
}
