package thrift

import "github.com/Sh00ty/proxyplane/internal/buffer"

// BinaryMagic is the strict binary protocol's version-and-type marker:
// the top bit flags "versioned", the low 15 bits are the version
// number (currently 1).
const BinaryMagic uint16 = 0x8001

// BinaryProtocol is the strict binary codec: message header is
// `int16 magic | int8 unused | int8 msg_type | int32 name_len | name | int32 seq_id`.
type BinaryProtocol struct{}

func NewBinaryProtocol() *BinaryProtocol { return &BinaryProtocol{} }

func (BinaryProtocol) Name() string { return "binary" }

var _ Protocol = (*BinaryProtocol)(nil)

func (BinaryProtocol) ReadMessageBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	// version(2) + unused(1) + msg_type(1) + name_len(4) + seq_id(4) = 12
	if buf.Len() < 12 {
		return false, nil
	}
	version, _ := peekU16(buf, 0)
	if version != BinaryMagic {
		return false, malformed("invalid binary protocol version 0x%04x != 0x%04x", version, BinaryMagic)
	}
	typeByte, _ := peekI8(buf, 3)
	msgType := MessageType(typeByte)
	if !validMessageType(msgType) {
		return false, malformed("invalid binary protocol message type %d", typeByte)
	}
	nameLen, _ := peekU32(buf, 4)
	if buf.Len() < int(nameLen)+12 {
		return false, nil
	}

	buf.Drain(8)
	name := ""
	if nameLen > 0 {
		name = string(buf.Peek(int(nameLen)))
		buf.Drain(int(nameLen))
	}
	seqID := drainI32(buf)

	sink.MessageStart(name, msgType, seqID)
	return true, nil
}

func (BinaryProtocol) ReadMessageEnd(buf *buffer.Instance, sink EventSink) (bool, error) {
	sink.MessageComplete()
	return true, nil
}

func (BinaryProtocol) ReadStructBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	sink.StructBegin("")
	return true, nil
}

func (BinaryProtocol) ReadStructEnd(buf *buffer.Instance, sink EventSink) (bool, error) {
	sink.StructEnd()
	return true, nil
}

func (BinaryProtocol) ReadFieldBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	if buf.Len() < 1 {
		return false, nil
	}
	typeByte, _ := peekI8(buf, 0)
	fieldType := FieldType(typeByte)
	if fieldType == FieldTypeStop {
		buf.Drain(1)
		sink.StructField("", fieldType, 0)
		return true, nil
	}
	if buf.Len() < 3 {
		return false, nil
	}
	id, _ := peekI16(buf, 1)
	if id < 0 {
		return false, malformed("invalid binary protocol field id %d", id)
	}
	buf.Drain(3)
	sink.StructField("", fieldType, id)
	return true, nil
}

func (BinaryProtocol) ReadFieldEnd(buf *buffer.Instance) (bool, error) { return true, nil }

func (BinaryProtocol) ReadMapBegin(buf *buffer.Instance) (FieldType, FieldType, uint32, bool, error) {
	if buf.Len() < 6 {
		return 0, 0, 0, false, nil
	}
	kt, _ := peekI8(buf, 0)
	vt, _ := peekI8(buf, 1)
	s, _ := peekI32(buf, 2)
	if s < 0 {
		return 0, 0, 0, false, malformed("negative binary protocol map size %d", s)
	}
	buf.Drain(6)
	return FieldType(kt), FieldType(vt), uint32(s), true, nil
}

func (BinaryProtocol) ReadListBegin(buf *buffer.Instance) (FieldType, uint32, bool, error) {
	if buf.Len() < 5 {
		return 0, 0, false, nil
	}
	et, _ := peekI8(buf, 0)
	s, _ := peekI32(buf, 1)
	if s < 0 {
		return 0, 0, false, malformed("negative binary protocol list/set size %d", s)
	}
	buf.Drain(5)
	return FieldType(et), uint32(s), true, nil
}

func (p BinaryProtocol) ReadSetBegin(buf *buffer.Instance) (FieldType, uint32, bool, error) {
	return p.ReadListBegin(buf)
}

func (BinaryProtocol) ReadBool(buf *buffer.Instance) (bool, bool, error) {
	if buf.Len() < 1 {
		return false, false, nil
	}
	return drainI8(buf) != 0, true, nil
}

func (BinaryProtocol) ReadByte(buf *buffer.Instance) (byte, bool, error) {
	if buf.Len() < 1 {
		return 0, false, nil
	}
	return byte(drainI8(buf)), true, nil
}

func (BinaryProtocol) ReadInt16(buf *buffer.Instance) (int16, bool, error) {
	if buf.Len() < 2 {
		return 0, false, nil
	}
	return drainI16(buf), true, nil
}

func (BinaryProtocol) ReadInt32(buf *buffer.Instance) (int32, bool, error) {
	if buf.Len() < 4 {
		return 0, false, nil
	}
	return drainI32(buf), true, nil
}

func (BinaryProtocol) ReadInt64(buf *buffer.Instance) (int64, bool, error) {
	if buf.Len() < 8 {
		return 0, false, nil
	}
	return drainI64(buf), true, nil
}

func (BinaryProtocol) ReadDouble(buf *buffer.Instance) (float64, bool, error) {
	if buf.Len() < 8 {
		return 0, false, nil
	}
	return drainDouble(buf), true, nil
}

func (BinaryProtocol) ReadString(buf *buffer.Instance) (string, bool, error) {
	if buf.Len() < 4 {
		return "", false, nil
	}
	strLen, _ := peekI32(buf, 0)
	if strLen < 0 {
		return "", false, malformed("negative binary protocol string/binary length %d", strLen)
	}
	if strLen == 0 {
		buf.Drain(4)
		return "", true, nil
	}
	if buf.Len() < int(strLen)+4 {
		return "", false, nil
	}
	buf.Drain(4)
	s := string(buf.Peek(int(strLen)))
	buf.Drain(int(strLen))
	return s, true, nil
}

func (p BinaryProtocol) ReadBinary(buf *buffer.Instance) ([]byte, bool, error) {
	s, ok, err := p.ReadString(buf)
	return []byte(s), ok, err
}

func (BinaryProtocol) WriteMessageBegin(buf *buffer.Instance, name string, msgType MessageType, seqID int32) {
	writeU16(buf, BinaryMagic)
	writeU16(buf, uint16(msgType))
	writeBinaryString(buf, name)
	writeI32(buf, seqID)
}

func (BinaryProtocol) WriteFieldBegin(buf *buffer.Instance, fieldType FieldType, fieldID int16) {
	writeI8(buf, int8(fieldType))
	if fieldType == FieldTypeStop {
		return
	}
	writeI16(buf, fieldID)
}

func (p BinaryProtocol) WriteFieldStop(buf *buffer.Instance) {
	p.WriteFieldBegin(buf, FieldTypeStop, 0)
}

func (BinaryProtocol) WriteMapBegin(buf *buffer.Instance, keyType, valueType FieldType, size uint32) error {
	if err := checkSize(size); err != nil {
		return err
	}
	writeI8(buf, int8(keyType))
	writeI8(buf, int8(valueType))
	writeI32(buf, int32(size))
	return nil
}

func (BinaryProtocol) WriteListBegin(buf *buffer.Instance, elemType FieldType, size uint32) error {
	if err := checkSize(size); err != nil {
		return err
	}
	writeI8(buf, int8(elemType))
	writeI32(buf, int32(size))
	return nil
}

func (p BinaryProtocol) WriteSetBegin(buf *buffer.Instance, elemType FieldType, size uint32) error {
	return p.WriteListBegin(buf, elemType, size)
}

func (BinaryProtocol) WriteBool(buf *buffer.Instance, value bool) {
	if value {
		writeI8(buf, 1)
	} else {
		writeI8(buf, 0)
	}
}

func (BinaryProtocol) WriteByte(buf *buffer.Instance, value byte)      { writeI8(buf, int8(value)) }
func (BinaryProtocol) WriteInt16(buf *buffer.Instance, value int16)    { writeI16(buf, value) }
func (BinaryProtocol) WriteInt32(buf *buffer.Instance, value int32)    { writeI32(buf, value) }
func (BinaryProtocol) WriteInt64(buf *buffer.Instance, value int64)    { writeI64(buf, value) }
func (BinaryProtocol) WriteDouble(buf *buffer.Instance, value float64) { writeDouble(buf, value) }

func (BinaryProtocol) WriteString(buf *buffer.Instance, value string) {
	writeBinaryString(buf, value)
}

func (BinaryProtocol) WriteBinary(buf *buffer.Instance, value []byte) {
	writeU32(buf, uint32(len(value)))
	buf.Add(value)
}

func writeBinaryString(buf *buffer.Instance, value string) {
	writeU32(buf, uint32(len(value)))
	buf.Add([]byte(value))
}

// LaxBinaryProtocol is the non-strict binary codec: message header is
// `int32 name_len | name | int8 msg_type | int32 seq_id`, with no magic
// version check. Everything else is identical to BinaryProtocol.
type LaxBinaryProtocol struct {
	BinaryProtocol
}

func NewLaxBinaryProtocol() *LaxBinaryProtocol { return &LaxBinaryProtocol{} }

func (LaxBinaryProtocol) Name() string { return "binary(lax)" }

var _ Protocol = (*LaxBinaryProtocol)(nil)

func (LaxBinaryProtocol) ReadMessageBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	// name_len(4) + msg_type(1) + seq_id(4) = 9
	if buf.Len() < 9 {
		return false, nil
	}
	nameLen, _ := peekU32(buf, 0)
	if buf.Len() < int(nameLen)+9 {
		return false, nil
	}
	typeByte, _ := peekI8(buf, int(nameLen)+4)
	msgType := MessageType(typeByte)
	if !validMessageType(msgType) {
		return false, malformed("invalid (lax) binary protocol message type %d", typeByte)
	}

	buf.Drain(4)
	name := ""
	if nameLen > 0 {
		name = string(buf.Peek(int(nameLen)))
		buf.Drain(int(nameLen))
	}
	seqID, _ := peekI32(buf, 1)
	buf.Drain(5)

	sink.MessageStart(name, msgType, seqID)
	return true, nil
}

func (LaxBinaryProtocol) WriteMessageBegin(buf *buffer.Instance, name string, msgType MessageType, seqID int32) {
	writeBinaryString(buf, name)
	writeI8(buf, int8(msgType))
	writeI32(buf, seqID)
}
