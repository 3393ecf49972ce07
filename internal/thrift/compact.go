package thrift

import "github.com/Sh00ty/proxyplane/internal/buffer"

// CompactMagic/CompactMagicMask locate the compact protocol version
// nibble inside the first two header bytes; the message type is
// packed into the bits the mask excludes.
const (
	CompactMagic     uint16 = 0x8201
	CompactMagicMask uint16 = 0xff1f
)

// compactType is the on-wire nibble Thrift's compact protocol uses in
// place of FieldType: booleans fold their value into the type so a
// struct field never needs a second byte for true/false.
type compactType int8

const (
	compactStop      compactType = 0x00
	compactBoolTrue  compactType = 0x01
	compactBoolFalse compactType = 0x02
	compactByte      compactType = 0x03
	compactI16       compactType = 0x04
	compactI32       compactType = 0x05
	compactI64       compactType = 0x06
	compactDouble    compactType = 0x07
	compactString    compactType = 0x08
	compactList      compactType = 0x09
	compactSet       compactType = 0x0a
	compactMap       compactType = 0x0b
	compactStruct    compactType = 0x0c
)

func compactToFieldType(t compactType) (FieldType, error) {
	switch t {
	case compactStop:
		return FieldTypeStop, nil
	case compactBoolTrue, compactBoolFalse:
		return FieldTypeBool, nil
	case compactByte:
		return FieldTypeByte, nil
	case compactI16:
		return FieldTypeI16, nil
	case compactI32:
		return FieldTypeI32, nil
	case compactI64:
		return FieldTypeI64, nil
	case compactDouble:
		return FieldTypeDouble, nil
	case compactString:
		return FieldTypeString, nil
	case compactList:
		return FieldTypeList, nil
	case compactSet:
		return FieldTypeSet, nil
	case compactMap:
		return FieldTypeMap, nil
	case compactStruct:
		return FieldTypeStruct, nil
	default:
		return 0, malformed("unknown compact protocol field type %d", t)
	}
}

func fieldTypeToCompact(t FieldType) (compactType, error) {
	switch t {
	case FieldTypeBool:
		return compactBoolTrue, nil // overridden for false in WriteBool
	case FieldTypeByte:
		return compactByte, nil
	case FieldTypeI16:
		return compactI16, nil
	case FieldTypeI32:
		return compactI32, nil
	case FieldTypeI64:
		return compactI64, nil
	case FieldTypeDouble:
		return compactDouble, nil
	case FieldTypeString:
		return compactString, nil
	case FieldTypeStruct:
		return compactStruct, nil
	case FieldTypeMap:
		return compactMap, nil
	case FieldTypeSet:
		return compactSet, nil
	case FieldTypeList:
		return compactList, nil
	default:
		return 0, malformed("unknown protocol field type %d", t)
	}
}

// CompactProtocol implements the compact Thrift codec: varint lengths,
// zig-zag signed integers, and struct fields addressed by an
// id-delta-from-previous-field instead of a full field id, tracked via
// lastFieldID/fieldIDStack across nested structs.
type CompactProtocol struct {
	lastFieldID  int16
	fieldIDStack []int16
	boolValue    *bool
	boolFieldID  *int16
}

func NewCompactProtocol() *CompactProtocol { return &CompactProtocol{} }

func (CompactProtocol) Name() string { return "compact" }

var _ Protocol = (*CompactProtocol)(nil)

func (CompactProtocol) ReadMessageBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	// protocol+type+version(2) + seq id varint(>=1) + name len varint(>=1)
	if buf.Len() < 4 {
		return false, nil
	}
	version, _ := peekU16(buf, 0)
	if version&CompactMagicMask != CompactMagic {
		return false, malformed("invalid compact protocol version 0x%04x != 0x%04x", version&CompactMagicMask, CompactMagic)
	}
	msgType := MessageType((version &^ CompactMagicMask) >> 5)
	if !validMessageType(msgType) {
		return false, malformed("invalid compact protocol message type %d", int8(msgType))
	}

	seqID, idSize := peekZigZag32(buf, 2)
	if idSize < 0 {
		return false, nil
	}
	nameLen, nameLenSize := peekVarI32(buf, 2+idSize)
	if nameLenSize < 0 {
		return false, nil
	}
	if nameLen < 0 {
		return false, malformed("negative compact protocol message name length %d", nameLen)
	}
	if buf.Len() < idSize+nameLenSize+int(nameLen)+2 {
		return false, nil
	}

	buf.Drain(idSize + nameLenSize + 2)
	name := ""
	if nameLen > 0 {
		name = string(buf.Peek(int(nameLen)))
		buf.Drain(int(nameLen))
	}

	sink.MessageStart(name, msgType, seqID)
	return true, nil
}

func (CompactProtocol) ReadMessageEnd(buf *buffer.Instance, sink EventSink) (bool, error) {
	sink.MessageComplete()
	return true, nil
}

func (p *CompactProtocol) ReadStructBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	p.fieldIDStack = append(p.fieldIDStack, p.lastFieldID)
	p.lastFieldID = 0
	sink.StructBegin("")
	return true, nil
}

func (p *CompactProtocol) ReadStructEnd(buf *buffer.Instance, sink EventSink) (bool, error) {
	if len(p.fieldIDStack) == 0 {
		return false, malformed("invalid check for compact protocol struct end")
	}
	p.lastFieldID = p.fieldIDStack[len(p.fieldIDStack)-1]
	p.fieldIDStack = p.fieldIDStack[:len(p.fieldIDStack)-1]
	sink.StructEnd()
	return true, nil
}

func (p *CompactProtocol) ReadFieldBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	if buf.Len() < 1 {
		return false, nil
	}
	deltaAndType, _ := peekI8(buf, 0)
	if deltaAndType&0x0f == 0 {
		buf.Drain(1)
		sink.StructField("", FieldTypeStop, 0)
		return true, nil
	}

	var fieldID int16
	idSize := 0
	if byte(deltaAndType)>>4 == 0 {
		if buf.Len() < 2 {
			return false, nil
		}
		id, size := peekZigZag32(buf, 1)
		if size < 0 {
			return false, nil
		}
		if id < 0 || id > 32767 {
			return false, malformed("invalid compact protocol field id %d", id)
		}
		idSize = size
		fieldID = int16(id)
	} else {
		fieldID = p.lastFieldID + int16(byte(deltaAndType)>>4)
	}

	fieldType, err := compactToFieldType(compactType(deltaAndType & 0x0f))
	if err != nil {
		return false, err
	}
	if fieldType == FieldTypeBool {
		v := compactType(deltaAndType&0x0f) == compactBoolTrue
		p.boolValue = &v
	}

	p.lastFieldID = fieldID
	buf.Drain(idSize + 1)
	sink.StructField("", fieldType, fieldID)
	return true, nil
}

func (p *CompactProtocol) ReadFieldEnd(buf *buffer.Instance) (bool, error) {
	p.boolValue = nil
	return true, nil
}

func (CompactProtocol) ReadMapBegin(buf *buffer.Instance) (FieldType, FieldType, uint32, bool, error) {
	size, sizeSize := peekZigZag32(buf, 0)
	if sizeSize < 0 {
		return 0, 0, 0, false, nil
	}
	if size < 0 {
		return 0, 0, 0, false, malformed("negative compact protocol map size %d", size)
	}
	if size == 0 {
		buf.Drain(sizeSize)
		return FieldTypeStop, FieldTypeStop, 0, true, nil
	}
	if buf.Len() < sizeSize+1 {
		return 0, 0, 0, false, nil
	}
	types, _ := peekI8(buf, sizeSize)
	keyType, err := compactToFieldType(compactType(byte(types) >> 4))
	if err != nil {
		return 0, 0, 0, false, err
	}
	valueType, err := compactToFieldType(compactType(byte(types) & 0x0f))
	if err != nil {
		return 0, 0, 0, false, err
	}
	buf.Drain(sizeSize + 1)
	return keyType, valueType, uint32(size), true, nil
}

func (CompactProtocol) ReadListBegin(buf *buffer.Instance) (FieldType, uint32, bool, error) {
	if buf.Len() < 1 {
		return 0, 0, false, nil
	}
	sizeAndType, _ := peekI8(buf, 0)
	var size uint32
	sizeSize := 0
	if byte(sizeAndType)&0xf0 != 0xf0 {
		size = uint32(byte(sizeAndType) >> 4)
	} else {
		s, n := peekZigZag32(buf, 1)
		if n < 0 {
			return 0, 0, false, nil
		}
		if s < 0 {
			return 0, 0, false, malformed("negative compact protocol list/set size %d", s)
		}
		size = uint32(s)
		sizeSize = n
	}
	elemType, err := compactToFieldType(compactType(byte(sizeAndType) & 0x0f))
	if err != nil {
		return 0, 0, false, err
	}
	buf.Drain(sizeSize + 1)
	return elemType, size, true, nil
}

func (p *CompactProtocol) ReadSetBegin(buf *buffer.Instance) (FieldType, uint32, bool, error) {
	return p.ReadListBegin(buf)
}

func (p *CompactProtocol) ReadBool(buf *buffer.Instance) (bool, bool, error) {
	if p.boolValue != nil {
		return *p.boolValue, true, nil
	}
	if buf.Len() < 1 {
		return false, false, nil
	}
	return drainI8(buf) != 0, true, nil
}

func (CompactProtocol) ReadByte(buf *buffer.Instance) (byte, bool, error) {
	if buf.Len() < 1 {
		return 0, false, nil
	}
	return byte(drainI8(buf)), true, nil
}

func (CompactProtocol) ReadInt16(buf *buffer.Instance) (int16, bool, error) {
	if buf.Len() < 1 {
		return 0, false, nil
	}
	v, size := peekZigZag32(buf, 0)
	if size < 0 {
		return 0, false, nil
	}
	if v < -32768 || v > 32767 {
		return 0, false, malformed("compact protocol i16 exceeds allowable range %d", v)
	}
	buf.Drain(size)
	return int16(v), true, nil
}

func (CompactProtocol) ReadInt32(buf *buffer.Instance) (int32, bool, error) {
	if buf.Len() < 1 {
		return 0, false, nil
	}
	v, size := peekZigZag32(buf, 0)
	if size < 0 {
		return 0, false, nil
	}
	buf.Drain(size)
	return v, true, nil
}

func (CompactProtocol) ReadInt64(buf *buffer.Instance) (int64, bool, error) {
	if buf.Len() < 1 {
		return 0, false, nil
	}
	v, size := peekZigZag64(buf, 0)
	if size < 0 {
		return 0, false, nil
	}
	buf.Drain(size)
	return v, true, nil
}

func (CompactProtocol) ReadDouble(buf *buffer.Instance) (float64, bool, error) {
	if buf.Len() < 8 {
		return 0, false, nil
	}
	return drainDouble(buf), true, nil
}

func (CompactProtocol) ReadString(buf *buffer.Instance) (string, bool, error) {
	if buf.Len() < 1 {
		return "", false, nil
	}
	strLen, lenSize := peekVarI32(buf, 0)
	if lenSize < 0 {
		return "", false, nil
	}
	if strLen < 0 {
		return "", false, malformed("negative compact protocol string/binary length %d", strLen)
	}
	if strLen == 0 {
		buf.Drain(lenSize)
		return "", true, nil
	}
	if buf.Len() < int(strLen)+lenSize {
		return "", false, nil
	}
	buf.Drain(lenSize)
	s := string(buf.Peek(int(strLen)))
	buf.Drain(int(strLen))
	return s, true, nil
}

func (p *CompactProtocol) ReadBinary(buf *buffer.Instance) ([]byte, bool, error) {
	s, ok, err := p.ReadString(buf)
	return []byte(s), ok, err
}

func (CompactProtocol) WriteMessageBegin(buf *buffer.Instance, name string, msgType MessageType, seqID int32) {
	ptv := (CompactMagic & CompactMagicMask) | (uint16(msgType) << 5)
	writeU16(buf, ptv)
	writeZigZag32(buf, seqID)
	writeCompactString(buf, name)
}

func (p *CompactProtocol) WriteFieldBegin(buf *buffer.Instance, fieldType FieldType, fieldID int16) {
	if fieldType == FieldTypeStop {
		writeI8(buf, 0)
		return
	}
	if fieldType == FieldTypeBool {
		p.boolFieldID = &fieldID
		return
	}
	ct, err := fieldTypeToCompact(fieldType)
	if err != nil {
		return
	}
	p.writeFieldHeader(buf, ct, fieldID)
}

func (p *CompactProtocol) writeFieldHeader(buf *buffer.Instance, ct compactType, fieldID int16) {
	if fieldID > p.lastFieldID && fieldID-p.lastFieldID <= 15 {
		writeI8(buf, int8(fieldID-p.lastFieldID)<<4|int8(ct))
	} else {
		writeI8(buf, int8(ct))
		writeZigZag32(buf, int32(fieldID))
	}
	p.lastFieldID = fieldID
}

func (p *CompactProtocol) WriteFieldStop(buf *buffer.Instance) {
	p.WriteFieldBegin(buf, FieldTypeStop, 0)
}

func (CompactProtocol) WriteMapBegin(buf *buffer.Instance, keyType, valueType FieldType, size uint32) error {
	if err := checkSize(size); err != nil {
		return err
	}
	writeZigZag32(buf, int32(size))
	if size == 0 {
		return nil
	}
	kt, err := fieldTypeToCompact(keyType)
	if err != nil {
		return err
	}
	vt, err := fieldTypeToCompact(valueType)
	if err != nil {
		return err
	}
	writeI8(buf, int8(kt)<<4|int8(vt))
	return nil
}

func (CompactProtocol) WriteListBegin(buf *buffer.Instance, elemType FieldType, size uint32) error {
	if err := checkSize(size); err != nil {
		return err
	}
	ct, err := fieldTypeToCompact(elemType)
	if err != nil {
		return err
	}
	if size < 0xf {
		writeI8(buf, int8(size&0xf)<<4|int8(ct))
	} else {
		writeI8(buf, int8(uint8(0xf0)|uint8(ct)))
		writeZigZag32(buf, int32(size))
	}
	return nil
}

func (p *CompactProtocol) WriteSetBegin(buf *buffer.Instance, elemType FieldType, size uint32) error {
	return p.WriteListBegin(buf, elemType, size)
}

func (p *CompactProtocol) WriteBool(buf *buffer.Instance, value bool) {
	if p.boolFieldID != nil {
		ct := compactBoolFalse
		if value {
			ct = compactBoolTrue
		}
		p.writeFieldHeader(buf, ct, *p.boolFieldID)
		p.boolFieldID = nil
		return
	}
	if value {
		writeI8(buf, 1)
	} else {
		writeI8(buf, 0)
	}
}

func (CompactProtocol) WriteByte(buf *buffer.Instance, value byte)      { writeI8(buf, int8(value)) }
func (CompactProtocol) WriteInt16(buf *buffer.Instance, value int16)    { writeZigZag32(buf, int32(value)) }
func (CompactProtocol) WriteInt32(buf *buffer.Instance, value int32)    { writeZigZag32(buf, value) }
func (CompactProtocol) WriteInt64(buf *buffer.Instance, value int64)    { writeZigZag64(buf, value) }
func (CompactProtocol) WriteDouble(buf *buffer.Instance, value float64) { writeDouble(buf, value) }

func (CompactProtocol) WriteString(buf *buffer.Instance, value string) {
	writeCompactString(buf, value)
}

func (CompactProtocol) WriteBinary(buf *buffer.Instance, value []byte) {
	writeVarU64(buf, uint64(len(value)))
	buf.Add(value)
}

func writeCompactString(buf *buffer.Instance, value string) {
	writeVarU64(buf, uint64(len(value)))
	buf.Add([]byte(value))
}
