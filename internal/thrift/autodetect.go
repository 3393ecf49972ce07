package thrift

import "github.com/Sh00ty/proxyplane/internal/buffer"

// AutoProtocol sniffs the first message's header to decide which
// concrete wire format a connection is speaking, then delegates every
// subsequent call to that instance for the lifetime of the decoder —
// Thrift connections don't mix protocols mid-stream.
type AutoProtocol struct {
	resolved Protocol
}

func NewAutoProtocol() *AutoProtocol { return &AutoProtocol{} }

var _ Protocol = (*AutoProtocol)(nil)

func (p *AutoProtocol) Name() string {
	if p.resolved == nil {
		return "auto"
	}
	return p.resolved.Name() + "(auto)"
}

// detect peeks the first two header bytes without consuming anything
// and picks strict binary, compact, or lax binary as a fallback.
func (p *AutoProtocol) detect(buf *buffer.Instance) (Protocol, bool) {
	if p.resolved != nil {
		return p.resolved, true
	}
	version, ok := peekU16(buf, 0)
	if !ok {
		return nil, false
	}
	switch {
	case version == BinaryMagic:
		p.resolved = NewBinaryProtocol()
	case version&CompactMagicMask == CompactMagic:
		p.resolved = NewCompactProtocol()
	default:
		p.resolved = NewLaxBinaryProtocol()
	}
	return p.resolved, true
}

func (p *AutoProtocol) ReadMessageBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	proto, ok := p.detect(buf)
	if !ok {
		return false, nil
	}
	return proto.ReadMessageBegin(buf, sink)
}

func (p *AutoProtocol) active() Protocol {
	if p.resolved == nil {
		// Only message-begin ever needs to detect; everything else is only
		// ever called after a successful ReadMessageBegin resolved a protocol.
		return NewBinaryProtocol()
	}
	return p.resolved
}

func (p *AutoProtocol) ReadMessageEnd(buf *buffer.Instance, sink EventSink) (bool, error) {
	return p.active().ReadMessageEnd(buf, sink)
}
func (p *AutoProtocol) ReadStructBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	return p.active().ReadStructBegin(buf, sink)
}
func (p *AutoProtocol) ReadStructEnd(buf *buffer.Instance, sink EventSink) (bool, error) {
	return p.active().ReadStructEnd(buf, sink)
}
func (p *AutoProtocol) ReadFieldBegin(buf *buffer.Instance, sink EventSink) (bool, error) {
	return p.active().ReadFieldBegin(buf, sink)
}
func (p *AutoProtocol) ReadFieldEnd(buf *buffer.Instance) (bool, error) {
	return p.active().ReadFieldEnd(buf)
}
func (p *AutoProtocol) ReadMapBegin(buf *buffer.Instance) (FieldType, FieldType, uint32, bool, error) {
	return p.active().ReadMapBegin(buf)
}
func (p *AutoProtocol) ReadListBegin(buf *buffer.Instance) (FieldType, uint32, bool, error) {
	return p.active().ReadListBegin(buf)
}
func (p *AutoProtocol) ReadSetBegin(buf *buffer.Instance) (FieldType, uint32, bool, error) {
	return p.active().ReadSetBegin(buf)
}
func (p *AutoProtocol) ReadBool(buf *buffer.Instance) (bool, bool, error) {
	return p.active().ReadBool(buf)
}
func (p *AutoProtocol) ReadByte(buf *buffer.Instance) (byte, bool, error) {
	return p.active().ReadByte(buf)
}
func (p *AutoProtocol) ReadInt16(buf *buffer.Instance) (int16, bool, error) {
	return p.active().ReadInt16(buf)
}
func (p *AutoProtocol) ReadInt32(buf *buffer.Instance) (int32, bool, error) {
	return p.active().ReadInt32(buf)
}
func (p *AutoProtocol) ReadInt64(buf *buffer.Instance) (int64, bool, error) {
	return p.active().ReadInt64(buf)
}
func (p *AutoProtocol) ReadDouble(buf *buffer.Instance) (float64, bool, error) {
	return p.active().ReadDouble(buf)
}
func (p *AutoProtocol) ReadString(buf *buffer.Instance) (string, bool, error) {
	return p.active().ReadString(buf)
}
func (p *AutoProtocol) ReadBinary(buf *buffer.Instance) ([]byte, bool, error) {
	return p.active().ReadBinary(buf)
}

func (p *AutoProtocol) WriteMessageBegin(buf *buffer.Instance, name string, msgType MessageType, seqID int32) {
	p.active().WriteMessageBegin(buf, name, msgType, seqID)
}
func (p *AutoProtocol) WriteFieldBegin(buf *buffer.Instance, fieldType FieldType, fieldID int16) {
	p.active().WriteFieldBegin(buf, fieldType, fieldID)
}
func (p *AutoProtocol) WriteFieldStop(buf *buffer.Instance) { p.active().WriteFieldStop(buf) }
func (p *AutoProtocol) WriteMapBegin(buf *buffer.Instance, keyType, valueType FieldType, size uint32) error {
	return p.active().WriteMapBegin(buf, keyType, valueType, size)
}
func (p *AutoProtocol) WriteListBegin(buf *buffer.Instance, elemType FieldType, size uint32) error {
	return p.active().WriteListBegin(buf, elemType, size)
}
func (p *AutoProtocol) WriteSetBegin(buf *buffer.Instance, elemType FieldType, size uint32) error {
	return p.active().WriteSetBegin(buf, elemType, size)
}
func (p *AutoProtocol) WriteBool(buf *buffer.Instance, value bool) { p.active().WriteBool(buf, value) }
func (p *AutoProtocol) WriteByte(buf *buffer.Instance, value byte) { p.active().WriteByte(buf, value) }
func (p *AutoProtocol) WriteInt16(buf *buffer.Instance, value int16) {
	p.active().WriteInt16(buf, value)
}
func (p *AutoProtocol) WriteInt32(buf *buffer.Instance, value int32) {
	p.active().WriteInt32(buf, value)
}
func (p *AutoProtocol) WriteInt64(buf *buffer.Instance, value int64) {
	p.active().WriteInt64(buf, value)
}
func (p *AutoProtocol) WriteDouble(buf *buffer.Instance, value float64) {
	p.active().WriteDouble(buf, value)
}
func (p *AutoProtocol) WriteString(buf *buffer.Instance, value string) {
	p.active().WriteString(buf, value)
}
func (p *AutoProtocol) WriteBinary(buf *buffer.Instance, value []byte) {
	p.active().WriteBinary(buf, value)
}
