package thrift

import "github.com/Sh00ty/proxyplane/internal/buffer"

// decoderState walks a Thrift message depth-first: every nested
// struct/list/map/set pushes a frame recording where to resume once
// its contents are exhausted, so the whole message can be decoded a
// few bytes at a time as they arrive off the wire.
type decoderState int

const (
	stateMessageBegin decoderState = iota
	stateStructBegin
	stateStructEnd
	stateFieldBegin
	stateFieldValue
	stateFieldEnd
	stateListBegin
	stateListValue
	stateListEnd
	stateMapBegin
	stateMapKey
	stateMapValue
	stateMapEnd
	stateSetBegin
	stateSetValue
	stateSetEnd
	stateMessageEnd
	stateDone
)

type decoderFrame struct {
	returnState decoderState
	elemType    FieldType
	valueType   FieldType
	remaining   uint32
}

// MessageDecoder drives a Protocol through an entire message body
// (not just the header), emitting EventSink callbacks for every
// struct/field/value boundary, resuming across onData calls that each
// see only a partial message.
type MessageDecoder struct {
	proto         Protocol
	sink          EventSink
	state         decoderState
	stack         []decoderFrame
	lastFieldType FieldType
}

func NewMessageDecoder(proto Protocol, sink EventSink) *MessageDecoder {
	return &MessageDecoder{proto: proto, sink: sink, state: stateMessageBegin}
}

// Reset rearms the decoder to parse a fresh message from the top.
func (d *MessageDecoder) Reset() {
	d.state = stateMessageBegin
	d.stack = d.stack[:0]
}

// Done reports whether the decoder has fully consumed one message and
// is ready to be Reset for the next.
func (d *MessageDecoder) Done() bool { return d.state == stateDone }

// Decode advances through buf as far as possible. It returns true once
// a full message has been parsed (buf is left positioned just after
// it); false means buf was exhausted mid-message and nothing beyond
// the already-consumed prefix was touched.
func (d *MessageDecoder) Decode(buf *buffer.Instance) (bool, error) {
	for d.state != stateDone {
		next, ok, err := d.step(buf)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		d.state = next
	}
	return true, nil
}

func (d *MessageDecoder) push(f decoderFrame) { d.stack = append(d.stack, f) }

func (d *MessageDecoder) pop() decoderState {
	f := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	return f.returnState
}

func (d *MessageDecoder) top() *decoderFrame { return &d.stack[len(d.stack)-1] }

func (d *MessageDecoder) step(buf *buffer.Instance) (decoderState, bool, error) {
	switch d.state {
	case stateMessageBegin:
		ok, err := d.proto.ReadMessageBegin(buf, d.sink)
		if !ok || err != nil {
			return 0, false, err
		}
		d.stack = d.stack[:0]
		d.push(decoderFrame{returnState: stateMessageEnd})
		return stateStructBegin, true, nil

	case stateMessageEnd:
		ok, err := d.proto.ReadMessageEnd(buf, d.sink)
		if !ok || err != nil {
			return 0, false, err
		}
		return stateDone, true, nil

	case stateStructBegin:
		ok, err := d.proto.ReadStructBegin(buf, d.sink)
		if !ok || err != nil {
			return 0, false, err
		}
		return stateFieldBegin, true, nil

	case stateStructEnd:
		ok, err := d.proto.ReadStructEnd(buf, d.sink)
		if !ok || err != nil {
			return 0, false, err
		}
		return d.pop(), true, nil

	case stateFieldBegin:
		ok, err := d.proto.ReadFieldBegin(buf, fieldBeginSink{d.sink, &d.lastFieldType})
		if !ok || err != nil {
			return 0, false, err
		}
		if d.lastFieldType == FieldTypeStop {
			return stateStructEnd, true, nil
		}
		d.push(decoderFrame{returnState: stateFieldEnd})
		return stateFieldValue, true, nil

	case stateFieldValue:
		return d.handleValue(buf, d.lastFieldType, d.top().returnState)

	case stateFieldEnd:
		ok, err := d.proto.ReadFieldEnd(buf)
		if !ok || err != nil {
			return 0, false, err
		}
		d.pop()
		return stateFieldBegin, true, nil

	case stateListBegin:
		elemType, size, ok, err := d.proto.ReadListBegin(buf)
		if !ok || err != nil {
			return 0, false, err
		}
		d.push(decoderFrame{returnState: stateListEnd, elemType: elemType, remaining: size})
		return stateListValue, true, nil

	case stateListValue:
		f := d.top()
		if f.remaining == 0 {
			return d.pop(), true, nil
		}
		f.remaining--
		return d.handleValue(buf, f.elemType, stateListValue)

	case stateListEnd:
		// Binary and compact protocols transmit no list footer; popping the
		// frame created at ListBegin resumes wherever the list's own value
		// slot (field, map, another list...) was.
		return d.pop(), true, nil

	case stateSetBegin:
		elemType, size, ok, err := d.proto.ReadSetBegin(buf)
		if !ok || err != nil {
			return 0, false, err
		}
		d.push(decoderFrame{returnState: stateSetEnd, elemType: elemType, remaining: size})
		return stateSetValue, true, nil

	case stateSetValue:
		f := d.top()
		if f.remaining == 0 {
			return d.pop(), true, nil
		}
		f.remaining--
		return d.handleValue(buf, f.elemType, stateSetValue)

	case stateSetEnd:
		return d.pop(), true, nil

	case stateMapBegin:
		keyType, valueType, size, ok, err := d.proto.ReadMapBegin(buf)
		if !ok || err != nil {
			return 0, false, err
		}
		d.push(decoderFrame{returnState: stateMapEnd, elemType: keyType, valueType: valueType, remaining: size})
		return stateMapKey, true, nil

	case stateMapKey:
		f := d.top()
		if f.remaining == 0 {
			return d.pop(), true, nil
		}
		return d.handleValue(buf, f.elemType, stateMapValue)

	case stateMapValue:
		f := d.top()
		f.remaining--
		return d.handleValue(buf, f.valueType, stateMapKey)

	case stateMapEnd:
		return d.pop(), true, nil
	}
	return 0, false, malformed("thrift decoder reached unknown state %d", d.state)
}

// lastFieldType is set by ReadFieldBegin via fieldBeginSink and
// consumed by the following FieldValue step.
type fieldBeginSink struct {
	EventSink
	out *FieldType
}

func (f fieldBeginSink) StructField(name string, fieldType FieldType, fieldID int16) {
	*f.out = fieldType
	f.EventSink.StructField(name, fieldType, fieldID)
}

func (d *MessageDecoder) handleValue(buf *buffer.Instance, elemType FieldType, returnState decoderState) (decoderState, bool, error) {
	switch elemType {
	case FieldTypeBool:
		_, ok, err := d.proto.ReadBool(buf)
		if !ok || err != nil {
			return 0, false, err
		}
	case FieldTypeByte:
		_, ok, err := d.proto.ReadByte(buf)
		if !ok || err != nil {
			return 0, false, err
		}
	case FieldTypeI16:
		_, ok, err := d.proto.ReadInt16(buf)
		if !ok || err != nil {
			return 0, false, err
		}
	case FieldTypeI32:
		_, ok, err := d.proto.ReadInt32(buf)
		if !ok || err != nil {
			return 0, false, err
		}
	case FieldTypeI64:
		_, ok, err := d.proto.ReadInt64(buf)
		if !ok || err != nil {
			return 0, false, err
		}
	case FieldTypeDouble:
		_, ok, err := d.proto.ReadDouble(buf)
		if !ok || err != nil {
			return 0, false, err
		}
	case FieldTypeString:
		_, ok, err := d.proto.ReadString(buf)
		if !ok || err != nil {
			return 0, false, err
		}
	case FieldTypeStruct:
		d.push(decoderFrame{returnState: returnState})
		return stateStructBegin, true, nil
	case FieldTypeMap:
		d.push(decoderFrame{returnState: returnState})
		return stateMapBegin, true, nil
	case FieldTypeList:
		d.push(decoderFrame{returnState: returnState})
		return stateListBegin, true, nil
	case FieldTypeSet:
		d.push(decoderFrame{returnState: returnState})
		return stateSetBegin, true, nil
	default:
		return 0, false, malformed("unknown field type %d", elemType)
	}
	return returnState, true, nil
}
