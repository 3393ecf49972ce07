// Package thrift implements resumable Thrift wire codecs over a shared
// byte queue: strict binary, lax ("non-strict") binary, compact, and an
// auto-detecting composite that inspects the first bytes of a message
// and installs the matching concrete codec. Each read_X operation
// leaves the buffer untouched when it doesn't yet have a full frame,
// following the teacher's codec/state-machine reuse — the failure mode
// here is "NeedMore", not a thrown exception.
package thrift

import (
	"fmt"

	"github.com/Sh00ty/proxyplane/internal/buffer"
)

// MessageType is the Thrift message-type enum.
type MessageType int8

const (
	MessageTypeCall      MessageType = 1
	MessageTypeReply     MessageType = 2
	MessageTypeException MessageType = 3
	MessageTypeOneway    MessageType = 4
)

func validMessageType(t MessageType) bool {
	return t >= MessageTypeCall && t <= MessageTypeOneway
}

// FieldType is the Thrift field-type enum (also used for map/list/set
// element types).
type FieldType int8

const (
	FieldTypeStop   FieldType = 0
	FieldTypeVoid   FieldType = 1
	FieldTypeBool   FieldType = 2
	FieldTypeByte   FieldType = 3
	FieldTypeDouble FieldType = 4
	FieldTypeI16    FieldType = 6
	FieldTypeI32    FieldType = 8
	FieldTypeI64    FieldType = 10
	FieldTypeString FieldType = 11
	FieldTypeStruct FieldType = 12
	FieldTypeMap    FieldType = 13
	FieldTypeSet    FieldType = 14
	FieldTypeList   FieldType = 15
)

// MalformedError carries the byte-offset-free message describing a
// wire-format violation. The offset the caller cares about is implicit
// in the buffer's length at throw time, per the error-handling design:
// callers may attach buffer.Len() themselves if they want it logged.
type MalformedError struct {
	Reason string
}

func (e MalformedError) Error() string { return e.Reason }

func malformed(format string, args ...any) error {
	return MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// EventSink receives the structural events a decoder emits as it
// consumes a message. Implementations must not suspend — no blocking
// I/O, no re-entrant calls back into the decoder — since the decoder
// invokes these synchronously mid-parse.
type EventSink interface {
	MessageStart(name string, msgType MessageType, seqID int32)
	StructBegin(name string)
	StructField(name string, fieldType FieldType, fieldID int16)
	StructEnd()
	MessageComplete()
}

// NopSink implements EventSink with no-op methods, useful for decoders
// driven purely for their "did this consume a full frame" return value.
type NopSink struct{}

func (NopSink) MessageStart(string, MessageType, int32) {}
func (NopSink) StructBegin(string)                      {}
func (NopSink) StructField(string, FieldType, int16)    {}
func (NopSink) StructEnd()                              {}
func (NopSink) MessageComplete()                        {}

// Protocol is one wire-format codec instance. Every read_X method
// returns false without consuming bytes when the buffer doesn't yet
// hold a complete field; a true return always means exactly the framed
// portion was drained. write_X methods are effectively infallible
// except where a caller-supplied size violates the int32 range
// constraint.
type Protocol interface {
	Name() string

	ReadMessageBegin(buf *buffer.Instance, sink EventSink) (bool, error)
	ReadMessageEnd(buf *buffer.Instance, sink EventSink) (bool, error)
	ReadStructBegin(buf *buffer.Instance, sink EventSink) (bool, error)
	ReadStructEnd(buf *buffer.Instance, sink EventSink) (bool, error)
	ReadFieldBegin(buf *buffer.Instance, sink EventSink) (bool, error)
	ReadFieldEnd(buf *buffer.Instance) (bool, error)
	ReadMapBegin(buf *buffer.Instance) (keyType, valueType FieldType, size uint32, ok bool, err error)
	ReadListBegin(buf *buffer.Instance) (elemType FieldType, size uint32, ok bool, err error)
	ReadSetBegin(buf *buffer.Instance) (elemType FieldType, size uint32, ok bool, err error)
	ReadBool(buf *buffer.Instance) (value bool, ok bool, err error)
	ReadByte(buf *buffer.Instance) (value byte, ok bool, err error)
	ReadInt16(buf *buffer.Instance) (value int16, ok bool, err error)
	ReadInt32(buf *buffer.Instance) (value int32, ok bool, err error)
	ReadInt64(buf *buffer.Instance) (value int64, ok bool, err error)
	ReadDouble(buf *buffer.Instance) (value float64, ok bool, err error)
	ReadString(buf *buffer.Instance) (value string, ok bool, err error)
	ReadBinary(buf *buffer.Instance) (value []byte, ok bool, err error)

	WriteMessageBegin(buf *buffer.Instance, name string, msgType MessageType, seqID int32)
	WriteFieldBegin(buf *buffer.Instance, fieldType FieldType, fieldID int16)
	WriteFieldStop(buf *buffer.Instance)
	WriteMapBegin(buf *buffer.Instance, keyType, valueType FieldType, size uint32) error
	WriteListBegin(buf *buffer.Instance, elemType FieldType, size uint32) error
	WriteSetBegin(buf *buffer.Instance, elemType FieldType, size uint32) error
	WriteBool(buf *buffer.Instance, value bool)
	WriteByte(buf *buffer.Instance, value byte)
	WriteInt16(buf *buffer.Instance, value int16)
	WriteInt32(buf *buffer.Instance, value int32)
	WriteInt64(buf *buffer.Instance, value int64)
	WriteDouble(buf *buffer.Instance, value float64)
	WriteString(buf *buffer.Instance, value string)
	WriteBinary(buf *buffer.Instance, value []byte)
}

const maxInt32 = 1<<31 - 1

func checkSize(size uint32) error {
	if size > maxInt32 {
		return malformed("illegal protocol collection size %d", size)
	}
	return nil
}
