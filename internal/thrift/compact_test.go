package thrift

import (
	"testing"

	"github.com/Sh00ty/proxyplane/internal/buffer"
)

func TestCompactMessageRoundTrip(t *testing.T) {
	buf := buffer.New()
	proto := NewCompactProtocol()
	proto.WriteMessageBegin(buf, "ping", MessageTypeCall, 99)

	sink := &recordingSink{}
	ok, err := proto.ReadMessageBegin(buf, sink)
	if err != nil || !ok {
		t.Fatalf("ReadMessageBegin: ok=%v err=%v", ok, err)
	}
	if sink.names[0] != "ping" || sink.msgTypes[0] != MessageTypeCall || sink.seqIDs[0] != 99 {
		t.Fatalf("got %+v", sink)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected drained buffer, got %d bytes left", buf.Len())
	}
}

func TestCompactFieldDeltaRoundTrip(t *testing.T) {
	buf := buffer.New()
	proto := NewCompactProtocol()
	proto.ReadStructBegin(buf, NopSink{}) // establishes last-field-id scope

	proto.WriteFieldBegin(buf, FieldTypeI32, 3)
	proto.WriteInt32(buf, 123)
	proto.WriteFieldBegin(buf, FieldTypeI32, 20) // delta 17 forces long form
	proto.WriteInt32(buf, 456)
	proto.WriteFieldStop(buf)

	reader := NewCompactProtocol()
	reader.ReadStructBegin(buf, NopSink{})

	ft, id, ok, err := readFieldBeginValues(reader, buf)
	if err != nil || !ok {
		t.Fatalf("ReadFieldBegin#1: ok=%v err=%v", ok, err)
	}
	if ft != FieldTypeI32 || id != 3 {
		t.Fatalf("got field type %v id %d, want I32/3", ft, id)
	}
	v, ok, err := reader.ReadInt32(buf)
	if err != nil || !ok || v != 123 {
		t.Fatalf("got %d ok=%v err=%v", v, ok, err)
	}

	ft2, id2, ok, err := readFieldBeginValues(reader, buf)
	if err != nil || !ok {
		t.Fatalf("ReadFieldBegin#2: ok=%v err=%v", ok, err)
	}
	if ft2 != FieldTypeI32 || id2 != 20 {
		t.Fatalf("got field type %v id %d, want I32/20", ft2, id2)
	}
	v2, ok, err := reader.ReadInt32(buf)
	if err != nil || !ok || v2 != 456 {
		t.Fatalf("got %d ok=%v err=%v", v2, ok, err)
	}

	ft3, _, ok, err := readFieldBeginValues(reader, buf)
	if err != nil || !ok || ft3 != FieldTypeStop {
		t.Fatalf("expected stop field, got %v ok=%v err=%v", ft3, ok, err)
	}
}

func TestCompactBoolFieldEncodedInType(t *testing.T) {
	buf := buffer.New()
	proto := NewCompactProtocol()
	proto.ReadStructBegin(buf, NopSink{})
	proto.WriteFieldBegin(buf, FieldTypeBool, 1)
	proto.WriteBool(buf, true)
	proto.WriteFieldStop(buf)

	reader := NewCompactProtocol()
	reader.ReadStructBegin(buf, NopSink{})
	ft, id, ok, err := readFieldBeginValues(reader, buf)
	if err != nil || !ok {
		t.Fatalf("ReadFieldBegin: ok=%v err=%v", ok, err)
	}
	if ft != FieldTypeBool || id != 1 {
		t.Fatalf("got %v/%d, want Bool/1", ft, id)
	}
	v, ok, err := reader.ReadBool(buf)
	if err != nil || !ok || !v {
		t.Fatalf("got %v ok=%v err=%v, want true", v, ok, err)
	}
}

func TestCompactStringRoundTrip(t *testing.T) {
	buf := buffer.New()
	proto := NewCompactProtocol()
	proto.WriteString(buf, "hello compact")
	s, ok, err := proto.ReadString(buf)
	if err != nil || !ok || s != "hello compact" {
		t.Fatalf("got %q ok=%v err=%v", s, ok, err)
	}
}

func TestCompactNeedMoreDataLeavesBufferUntouched(t *testing.T) {
	buf := buffer.New()
	buf.Add([]byte{0x82, 0x01}) // version bytes only, no seq id/name len yet
	proto := NewCompactProtocol()
	ok, err := proto.ReadMessageBegin(buf, NopSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected NeedMore on truncated compact header")
	}
	if buf.Len() != 2 {
		t.Fatalf("expected buffer untouched, got len %d", buf.Len())
	}
}
