package thrift

import (
	"testing"

	"github.com/Sh00ty/proxyplane/internal/buffer"
)

type fieldLog struct {
	fields []struct {
		t  FieldType
		id int16
	}
	started   bool
	completed bool
}

func (f *fieldLog) MessageStart(string, MessageType, int32) { f.started = true }
func (f *fieldLog) StructBegin(string)                      {}
func (f *fieldLog) StructField(name string, fieldType FieldType, fieldID int16) {
	f.fields = append(f.fields, struct {
		t  FieldType
		id int16
	}{fieldType, fieldID})
}
func (f *fieldLog) StructEnd()       {}
func (f *fieldLog) MessageComplete() { f.completed = true }

func encodeSampleMessage(proto Protocol, buf *buffer.Instance) {
	proto.WriteMessageBegin(buf, "get", MessageTypeCall, 1)
	proto.WriteFieldBegin(buf, FieldTypeI32, 1)
	proto.WriteInt32(buf, 7)
	proto.WriteFieldBegin(buf, FieldTypeList, 2)
	proto.WriteListBegin(buf, FieldTypeString, 2)
	proto.WriteString(buf, "a")
	proto.WriteString(buf, "b")
	proto.WriteFieldStop(buf)
}

func TestMessageDecoderFullMessage(t *testing.T) {
	buf := buffer.New()
	proto := NewBinaryProtocol()
	encodeSampleMessage(proto, buf)

	log := &fieldLog{}
	dec := NewMessageDecoder(NewBinaryProtocol(), log)
	done, err := dec.Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected decode to complete in one pass")
	}
	if !log.started {
		t.Fatal("expected MessageStart to fire")
	}
	if len(log.fields) != 3 { // field 1 (i32), field 2 (list), stop
		t.Fatalf("got %d field events, want 3: %+v", len(log.fields), log.fields)
	}
	if log.fields[0].t != FieldTypeI32 || log.fields[0].id != 1 {
		t.Fatalf("field 0 = %+v", log.fields[0])
	}
	if log.fields[1].t != FieldTypeList || log.fields[1].id != 2 {
		t.Fatalf("field 1 = %+v", log.fields[1])
	}
	if log.fields[2].t != FieldTypeStop {
		t.Fatalf("field 2 = %+v, want Stop", log.fields[2])
	}
}

func TestMessageDecoderResumesAcrossPartialWrites(t *testing.T) {
	full := buffer.New()
	proto := NewBinaryProtocol()
	encodeSampleMessage(proto, full)
	all := full.Bytes()

	buf := buffer.New()
	log := &fieldLog{}
	dec := NewMessageDecoder(NewBinaryProtocol(), log)

	var done bool
	var err error
	for i := 0; i < len(all); i++ {
		buf.Add(all[i : i+1])
		done, err = dec.Decode(buf)
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		if done {
			break
		}
	}
	if !done {
		t.Fatal("expected decoder to finish once all bytes arrived")
	}
	if !log.completed {
		t.Fatal("expected MessageComplete to fire")
	}
	if len(log.fields) != 3 {
		t.Fatalf("got %d fields, want 3", len(log.fields))
	}
}

func TestMessageDecoderCompactRoundTrip(t *testing.T) {
	buf := buffer.New()
	proto := NewCompactProtocol()
	encodeSampleMessage(proto, buf)

	log := &fieldLog{}
	dec := NewMessageDecoder(NewCompactProtocol(), log)
	done, err := dec.Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected compact message to fully decode")
	}
	if len(log.fields) != 3 {
		t.Fatalf("got %d fields, want 3: %+v", len(log.fields), log.fields)
	}
}
