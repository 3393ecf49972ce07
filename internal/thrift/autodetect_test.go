package thrift

import (
	"testing"

	"github.com/Sh00ty/proxyplane/internal/buffer"
)

func TestAutoProtocolDetectsStrictBinary(t *testing.T) {
	buf := buffer.New()
	NewBinaryProtocol().WriteMessageBegin(buf, "m", MessageTypeCall, 1)

	auto := NewAutoProtocol()
	sink := &recordingSink{}
	ok, err := auto.ReadMessageBegin(buf, sink)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if auto.Name() != "binary(auto)" {
		t.Fatalf("got name %q, want binary(auto)", auto.Name())
	}
}

func TestAutoProtocolDetectsCompact(t *testing.T) {
	buf := buffer.New()
	NewCompactProtocol().WriteMessageBegin(buf, "m", MessageTypeCall, 1)

	auto := NewAutoProtocol()
	sink := &recordingSink{}
	ok, err := auto.ReadMessageBegin(buf, sink)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if auto.Name() != "compact(auto)" {
		t.Fatalf("got name %q, want compact(auto)", auto.Name())
	}
}

func TestAutoProtocolFallsBackToLaxBinary(t *testing.T) {
	buf := buffer.New()
	NewLaxBinaryProtocol().WriteMessageBegin(buf, "m", MessageTypeCall, 1)

	auto := NewAutoProtocol()
	sink := &recordingSink{}
	ok, err := auto.ReadMessageBegin(buf, sink)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if auto.Name() != "binary(lax)(auto)" {
		t.Fatalf("got name %q, want binary(lax)(auto)", auto.Name())
	}
}
