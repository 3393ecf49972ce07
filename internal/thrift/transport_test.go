package thrift

import (
	"bytes"
	"testing"

	"github.com/Sh00ty/proxyplane/internal/buffer"
)

func TestFramedTransportRoundTrip(t *testing.T) {
	buf := buffer.New()
	transport := NewTransport(TransportFramed)
	payload := []byte("thrift message bytes")
	transport.WriteFrame(buf, payload)

	got, ok, err := transport.ReadFrame(buf)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected buffer drained, got %d bytes left", buf.Len())
	}
}

func TestFramedTransportNeedsMoreData(t *testing.T) {
	buf := buffer.New()
	transport := NewTransport(TransportFramed)
	transport.WriteFrame(buf, []byte("hello world"))
	all := buf.Bytes()

	partial := buffer.New()
	partial.Add(all[:6])
	_, ok, err := transport.ReadFrame(partial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected NeedMore on a partial frame")
	}
	if partial.Len() != 6 {
		t.Fatalf("expected buffer untouched, got len %d", partial.Len())
	}
}

func TestUnframedTransportPassesThrough(t *testing.T) {
	buf := buffer.New()
	transport := NewTransport(TransportUnframed)
	transport.WriteFrame(buf, []byte("raw"))
	got, ok, err := transport.ReadFrame(buf)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, []byte("raw")) {
		t.Fatalf("got %q", got)
	}
	if buf.Len() != 3 {
		t.Fatalf("unframed transport must not consume from buf, got len %d", buf.Len())
	}
}
