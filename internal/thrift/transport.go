package thrift

import "github.com/Sh00ty/proxyplane/internal/buffer"

// TransportType distinguishes how a message is delimited on the wire,
// independent of which Protocol encodes its contents.
type TransportType int

const (
	TransportUnframed TransportType = iota
	TransportFramed
)

// maxFrameSize guards against a corrupt or hostile length prefix
// demanding an unbounded allocation before any frame bytes have
// arrived.
const maxFrameSize = 16 * 1024 * 1024

// Transport reads and writes message frames, either as unframed
// passthrough or behind a 4-byte length prefix, depending on kind.
type Transport struct {
	kind TransportType
}

func NewTransport(kind TransportType) *Transport { return &Transport{kind: kind} }

// ReadFrame isolates one message's bytes for TransportFramed (a
// 4-byte big-endian length prefix followed by exactly that many
// payload bytes) or passes the whole buffer through unchanged for
// TransportUnframed, where message boundaries are implicit in the
// protocol's own framing (for strict binary, Protocol.ReadMessageBegin
// simply runs directly against buf).
//
// ok=false, err=nil means buf does not yet hold a full frame and
// nothing was consumed. A non-nil err means a frame length exceeded
// maxFrameSize.
func (t *Transport) ReadFrame(buf *buffer.Instance) (payload []byte, ok bool, err error) {
	if t.kind == TransportUnframed {
		return buf.Bytes(), true, nil
	}
	if buf.Len() < 4 {
		return nil, false, nil
	}
	size, _ := peekU32(buf, 0)
	if size > maxFrameSize {
		return nil, false, malformed("thrift frame size %d exceeds maximum %d", size, maxFrameSize)
	}
	if buf.Len() < int(size)+4 {
		return nil, false, nil
	}
	buf.Drain(4)
	payload = append([]byte(nil), buf.Peek(int(size))...)
	buf.Drain(int(size))
	return payload, true, nil
}

// WriteFrame appends a length-prefixed frame for TransportFramed, or
// the raw payload for TransportUnframed.
func (t *Transport) WriteFrame(buf *buffer.Instance, payload []byte) {
	if t.kind == TransportFramed {
		writeU32(buf, uint32(len(payload)))
	}
	buf.Add(payload)
}
