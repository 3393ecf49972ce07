package tcpproxy

import (
	"net"
	"sync"
	"sync/atomic"
)

// FlowWatermarks are the byte thresholds that gate read-disable/enable
// backpressure on one direction of a proxied connection. High <= 0
// disables backpressure for that direction entirely.
type FlowWatermarks struct {
	High int
	Low  int
}

// flowPump copies bytes from src to dst on a reader/writer goroutine
// pair rather than a single synchronous io.Copy-style loop, so the
// number of bytes already read from src but not yet written to dst is
// an explicit, lockable count instead of implicit kernel socket-buffer
// state. That count backs two things: the downstream-close FlushWrite
// vs. NoFlush decision (PendingAtClose), and watermark-triggered
// read-disable/enable on the reader side (enqueue/writeLoop below).
type flowPump struct {
	src, dst net.Conn
	counter  *uint64
	onData   func()
	wm       FlowWatermarks

	mu             sync.Mutex
	cond           *sync.Cond
	pending        int64
	paused         bool
	pendingAtClose int64

	writeCh chan []byte
	closed  chan struct{}
	werr    error
}

// newFlowPump starts the write-side goroutine and returns a pump ready
// for run() to be called on the read side. counter is incremented as
// bytes are accepted from src, before they are necessarily flushed to
// dst — it counts bytes this connection has taken responsibility for,
// not confirmed delivery.
func newFlowPump(src, dst net.Conn, counter *uint64, wm FlowWatermarks, onData func()) *flowPump {
	p := &flowPump{
		src: src, dst: dst, counter: counter, onData: onData, wm: wm,
		writeCh: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.writeLoop()
	return p
}

// run reads from src until it errors (io.EOF included), enqueuing every
// chunk read for the writer goroutine, and returns that terminal error.
// While paused by a high watermark it blocks reading src entirely,
// which is the read-disable behavior; a src that closes while paused
// is not noticed until a low watermark resumes reading, matching a
// real read-disabled socket.
func (p *flowPump) run() error {
	buf := make([]byte, 32*1024)
	for {
		p.mu.Lock()
		for p.paused {
			p.cond.Wait()
		}
		p.mu.Unlock()

		n, err := p.src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			p.enqueue(chunk)
			atomic.AddUint64(p.counter, uint64(n))
			if p.onData != nil {
				p.onData()
			}
		}
		if err != nil {
			p.mu.Lock()
			p.pendingAtClose = p.pending
			p.mu.Unlock()
			close(p.writeCh)
			return err
		}
	}
}

func (p *flowPump) enqueue(b []byte) {
	p.mu.Lock()
	p.pending += int64(len(b))
	if p.wm.High > 0 && p.pending >= int64(p.wm.High) {
		p.paused = true
	}
	p.mu.Unlock()
	p.writeCh <- b
}

func (p *flowPump) writeLoop() {
	defer close(p.closed)
	for b := range p.writeCh {
		_, err := p.dst.Write(b)
		p.mu.Lock()
		if err != nil && p.werr == nil {
			p.werr = err
		}
		p.pending -= int64(len(b))
		if p.paused && p.pending <= int64(p.wm.Low) {
			p.paused = false
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}
}

// Pending is the live count of bytes read from src but not yet written
// to dst.
func (p *flowPump) Pending() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// PendingAtClose is the Pending() snapshot taken the instant run()
// returned, before the writer goroutine had a further chance to drain
// it — the value the FlushWrite/NoFlush close decision is made from.
func (p *flowPump) PendingAtClose() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingAtClose
}

// Drained closes once every chunk enqueued before src closed has been
// written to dst (successfully or not).
func (p *flowPump) Drained() <-chan struct{} { return p.closed }

// WriteErr is the first error dst.Write returned, if any.
func (p *flowPump) WriteErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.werr
}
