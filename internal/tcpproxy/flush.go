package tcpproxy

import (
	"net"
	"sync"
	"time"

	"github.com/Sh00ty/proxyplane/internal/stats"
)

// flushRegistry holds upstream connections that have been detached from
// their (already gone) downstream peer to keep draining queued writes:
// the deferred-flush half of a downstream RemoteClose while pending
// bytes are still queued for upstream. Detached drains outlive the
// connection goroutine that started them; this registry only exists so
// upstream_flush_active can be reported as a live count.
type flushRegistry struct {
	sink stats.Sink

	mu     sync.Mutex
	active int
}

func newFlushRegistry(sink stats.Sink) *flushRegistry {
	return &flushRegistry{sink: sink}
}

// Start detaches conn (the still-open upstream connection) and pump
// (the flowPump still writing conn's queued bytes) into a background
// drain. It returns immediately. The drain finishes either when pump
// fully drains (a successful flush, treated as the upstream's own local
// close) or when idleTimeout passes with the drain still incomplete
// (forced NoFlush teardown); either way onFinish runs exactly once,
// after conn is closed, to release whatever resources the caller still
// held on conn's behalf.
func (r *flushRegistry) Start(conn net.Conn, pump *flowPump, idleTimeout time.Duration, onFinish func()) {
	r.sink.Increment(stats.UpstreamFlushTotal)
	r.inc()

	go func() {
		defer func() {
			conn.Close()
			if onFinish != nil {
				onFinish()
			}
			r.dec()
		}()

		if idleTimeout <= 0 {
			<-pump.Drained()
			return
		}
		timer := time.NewTimer(idleTimeout)
		defer timer.Stop()
		select {
		case <-pump.Drained():
		case <-timer.C:
		}
	}()
}

func (r *flushRegistry) inc() {
	r.mu.Lock()
	r.active++
	n := r.active
	r.mu.Unlock()
	r.sink.Gauge(stats.UpstreamFlushActive, int64(n))
}

func (r *flushRegistry) dec() {
	r.mu.Lock()
	r.active--
	n := r.active
	r.mu.Unlock()
	r.sink.Gauge(stats.UpstreamFlushActive, int64(n))
}
