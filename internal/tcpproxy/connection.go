package tcpproxy

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/proxyplane/internal/stats"
	"github.com/Sh00ty/proxyplane/internal/upstream"
)

// Config configures one listener's Filter.
type Config struct {
	StatPrefix         string
	MaxConnectAttempts int
	ConnectTimeout     time.Duration
	IdleTimeout        time.Duration // 0 disables

	// Watermarks gates read-disable/enable on the upstream read side
	// when the downstream write direction backs up (the
	// Connected|downstream-high/low-watermark state rows). Zero High
	// disables backpressure.
	Watermarks FlowWatermarks
}

// Filter accepts downstream connections for one listener, matches them
// to a cluster via RouteTable, and drives each accepted connection
// through the state machine.
type Filter struct {
	cfg       Config
	routes    RouteTable
	selectors map[string]*Selector
	outlier   *upstream.OutlierPolicy
	resources map[string]*upstream.ResourceManager
	stats     stats.Sink
	dialer    net.Dialer
	flushes   *flushRegistry
}

// NewFilter builds a Filter. selectors and resources are keyed by
// cluster name, the name a Route resolves to.
func NewFilter(cfg Config, routes RouteTable, selectors map[string]*Selector, resources map[string]*upstream.ResourceManager, outlier *upstream.OutlierPolicy, sink stats.Sink) *Filter {
	return &Filter{
		cfg:       cfg,
		routes:    routes,
		selectors: selectors,
		resources: resources,
		outlier:   outlier,
		stats:     sink,
		dialer:    net.Dialer{Timeout: cfg.ConnectTimeout},
		flushes:   newFlushRegistry(sink),
	}
}

// HandleConnection runs one accepted downstream connection to
// completion, blocking until it closes. Callers invoke this in its own
// goroutine per accepted net.Conn; the connection's state below is
// confined to that goroutine and the two pump goroutines it starts,
// matching the single-owner-per-connection model: Host objects are the
// only state shared across connections, and their mutable fields are
// already atomic.
func (f *Filter) HandleConnection(ctx context.Context, downstream net.Conn) {
	f.stats.Increment(stats.DownstreamCxTotal)
	defer downstream.Close()

	traceID, err := uuid.GenerateUUID()
	if err != nil {
		traceID = "unknown"
	}
	logger := log.With().Str("trace_id", traceID).
		Str("downstream_remote", downstream.RemoteAddr().String()).Logger()

	cluster, err := f.routes.Match(downstream.LocalAddr(), downstream.RemoteAddr())
	if err != nil {
		f.stats.Increment(stats.DownstreamCxNoRoute)
		logger.Warn().Err(err).Msg("tcpproxy: no route matched, closing downstream")
		return
	}

	selector, ok := f.selectors[cluster]
	if !ok {
		f.stats.Increment(stats.DownstreamCxNoRoute)
		logger.Warn().Str("cluster", cluster).Msg("tcpproxy: route names unknown cluster")
		return
	}

	c := &connection{
		filter:     f,
		cluster:    cluster,
		selector:   selector,
		resources:  f.resources[cluster],
		downstream: downstream,
		logger:     logger,
		startTime:  time.Now(),
		excluded:   make(map[string]bool),
	}
	c.run(ctx)
}

// connection drives one downstream/upstream pair through the state
// machine described by the filter's state table.
type connection struct {
	filter    *Filter
	cluster   string
	selector  *Selector
	resources *upstream.ResourceManager

	downstream net.Conn
	upstream   net.Conn

	upstreamHost *upstream.Host
	state        State
	attempts     int
	excluded     map[string]bool
	heldConn     bool // true while a resource-manager connection slot is acquired
	detached     bool // true once upstream has been handed off to the filter's flush registry

	bytesRecv uint64
	bytesSent uint64
	startTime time.Time
	respFlag  ResponseFlag

	idleMu    sync.Mutex
	idleTimer *time.Timer

	logger zerolog.Logger
}

func (c *connection) run(ctx context.Context) {
	c.state = NotStarted
	defer c.releaseResources()

	if !c.connectLoop(ctx) {
		c.logAccess()
		return
	}
	defer func() {
		if !c.detached {
			c.upstream.Close()
		}
	}()

	c.state = Connected
	c.armIdleTimer()
	c.pumpBidirectional(ctx)
	c.logAccess()
}

func (c *connection) releaseResources() {
	if c.detached {
		return // ownership (and its release) transferred to the flush registry
	}
	if c.heldConn && c.resources != nil {
		c.resources.Connections.Release()
		c.heldConn = false
	}
}

// releaseResourcesFunc captures the release this connection would
// otherwise have performed itself, for the flush registry to call once
// the detached upstream connection actually finishes draining.
func (c *connection) releaseResourcesFunc() func() {
	resources := c.resources
	held := c.heldConn
	return func() {
		if held && resources != nil {
			resources.Connections.Release()
		}
	}
}

// connectLoop drives the Connecting state until either a connection
// succeeds or attempts are exhausted, per max_connect_attempts.
func (c *connection) connectLoop(ctx context.Context) bool {
	maxAttempts := c.filter.cfg.MaxConnectAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	c.state = Connecting

	for c.attempts < maxAttempts {
		c.attempts++
		host, err := c.selector.Pick(c.excluded)
		if err != nil && len(c.excluded) > 0 {
			// every healthy host has already been tried; retry across the full set
			host, err = c.selector.Pick(nil)
		}
		if err != nil {
			c.respFlag = FlagNoHealthyHost
			c.filter.stats.Increment(stats.UpstreamCxNoSuccessfulHost)
			c.logger.Warn().Err(err).Msg("tcpproxy: no healthy host to attempt")
			return false
		}
		c.upstreamHost = host

		if !c.heldConn && c.resources != nil {
			if !c.resources.Connections.TryAcquire() {
				c.respFlag = FlagOverflow
				c.filter.stats.Increment(stats.UpstreamCxOverflow)
				c.logger.Warn().Msg("tcpproxy: connection resource manager overflow")
				return false
			}
			c.heldConn = true
		}

		conn, dialErr := c.dial(ctx, host)
		if dialErr == nil {
			c.upstream = conn
			c.filter.stats.Increment(stats.UpstreamCxTotal)
			host.Stats.ConnectSuccess.Add(1)
			if c.filter.outlier != nil {
				c.filter.outlier.Report(host, upstream.ResultSuccess)
			}
			return true
		}

		c.excluded[host.Address.String()] = true
		c.reportConnectFailure(host, dialErr)
	}

	c.respFlag = FlagUpstreamFailure
	c.filter.stats.Increment(stats.UpstreamCxConnectAttemptsExceed)
	return false
}

func (c *connection) dial(ctx context.Context, host *upstream.Host) (net.Conn, error) {
	dialCtx := ctx
	cancel := func() {}
	if c.filter.cfg.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.filter.cfg.ConnectTimeout)
	}
	defer cancel()
	conn, err := c.filter.dialer.DialContext(dialCtx, host.Address.Network(), host.Address.String())
	if err != nil && dialCtx.Err() != nil {
		return nil, errConnectTimeout{}
	}
	return conn, err
}

type errConnectTimeout struct{}

func (errConnectTimeout) Error() string { return "tcpproxy: connect timed out" }

func (c *connection) reportConnectFailure(host *upstream.Host, err error) {
	var result upstream.OutlierResult
	if _, isTimeout := err.(errConnectTimeout); isTimeout {
		result = upstream.ResultTimeout
		c.filter.stats.Increment(stats.UpstreamCxConnectTimeout)
		host.Stats.ConnectTimeout.Add(1)
	} else {
		result = upstream.ResultConnectFailed
		c.filter.stats.Increment(stats.UpstreamCxConnectFail)
		host.Stats.ConnectFail.Add(1)
	}
	if c.filter.outlier != nil {
		c.filter.outlier.Report(host, result)
	}
	c.logger.Warn().Err(err).Str("host", host.Address.String()).Int("attempt", c.attempts).
		Msg("tcpproxy: upstream connect attempt failed")
}

// halfCloser is satisfied by *net.TCPConn; used to send an end marker
// upstream without tearing down its read side, so a buffered upstream
// response already in flight can still reach downstream after
// downstream itself has finished sending.
type halfCloser interface {
	CloseWrite() error
}

// pumpBidirectional runs the downstream->upstream and upstream->
// downstream directions on their own flowPump and waits for both read
// sides to finish, reacting to whichever finishes first independently
// of the other:
//
//   - downstream finishes sending (downstream data end=true / downstream
//     RemoteClose): move to HalfClosed and forward the end marker
//     upstream — FlushWrite first if bytes are still queued for it
//     (detaching into the filter's flush registry so this goroutine
//     isn't blocked waiting on the drain), NoFlush (send the marker
//     immediately) otherwise.
//   - upstream finishes responding (upstream RemoteClose, post-connect):
//     deliver anything already queued for downstream, then close it
//     (FlushWrite).
//   - idle timer or context cancellation: both sides torn down
//     immediately with NoFlush, matching the Connected|idle-timer-expiry
//     row.
//
// The loop only returns once both directions have finished (or an idle
// timeout/cancellation forces immediate teardown), so a response upstream
// sends after downstream stops sending still reaches downstream.
func (c *connection) pumpBidirectional(ctx context.Context) {
	d2u := newFlowPump(c.downstream, c.upstream, &c.bytesRecv, FlowWatermarks{}, c.armIdleTimer)
	u2d := newFlowPump(c.upstream, c.downstream, &c.bytesSent, c.filter.cfg.Watermarks, c.armIdleTimer)

	d2uDone := make(chan struct{})
	u2dDone := make(chan struct{})
	go func() { d2u.run(); close(d2uDone) }()
	go func() { u2d.run(); close(u2dDone) }()

	dCh, uCh := d2uDone, u2dDone
	for dCh != nil || uCh != nil {
		select {
		case <-dCh:
			dCh = nil
			c.state = HalfClosed
			ct := NoFlush
			if d2u.PendingAtClose() > 0 {
				ct = FlushWrite
			}
			c.closeUpstream(ct, d2u)
		case <-uCh:
			uCh = nil
			c.closeDownstream(FlushWrite, u2d)
		case <-c.idleTimerChan():
			c.respFlag = FlagUpstreamTimeout
			c.filter.stats.Increment(stats.IdleTimeout)
			c.state = Closed
			c.downstream.Close()
			c.upstream.Close()
			return
		case <-ctx.Done():
			c.state = Closing
			c.downstream.Close()
			c.upstream.Close()
			return
		}
	}
	c.state = Closing
}

// closeUpstream reacts to downstream finishing. NoFlush sends the end
// marker (CloseWrite) immediately, or closes outright if upstream
// doesn't support a half-close. FlushWrite detaches upstream and d2u
// into the filter's flush registry so the remaining queued bytes are
// delivered (and the end marker sent) in the background, finalizing on
// either that drain completing (upstream's own LocalClose) or an idle
// timeout with the drain still incomplete (forced teardown).
func (c *connection) closeUpstream(ct CloseType, d2u *flowPump) {
	if ct == NoFlush {
		if hc, ok := c.upstream.(halfCloser); ok {
			hc.CloseWrite()
		} else {
			c.upstream.Close()
		}
		return
	}
	c.detached = true
	c.filter.flushes.Start(c.upstream, d2u, c.filter.cfg.IdleTimeout, c.releaseResourcesFunc())
}

// closeDownstream reacts to upstream finishing its response. FlushWrite
// waits for u2d's writer goroutine to deliver everything already queued
// before closing downstream; NoFlush closes immediately.
func (c *connection) closeDownstream(ct CloseType, u2d *flowPump) {
	if ct == FlushWrite {
		<-u2d.Drained()
	}
	c.downstream.Close()
}

// armIdleTimer is the onData callback for both directions' flowPump, so
// it runs concurrently from two goroutines once pumpBidirectional
// starts; idleMu serializes those calls and the racing Stop/Reset pair
// they perform on the shared timer.
func (c *connection) armIdleTimer() {
	if c.filter.cfg.IdleTimeout <= 0 {
		return
	}
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleTimer == nil {
		c.idleTimer = time.NewTimer(c.filter.cfg.IdleTimeout)
		return
	}
	if !c.idleTimer.Stop() {
		select {
		case <-c.idleTimer.C:
		default:
		}
	}
	c.idleTimer.Reset(c.filter.cfg.IdleTimeout)
}

func (c *connection) idleTimerChan() <-chan time.Time {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleTimer == nil {
		return nil
	}
	return c.idleTimer.C
}

func (c *connection) logAccess() {
	duration := time.Since(c.startTime)
	remoteWithoutPort, _, _ := net.SplitHostPort(c.downstream.RemoteAddr().String())
	ev := c.logger.Info().
		Str("response_flags", string(c.respFlag)).
		Str("upstream_cluster", c.cluster).
		Str("downstream_remote_address_without_port", remoteWithoutPort).
		Str("downstream_local_address", c.downstream.LocalAddr().String()).
		Uint64("bytes_received", c.bytesRecv).
		Uint64("bytes_sent", c.bytesSent).
		Time("start_time", c.startTime).
		Dur("duration", duration)
	if c.upstreamHost != nil {
		ev = ev.Str("upstream_host", c.upstreamHost.Address.String())
	}
	if c.upstream != nil {
		ev = ev.Str("upstream_local_address", c.upstream.LocalAddr().String())
	}
	ev.Msg("tcpproxy: connection closed")
}
