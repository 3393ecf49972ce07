package tcpproxy

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/Sh00ty/proxyplane/internal/stats"
	"github.com/Sh00ty/proxyplane/internal/upstream"
)

// echoServer starts a one-shot TCP echo listener and returns its
// address; it echoes exactly one connection's bytes back and closes.
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func setupEngineWithHost(t *testing.T, cluster, addr string) *upstream.Engine {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, port))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	engine := upstream.NewEngine(cluster)
	err = engine.Apply(upstream.EndpointAssignment{
		ClusterName: cluster,
		Endpoints: []upstream.LocalityEndpoints{
			{
				Priority: 0,
				Members: []upstream.EndpointSpec{
					{Addr: tcpAddr, Weight: 1, Healthy: true},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return engine
}

func dialDownstream(t *testing.T, ln net.Listener) (server, client net.Conn) {
	t.Helper()
	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptCh <- c
		}
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial downstream: %v", err)
	}
	server = <-acceptCh
	return server, client
}

func TestConnectionProxiesEcho(t *testing.T) {
	upstreamAddr := echoServer(t)
	engine := setupEngineWithHost(t, "c", upstreamAddr)

	selector := NewSelector("c", engine.Priorities())
	resources := map[string]*upstream.ResourceManager{
		"c": upstream.NewResourceManager(upstream.ResourceManagerLimits{MaxConnections: 10}),
	}
	sink := stats.NewMemorySink()
	filter := NewFilter(
		Config{StatPrefix: "test", MaxConnectAttempts: 1, ConnectTimeout: time.Second},
		RouteTable{Routes: []Route{{Cluster: "c"}}},
		map[string]*Selector{"c": selector},
		resources,
		nil,
		sink,
	)

	downLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen downstream: %v", err)
	}
	defer downLn.Close()

	serverSide, clientSide := dialDownstream(t, downLn)
	defer clientSide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		filter.HandleConnection(ctx, serverSide)
		close(done)
	}()

	payload := []byte("hello upstream")
	if _, err := clientSide.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(payload))
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(clientSide, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("got %q, want %q", buf, payload)
	}

	clientSide.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler did not exit after downstream close")
	}

	if sink.Counters[stats.UpstreamCxTotal] != 1 {
		t.Fatalf("upstream_cx_total = %d, want 1", sink.Counters[stats.UpstreamCxTotal])
	}
	if sink.Counters[stats.DownstreamCxTotal] != 1 {
		t.Fatalf("downstream_cx_total = %d, want 1", sink.Counters[stats.DownstreamCxTotal])
	}
}

func TestConnectionNoRouteClosesDownstream(t *testing.T) {
	sink := stats.NewMemorySink()
	filter := NewFilter(
		Config{StatPrefix: "test", MaxConnectAttempts: 1},
		RouteTable{Routes: []Route{{Cluster: "c", DestinationPorts: mustRanges(t, "1")}}},
		map[string]*Selector{},
		nil,
		nil,
		sink,
	)

	downLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer downLn.Close()

	serverSide, clientSide := dialDownstream(t, downLn)
	defer clientSide.Close()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		filter.HandleConnection(ctx, serverSide)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected handler to return promptly on no-route")
	}
	if sink.Counters[stats.DownstreamCxNoRoute] != 1 {
		t.Fatalf("downstream_cx_no_route = %d, want 1", sink.Counters[stats.DownstreamCxNoRoute])
	}
}

func TestConnectionExhaustsAttempts(t *testing.T) {
	closedAddr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	engine := upstream.NewEngine("c")
	err = engine.Apply(upstream.EndpointAssignment{
		ClusterName: "c",
		Endpoints: []upstream.LocalityEndpoints{
			{Priority: 0, Members: []upstream.EndpointSpec{{Addr: closedAddr, Weight: 1, Healthy: true}}},
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	selector := NewSelector("c", engine.Priorities())
	sink := stats.NewMemorySink()
	filter := NewFilter(
		Config{StatPrefix: "test", MaxConnectAttempts: 2, ConnectTimeout: 200 * time.Millisecond},
		RouteTable{Routes: []Route{{Cluster: "c"}}},
		map[string]*Selector{"c": selector},
		nil,
		nil,
		sink,
	)

	downLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer downLn.Close()

	serverSide, clientSide := dialDownstream(t, downLn)
	defer clientSide.Close()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		filter.HandleConnection(ctx, serverSide)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected handler to give up after exhausting attempts")
	}
	if sink.Counters[stats.UpstreamCxConnectAttemptsExceed] != 1 {
		t.Fatalf("upstream_cx_connect_attempts_exceeded = %d, want 1", sink.Counters[stats.UpstreamCxConnectAttemptsExceed])
	}
}

// TestConnectionDeferredFlushOnDownstreamClose checks the FlushWrite path:
// downstream closes while bytes are still queued for a slow upstream, and
// the connection detaches into the flush registry instead of dropping
// them, delivering every byte and reporting the flush in stats.
func TestConnectionDeferredFlushOnDownstreamClose(t *testing.T) {
	const payloadSize = 8 << 20 // large enough to still be queued when the slow upstream reader finally starts

	upLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	defer upLn.Close()

	received := make(chan int64, 1)
	go func() {
		conn, err := upLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(300 * time.Millisecond) // let the payload back up behind a reader that hasn't started yet
		var total int64
		buf := make([]byte, 32*1024)
		for {
			n, err := conn.Read(buf)
			total += int64(n)
			if err != nil {
				received <- total
				return
			}
		}
	}()

	engine := setupEngineWithHost(t, "c", upLn.Addr().String())
	selector := NewSelector("c", engine.Priorities())
	resources := map[string]*upstream.ResourceManager{
		"c": upstream.NewResourceManager(upstream.ResourceManagerLimits{MaxConnections: 10}),
	}
	sink := stats.NewMemorySink()
	filter := NewFilter(
		Config{StatPrefix: "test", MaxConnectAttempts: 1, ConnectTimeout: time.Second, IdleTimeout: 2 * time.Second},
		RouteTable{Routes: []Route{{Cluster: "c"}}},
		map[string]*Selector{"c": selector},
		resources,
		nil,
		sink,
	)

	downLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen downstream: %v", err)
	}
	defer downLn.Close()

	serverSide, clientSide := dialDownstream(t, downLn)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		filter.HandleConnection(ctx, serverSide)
		close(done)
	}()

	payload := bytes.Repeat([]byte{'x'}, payloadSize)
	if _, err := clientSide.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	clientSide.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection handler did not exit after downstream close")
	}

	if got := sink.Count(stats.UpstreamFlushTotal); got != 1 {
		t.Fatalf("upstream_flush_total = %d, want 1", got)
	}

	select {
	case total := <-received:
		if total != payloadSize {
			t.Fatalf("upstream received %d bytes, want %d (deferred flush must not drop queued bytes)", total, payloadSize)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never finished draining the deferred flush")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if g := sink.GaugeValue(stats.UpstreamFlushActive); g == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("upstream_flush_active = %d, want 0 once the drain finished", sink.GaugeValue(stats.UpstreamFlushActive))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
