// Package stats defines the counters/gauges surface shared by the
// membership engine and the TCP proxy filter, and a statsd-backed sink
// shaped after the teacher's healthcheck/internal/metrics package:
// the same three-method Metrics interface (Increment/Duration/Gauge)
// with a smira/go-statsd client behind it.
package stats

import (
	"strings"
	"sync"
	"time"

	statsd "github.com/smira/go-statsd"
)

// Sink is the narrow interface every stat-producing component depends
// on, so tests can swap in an in-memory recorder.
type Sink interface {
	Increment(metric string)
	IncrementBy(metric string, delta int64)
	Duration(metric string, d time.Duration)
	Gauge(metric string, value int64)
}

// Per-cluster counter names from the external stats surface.
const (
	UpstreamCxTotal                 = "upstream_cx_total"
	UpstreamCxConnectFail           = "upstream_cx_connect_fail"
	UpstreamCxConnectTimeout        = "upstream_cx_connect_timeout"
	UpstreamCxConnectAttemptsExceed = "upstream_cx_connect_attempts_exceeded"
	UpstreamCxOverflow              = "upstream_cx_overflow"
	UpstreamCxNoSuccessfulHost      = "upstream_cx_no_successful_host"
	UpstreamFlushTotal              = "upstream_flush_total"
	UpstreamFlushActive             = "upstream_flush_active"
	IdleTimeout                     = "idle_timeout"
	DownstreamCxTotal               = "downstream_cx_total"
	DownstreamCxNoRoute             = "downstream_cx_no_route"
	MembershipHealthy               = "membership_healthy"
	UpdateEmpty                     = "update_empty"
	UpdateNoRebuild                 = "update_no_rebuild"
)

// sanitize replaces ':' with '_' in a stat name. The source this system
// is modeled on does the same substitution and no other; whether that
// is a complete sanitizer or an intentional minimum is unclear, so this
// mirrors it exactly rather than generalizing.
func sanitize(metric string) string {
	return strings.ReplaceAll(metric, ":", "_")
}

// StatsdSink backs Sink with a real statsd client.
type StatsdSink struct {
	client *statsd.Client
}

// NewStatsdSink dials addr the same way metrics.NewStatsd does, scoping
// every metric under prefix and tagging with node.
func NewStatsdSink(node, prefix, addr string) *StatsdSink {
	client := statsd.NewClient(
		addr,
		statsd.MetricPrefix(prefix),
		statsd.DefaultTags(statsd.StringTag("node", node)),
	)
	return &StatsdSink{client: client}
}

func (s *StatsdSink) Increment(metric string) {
	s.client.Incr(sanitize(metric), 1)
}

func (s *StatsdSink) IncrementBy(metric string, delta int64) {
	s.client.Incr(sanitize(metric), delta)
}

func (s *StatsdSink) Duration(metric string, d time.Duration) {
	s.client.PrecisionTiming(sanitize(metric), d)
}

func (s *StatsdSink) Gauge(metric string, value int64) {
	s.client.Gauge(sanitize(metric), value)
}

// Close releases the underlying statsd client's socket.
func (s *StatsdSink) Close() error {
	return s.client.Close()
}

// MemorySink is an in-process Sink for tests, recording counters and
// gauges by name without any network dependency. Connections, flow
// pumps, and the flush registry all report through the same Sink from
// their own goroutines, so every access is mutex-guarded.
type MemorySink struct {
	mu        sync.Mutex
	Counters  map[string]int64
	Gauges    map[string]int64
	Durations map[string][]time.Duration
}

// NewMemorySink builds an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		Counters:  make(map[string]int64),
		Gauges:    make(map[string]int64),
		Durations: make(map[string][]time.Duration),
	}
}

func (m *MemorySink) Increment(metric string) {
	m.IncrementBy(metric, 1)
}

func (m *MemorySink) IncrementBy(metric string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[sanitize(metric)] += delta
}

func (m *MemorySink) Duration(metric string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sanitize(metric)
	m.Durations[key] = append(m.Durations[key], d)
}

func (m *MemorySink) Gauge(metric string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[sanitize(metric)] = value
}

// Count returns a counter's current value, synchronized with concurrent
// writers — tests should read through this rather than indexing
// Counters directly once a Sink is shared across goroutines.
func (m *MemorySink) Count(metric string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[sanitize(metric)]
}

// GaugeValue returns a gauge's current value, synchronized with
// concurrent writers.
func (m *MemorySink) GaugeValue(metric string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Gauges[sanitize(metric)]
}

var _ Sink = (*StatsdSink)(nil)
var _ Sink = (*MemorySink)(nil)
