// Package upstream implements the cluster/endpoint membership engine: the
// Host, HostSet and PrioritySet data structures, the membership update
// delta algorithm, the locality-weighted scheduler, outlier detection and
// the per-priority resource manager.
package upstream

import (
	"net"
	"sync"
	"sync/atomic"
)

// HealthFlag is a bit in a Host's health bitset. A host is healthy iff no
// flag is set.
type HealthFlag uint32

const (
	FlagFailedActiveHC     HealthFlag = 1 << iota // active health check failed
	FlagFailedOutlierCheck                        // outlier detector ejected the host
	FlagFailedEDSHealth                            // the discovery source reported it unhealthy
)

const (
	minWeight = 1
	maxWeight = 128
)

// Locality is a region/zone/sub-zone triple describing an endpoint's
// topology, following the teacher's flat value-struct style for
// dimension-like data (compare models.TargetGroupSpec).
type Locality struct {
	Region  string
	Zone    string
	SubZone string
}

// Metadata is an opaque key/value tree attached to a Host, matching how
// the control plane passes free-form endpoint metadata through without
// interpreting it upstream.
type Metadata map[string]any

// Host is an upstream endpoint. Address identity is the only thing that
// makes two hosts equal/dedupable; everything else is mutable state that
// may be swapped in place by reconciliation so that existing references
// (held by in-flight connections, snapshots observers) keep seeing
// consistent updates.
type Host struct {
	Address  net.Addr
	Hostname string
	Locality Locality

	// mu guards metadata (Locality is overwritten in place by
	// reconciliation, under the Engine's lock); weight and health flags
	// are atomic because they are read far more often than written (load
	// balancing reads weight/health on every pick).
	mu       sync.RWMutex
	metadata Metadata

	weight      atomic.Uint32
	healthFlags atomic.Uint32
	used        atomic.Bool

	// Counters, shared across every owner of this Host the way the
	// teacher shares Executable status across coordinator/executor.
	Stats HostStats
}

// HostStats are the per-host counters a Host carries for its lifetime,
// regardless of which priority/locality bucket currently holds it.
type HostStats struct {
	ConnectSuccess atomic.Uint64
	ConnectFail    atomic.Uint64
	ConnectTimeout atomic.Uint64
}

// NewHost constructs a Host with a clamped initial weight and marks it
// used, mirroring the teacher's constructor-returns-ready-value pattern
// (compare models.NewHealthCheck).
func NewHost(addr net.Addr, hostname string, loc Locality, weight uint32, md Metadata) *Host {
	h := &Host{
		Address:  addr,
		Hostname: hostname,
		Locality: loc,
		metadata: md,
	}
	h.weight.Store(clampWeight(weight))
	h.used.Store(true)
	return h
}

func clampWeight(w uint32) uint32 {
	if w < minWeight {
		return minWeight
	}
	if w > maxWeight {
		return maxWeight
	}
	return w
}

// Weight returns the current load-balancing weight, always within
// [1, 128].
func (h *Host) Weight() uint32 {
	return h.weight.Load()
}

// SetWeight clamps and stores a new weight, used when reconciliation
// updates a preserved host's mutable attributes in place.
func (h *Host) SetWeight(w uint32) {
	h.weight.Store(clampWeight(w))
}

// Healthy reports whether no health flag is currently set.
func (h *Host) Healthy() bool {
	return h.healthFlags.Load() == 0
}

// HealthFlags returns the current bitset snapshot.
func (h *Host) HealthFlags() HealthFlag {
	return HealthFlag(h.healthFlags.Load())
}

// SetHealthFlag sets a bit in the bitset; returns true if this call
// changed healthy/unhealthy status (flags were 0 before and aren't now).
func (h *Host) SetHealthFlag(f HealthFlag) bool {
	before := h.healthFlags.Load()
	for {
		after := before | uint32(f)
		if after == before {
			return false
		}
		if h.healthFlags.CompareAndSwap(before, after) {
			return before == 0
		}
		before = h.healthFlags.Load()
	}
}

// ClearHealthFlag clears a bit; returns true if this call made the host
// healthy again (flags were non-zero before and are now zero).
func (h *Host) ClearHealthFlag(f HealthFlag) bool {
	before := h.healthFlags.Load()
	for {
		after := before &^ uint32(f)
		if after == before {
			return false
		}
		if h.healthFlags.CompareAndSwap(before, after) {
			return after == 0 && before != 0
		}
		before = h.healthFlags.Load()
	}
}

// Metadata returns a snapshot reference to the opaque metadata tree.
func (h *Host) Metadata() Metadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metadata
}

// SetMetadata whole-replaces the metadata reference, following the
// guidance to prefer an atomic snapshot pointer for whole-replace
// semantics rather than fine-grained mutation.
func (h *Host) SetMetadata(md Metadata) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = md
}

// Used reports the host's used mark. It is set on creation and when
// reconciliation keeps or adds the host, and cleared only for hosts
// removed by an engine built WithDrainOnRemoval; it is not a reference
// count of live HostSet snapshots.
func (h *Host) Used() bool {
	return h.used.Load()
}

func (h *Host) setUsed(v bool) {
	h.used.Store(v)
}

// addrKey returns a comparable dedup key for a net.Addr, since net.Addr
// itself isn't guaranteed comparable across concrete implementations.
func addrKey(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.Network() + "://" + a.String()
}
