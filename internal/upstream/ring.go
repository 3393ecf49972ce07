package upstream

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// ringPolicy is an optional source-IP-sticky host selection policy: once
// a locality bucket has been chosen by the EDF scheduler, a ring hash over
// the bucket's healthy hosts picks which one serves a given key (e.g. the
// downstream source address), so the same client tends to land on the
// same host across reconnects. Grounded on the teacher's consistent
// hashing usage in healthcheck/internal/sharder/sharder.go and
// healthcheck/internal/consistent/*, which hashes hc-worker-node
// ownership with xxhash; the same ring shape is reused here over
// (virtual-node -> host) instead of (vshard -> worker-node). Nothing in
// this module constructs one; tcpproxy.Selector picks hosts with
// HostPicker.
type ringPolicy struct {
	replicas int
	ring     []ringPoint
}

type ringPoint struct {
	hash uint64
	host *Host
}

const defaultVirtualNodesPerHost = 100

// newRingPolicy builds a ring over hosts, hashing replicas virtual points
// per host with xxhash the same way the teacher's sharder builds its
// vshard ring.
func newRingPolicy(hosts []*Host) *ringPolicy {
	rp := &ringPolicy{replicas: defaultVirtualNodesPerHost}
	for _, h := range hosts {
		key := addrKey(h.Address)
		for i := 0; i < rp.replicas; i++ {
			point := xxhash.Sum64String(ringVnodeKey(key, i))
			rp.ring = append(rp.ring, ringPoint{hash: point, host: h})
		}
	}
	sort.Slice(rp.ring, func(i, j int) bool { return rp.ring[i].hash < rp.ring[j].hash })
	return rp
}

func ringVnodeKey(key string, i int) string {
	buf := make([]byte, 0, len(key)+8)
	buf = append(buf, key...)
	buf = append(buf, '#')
	buf = appendInt(buf, i)
	return string(buf)
}

func appendInt(buf []byte, n int) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	// reverse the digits just appended
	for l, r := start, len(buf)-1; l < r; l, r = l+1, r-1 {
		buf[l], buf[r] = buf[r], buf[l]
	}
	return buf
}

// Pick returns the host owning the ring position clockwise from key's
// hash, or nil if the ring is empty.
func (rp *ringPolicy) Pick(key string) *Host {
	if len(rp.ring) == 0 {
		return nil
	}
	h := xxhash.Sum64String(key)
	i := sort.Search(len(rp.ring), func(i int) bool { return rp.ring[i].hash >= h })
	if i == len(rp.ring) {
		i = 0
	}
	return rp.ring[i].host
}
