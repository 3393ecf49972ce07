package upstream

// HostPicker selects one host from a fixed slice using the same
// EDF discipline as localityScheduler, weighted by each host's current
// Weight(). Snapshots are immutable — callers rebuild a HostPicker
// whenever the underlying host slice changes, the same way a HostSet
// rebuilds its scheduler on every membership update.
type HostPicker struct {
	hosts     []*Host
	scheduler *localityScheduler
}

// NewHostPicker builds a picker over hosts, weighting each by its
// current Weight(). Hosts with zero weight (never true post-clamp, but
// defensive) are skipped by the underlying scheduler.
func NewHostPicker(hosts []*Host) *HostPicker {
	weights := make([]float64, len(hosts))
	for i, h := range hosts {
		weights[i] = float64(h.Weight())
	}
	return &HostPicker{hosts: hosts, scheduler: newLocalityScheduler(weights)}
}

// Pick returns the next host, or nil if the picker was built over an
// empty or all-zero-weight host slice.
func (p *HostPicker) Pick() *Host {
	if p == nil || len(p.hosts) == 0 {
		return nil
	}
	idx, ok := p.scheduler.Pick()
	if !ok {
		return nil
	}
	return p.hosts[idx]
}
