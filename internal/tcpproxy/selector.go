package tcpproxy

import (
	"github.com/Sh00ty/proxyplane/internal/upstream"
)

// ErrNoHealthyHost is returned by a Selector when every priority tier of
// a cluster has no healthy host to offer.
type ErrNoHealthyHost struct{ Cluster string }

func (e ErrNoHealthyHost) Error() string {
	return "tcpproxy: no healthy host available for cluster " + e.Cluster
}

// Selector picks an upstream host for one connection attempt: lowest
// priority tier with a healthy host wins, and within that tier locality
// weighting picks a bucket. Pick builds a fresh HostPicker on every
// call, so within the bucket it returns the highest-weight candidate
// (the first one on equal weights); host weights do not spread picks
// across calls.
type Selector struct {
	clusterName string
	priorities  *upstream.PrioritySet
}

// NewSelector builds a Selector over one cluster's PrioritySet.
func NewSelector(clusterName string, priorities *upstream.PrioritySet) *Selector {
	return &Selector{clusterName: clusterName, priorities: priorities}
}

// Pick chooses a host, excluding any host whose address key is already
// present in exclude (hosts already attempted for this connection).
func (s *Selector) Pick(exclude map[string]bool) (*upstream.Host, error) {
	for _, hs := range s.priorities.HostSets() {
		healthy := hs.HealthyHosts()
		if len(healthy) == 0 {
			continue
		}
		candidates := filterExcluded(healthy, exclude)
		if len(candidates) == 0 {
			continue
		}
		if idx, ok := hs.ChooseLocality(); ok {
			bucket := filterExcluded(hs.HealthyHostsPerLocality()[idx], exclude)
			if len(bucket) > 0 {
				candidates = bucket
			}
		}
		if h := upstream.NewHostPicker(candidates).Pick(); h != nil {
			return h, nil
		}
	}
	return nil, ErrNoHealthyHost{Cluster: s.clusterName}
}

func filterExcluded(hosts []*upstream.Host, exclude map[string]bool) []*upstream.Host {
	if len(exclude) == 0 {
		return hosts
	}
	out := make([]*upstream.Host, 0, len(hosts))
	for _, h := range hosts {
		if !exclude[h.Address.String()] {
			out = append(out, h)
		}
	}
	return out
}
