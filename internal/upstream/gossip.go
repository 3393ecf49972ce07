package upstream

import (
	"github.com/hashicorp/memberlist"
	"github.com/rs/zerolog/log"
)

// GossipHealthBridge wires hashicorp/memberlist peer-liveness events onto
// Host health flags: when the data-plane peer that owns a host's last
// known liveness signal gossips that node as dead, the corresponding
// Host gets FlagFailedOutlierCheck set rather than waiting on the next
// active health check cycle to notice.
//
// This is an optional signal (the same "external collaborator
// canceled on target teardown" sits in the same "external collaborator
// feeding into membership" category) grounded on the teacher's own
// gossip usage in healthcheck/internal/memberlist/gossip.go, which
// reuses memberlist's EventDelegate for node-health propagation across
// the teacher's hc-worker shards; here the same delegate shape reports
// into the Engine's hosts instead of the hc-sharder's node table.
type GossipHealthBridge struct {
	engine  *Engine
	byOwner map[string][]*Host // gossip node name -> hosts it fronts
}

// NewGossipHealthBridge builds a bridge that marks hosts unhealthy when
// their owning node is gossiped dead. ownerOf maps a Host's address key
// to the memberlist node name responsible for reporting its liveness.
func NewGossipHealthBridge(e *Engine, ownerOf map[string]string) *GossipHealthBridge {
	byOwner := make(map[string][]*Host)
	for _, hs := range e.Priorities().HostSets() {
		for _, h := range hs.Hosts() {
			owner, ok := ownerOf[addrKey(h.Address)]
			if !ok {
				continue
			}
			byOwner[owner] = append(byOwner[owner], h)
		}
	}
	return &GossipHealthBridge{engine: e, byOwner: byOwner}
}

var _ memberlist.EventDelegate = (*GossipHealthBridge)(nil)

// NotifyJoin clears the outlier flag for any host fronted by a node that
// rejoins the gossip ring.
func (g *GossipHealthBridge) NotifyJoin(n *memberlist.Node) {
	for _, h := range g.byOwner[n.Name] {
		h.ClearHealthFlag(FlagFailedOutlierCheck)
	}
	log.Debug().Str("node", n.Name).Msg("gossip: node joined, clearing outlier flag on owned hosts")
}

// NotifyLeave sets the outlier flag for any host fronted by a node that
// leaves the gossip ring (graceful or detected-dead).
func (g *GossipHealthBridge) NotifyLeave(n *memberlist.Node) {
	for _, h := range g.byOwner[n.Name] {
		h.SetHealthFlag(FlagFailedOutlierCheck)
	}
	log.Warn().Str("node", n.Name).Msg("gossip: node left, marking owned hosts outlier-failed")
}

// NotifyUpdate is a no-op here: metadata-only gossip updates don't affect
// host health.
func (g *GossipHealthBridge) NotifyUpdate(*memberlist.Node) {}
