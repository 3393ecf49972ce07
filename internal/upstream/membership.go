package upstream

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// EndpointAssignment is one incoming endpoint-discovery update for a
// single cluster, matching the wire-level ClusterLoadAssignment shape.
type EndpointAssignment struct {
	ClusterName string
	Endpoints   []LocalityEndpoints
}

// LocalityEndpoints is one locality group within an assignment.
type LocalityEndpoints struct {
	Locality Locality
	Priority uint32
	Weight   *uint32 // nil means "unspecified", matching the wire's optional load_balancing_weight
	Members  []EndpointSpec
}

// EndpointSpec is a single upstream address plus the attributes needed to
// build a Host from it.
type EndpointSpec struct {
	Addr     net.Addr
	Hostname string
	Weight   uint32
	Metadata Metadata
	Healthy  bool // false maps to FlagFailedEDSHealth on the constructed Host
}

// Engine is the membership engine for one cluster: it owns the cluster's
// PrioritySet and applies incoming EndpointAssignments to it via a
// per-priority delta algorithm.
type Engine struct {
	clusterName    string
	isLocalCluster bool
	drainOnRemoval bool
	localLocality  *Locality

	priorities *PrioritySet

	mu              sync.Mutex
	localityWeights map[uint32]map[Locality]uint32 // priority -> locality -> weight, for change detection

	emptyUpdates   atomic.Uint64
	noRebuilds     atomic.Uint64
	initialized    atomic.Bool
	initFailedOnce atomic.Bool
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithLocalCluster marks the cluster this engine tracks as the "local"
// cluster, so priority > 0 assignments are rejected.
func WithLocalCluster(local Locality) EngineOption {
	return func(e *Engine) {
		e.isLocalCluster = true
		e.localLocality = &local
	}
}

// WithDrainOnRemoval clears the used mark of hosts that an update
// removes. Removed hosts leave the HostSet on that update with or
// without this option; nothing defers their removal.
func WithDrainOnRemoval() EngineOption {
	return func(e *Engine) { e.drainOnRemoval = true }
}

// NewEngine constructs a membership engine for clusterName, backed by a
// fresh PrioritySet.
func NewEngine(clusterName string, opts ...EngineOption) *Engine {
	e := &Engine{
		clusterName:     clusterName,
		priorities:      NewPrioritySet(),
		localityWeights: make(map[uint32]map[Locality]uint32),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Priorities exposes the underlying PrioritySet for load-balancing reads
// and observer registration.
func (e *Engine) Priorities() *PrioritySet { return e.priorities }

// Stats exposes the counters this engine itself tracks (membership_healthy
// is computed on demand from the PrioritySet, not stored here).
type Stats struct {
	UpdateEmpty    uint64
	UpdateNoRebuild uint64
}

func (e *Engine) Stats() Stats {
	return Stats{
		UpdateEmpty:     e.emptyUpdates.Load(),
		UpdateNoRebuild: e.noRebuilds.Load(),
	}
}

// ErrValidation marks an update as rejected without touching existing
// membership: a malformed assignment is fatal for that update only, and
// the resulting error stays within the subscription layer rather than
// propagating further.
type ErrValidation struct{ Reason string }

func (e ErrValidation) Error() string { return "endpoint update validation failed: " + e.Reason }

// Apply consumes one EndpointAssignment, validates it, computes the
// per-priority delta against current state, and publishes the result via
// PrioritySet.Update — in ascending priority order.
//
// An empty update (ClusterName matches but no Endpoints at all) completes
// initialization and bumps the "empty" counter without clearing existing
// hosts.
func (e *Engine) Apply(update EndpointAssignment) error {
	if update.ClusterName != e.clusterName {
		return ErrValidation{Reason: fmt.Sprintf("cluster name mismatch: got %q, want %q", update.ClusterName, e.clusterName)}
	}
	if len(update.Endpoints) == 0 {
		e.emptyUpdates.Add(1)
		e.initialized.Store(true)
		log.Info().Str("cluster", e.clusterName).Msg("membership: empty update, keeping existing hosts")
		return nil
	}

	// stage validates every group in the update (priority range,
	// local-cluster priority-0-only, address presence) before anything
	// below mutates a PrioritySet or fires an observer callback, so a
	// malformed update is rejected in full rather than partially applied.
	staged, order, err := e.stage(update)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Union of priorities present in the update and priorities already
	// known, so a priority dropped entirely from the update gets emptied
	// A priority present in current state but absent from the update is
	// emptied (all hosts removed).
	present := make(map[uint32]struct{}, len(staged))
	for p := range staged {
		present[p] = struct{}{}
	}
	for _, hs := range e.priorities.HostSets() {
		present[hs.Priority()] = struct{}{}
	}

	priorityOrder := make([]uint32, 0, len(present))
	for p := range present {
		priorityOrder = append(priorityOrder, p)
	}
	sortUint32(priorityOrder)

	for _, p := range priorityOrder {
		view, ok := staged[p]
		if !ok {
			view = stagedPriority{} // absent: treat as "no new hosts"
		}
		e.applyPriority(p, view)
	}
	_ = order
	return nil
}

type stagedPriority struct {
	hosts           []*Host
	localityWeights map[Locality]uint32
}

// stage builds the per-priority staging view: priority ->
// (new_hosts_for_priority, locality_weights_map), rejecting the whole
// update before any mutation if any group fails validation (priority out
// of range, a local-cluster engine sent a priority above 0, or an
// endpoint is missing its address). Repeated LocalityLbEndpoints entries
// for the same priority are merged rather than rejected, matching
// observed upstream behavior that merges without enforcing uniqueness.
func (e *Engine) stage(update EndpointAssignment) (map[uint32]stagedPriority, []uint32, error) {
	out := make(map[uint32]stagedPriority)
	order := make([]uint32, 0, len(update.Endpoints))

	for _, group := range update.Endpoints {
		if group.Priority > 127 {
			return nil, nil, ErrValidation{Reason: fmt.Sprintf("priority %d out of range [0,127]", group.Priority)}
		}
		if e.isLocalCluster && group.Priority > 0 {
			return nil, nil, ErrValidation{Reason: "priority > 0 not allowed for local cluster"}
		}
		view, seen := out[group.Priority]
		if !seen {
			view.localityWeights = make(map[Locality]uint32)
			order = append(order, group.Priority)
		}
		if group.Weight != nil {
			view.localityWeights[group.Locality] = *group.Weight
		}
		for _, ep := range group.Members {
			if ep.Addr == nil {
				return nil, nil, ErrValidation{Reason: "endpoint missing address"}
			}
			h := NewHost(ep.Addr, ep.Hostname, group.Locality, ep.Weight, ep.Metadata)
			if !ep.Healthy {
				h.SetHealthFlag(FlagFailedEDSHealth)
			}
			view.hosts = append(view.hosts, h)
		}
		out[group.Priority] = view
	}
	return out, order, nil
}

// applyPriority computes the delta for one priority and publishes it,
// skipping the publish entirely (bumping UpdateNoRebuild) when nothing
// actually changed — no address delta and no locality-weight change.
func (e *Engine) applyPriority(p uint32, view stagedPriority) {
	hs := e.priorities.GetOrCreate(p)
	added, removed, merged := reconcileHosts(view.hosts, hs.Hosts(), e.drainOnRemoval)

	weightsChanged := e.localityWeightsChanged(p, view.localityWeights)
	if len(added) == 0 && len(removed) == 0 && !weightsChanged {
		e.noRebuilds.Add(1)
		return
	}

	var localID *Locality
	if e.localLocality != nil {
		localID = e.localLocality
	}
	hostsPerLoc, order := partitionByLocality(merged, localID)
	// healthyPerLoc must align index-for-index with hostsPerLoc even when
	// a locality has zero healthy hosts, so it's built against the exact
	// bucket order established above rather than re-derived independently.
	healthyPerLoc := alignBuckets(order, healthySubset(merged))

	weights := make([]uint32, len(order))
	for i, loc := range order {
		weights[i] = view.localityWeights[loc]
	}

	e.priorities.Update(p, merged, healthySubset(merged), hostsPerLoc, healthyPerLoc, weights, added, removed)
	e.setLocalityWeights(p, view.localityWeights)
}

// alignBuckets re-partitions subset against the exact locality order
// established by the full host list, so index i of healthyPerLocality
// always corresponds to index i of hostsPerLocality even if locality i
// has no healthy hosts at all.
func alignBuckets(order []Locality, subset []*Host) [][]*Host {
	pos := make(map[Locality]int, len(order))
	for i, loc := range order {
		pos[loc] = i
	}
	out := make([][]*Host, len(order))
	for _, h := range subset {
		idx, ok := pos[h.Locality]
		if !ok {
			continue
		}
		out[idx] = append(out[idx], h)
	}
	return out
}

func (e *Engine) localityWeightsChanged(p uint32, next map[Locality]uint32) bool {
	prev, ok := e.localityWeights[p]
	if !ok {
		return len(next) > 0
	}
	if len(prev) != len(next) {
		return true
	}
	for loc, w := range next {
		if prev[loc] != w {
			return true
		}
	}
	return false
}

func (e *Engine) setLocalityWeights(p uint32, weights map[Locality]uint32) {
	cp := make(map[Locality]uint32, len(weights))
	for k, v := range weights {
		cp[k] = v
	}
	e.localityWeights[p] = cp
}

// OnSubscriptionError records that the discovery transport reported an
// error. Subscription errors do NOT clear membership — they complete
// initialization with current state so the containing system can
// proceed.
func (e *Engine) OnSubscriptionError(err error) {
	log.Error().Err(err).Str("cluster", e.clusterName).Msg("membership: subscription error, keeping current state")
	e.initialized.Store(true)
}

// Initialized reports whether this engine has completed its first update
// cycle (successfully or via empty update / subscription error).
func (e *Engine) Initialized() bool { return e.initialized.Load() }

// sortUint32 is a tiny insertion sort; priority counts are always small
// (<=128) so this avoids pulling in sort for one call site.
func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
