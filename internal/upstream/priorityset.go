package upstream

import "sync"

// MembershipCallback is invoked once per priority, in ascending priority
// order, whenever that priority's HostSet changes. Observers are
// append-only within a run and receive every delta, in priority order.
type MembershipCallback func(priority uint32, added, removed []*Host)

// PrioritySet is the ordered vector of HostSets for one cluster. It grows
// monotonically — priorities are never removed — so that nothing holding
// a *HostSet reference from an earlier snapshot is ever invalidated, per
// it grows monotonically (never shrinks) to avoid observer
// invalidation."
type PrioritySet struct {
	mu        sync.RWMutex
	hostSets  []*HostSet
	observers []MembershipCallback
}

// NewPrioritySet returns an empty PrioritySet.
func NewPrioritySet() *PrioritySet {
	return &PrioritySet{}
}

// AddMembershipCallback registers an observer. Existing HostSet contents
// are NOT replayed — only future updates are delivered, following the
// teacher's plain event-channel registration style (compare
// notifyer.ChanNotifyer, which likewise only delivers events going
// forward).
func (ps *PrioritySet) AddMembershipCallback(cb MembershipCallback) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.observers = append(ps.observers, cb)
}

// GetOrCreate returns the HostSet at priority p, growing the vector if
// needed. Creation alone emits no callback.
func (ps *PrioritySet) GetOrCreate(p uint32) *HostSet {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.getOrCreateLocked(p)
}

func (ps *PrioritySet) getOrCreateLocked(p uint32) *HostSet {
	for uint32(len(ps.hostSets)) <= p {
		ps.hostSets = append(ps.hostSets, newHostSet(uint32(len(ps.hostSets))))
	}
	return ps.hostSets[p]
}

// HostSetAt returns the HostSet at priority p if it has been created, or
// nil otherwise.
func (ps *PrioritySet) HostSetAt(p uint32) *HostSet {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if int(p) >= len(ps.hostSets) {
		return nil
	}
	return ps.hostSets[p]
}

// HostSets returns every priority tier currently allocated, in ascending
// order.
func (ps *PrioritySet) HostSets() []*HostSet {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]*HostSet, len(ps.hostSets))
	copy(out, ps.hostSets)
	return out
}

// Update atomically swaps the five parallel vectors for priority p and
// then invokes every observer in registration order.
// The callback fires even when added and removed are both empty, so that
// observers can notice a locality-weight-only change (when the
// locality-weight map has changed for a priority, the set is considered
// changed even with no address delta.") — callers are responsible for
// only calling Update when they've decided a change occurred.
func (ps *PrioritySet) Update(
	p uint32,
	hosts, healthy []*Host,
	hostsPerLocality, healthyPerLocality [][]*Host,
	localityWeights []uint32,
	added, removed []*Host,
) {
	ps.mu.Lock()
	hs := ps.getOrCreateLocked(p)
	hs.rebuild(hosts, healthy, hostsPerLocality, healthyPerLocality, localityWeights)
	observers := make([]MembershipCallback, len(ps.observers))
	copy(observers, ps.observers)
	ps.mu.Unlock()

	for _, cb := range observers {
		cb(p, added, removed)
	}
}
