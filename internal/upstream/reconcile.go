package upstream

// reconcileHosts implements the host reconciliation algorithm: given the
// hosts named by an incoming update and the hosts currently held by a
// priority, produce the added/removed/merged sets with stable ordering
// following the update's order, reusing existing Host objects (and their
// in-flight counters) for anything that's still present.
//
// This mirrors the teacher's recontile_algo.go shape — diff against a
// map, then replay in the new order — generalized from target-group
// placement diffing to host-address diffing.
func reconcileHosts(newHosts []*Host, currentHosts []*Host, drainOnRemoval bool) (added, removed, merged []*Host) {
	existing := make(map[string]*Host, len(currentHosts))
	for _, h := range currentHosts {
		existing[addrKey(h.Address)] = h
	}

	merged = make([]*Host, 0, len(newHosts))
	added = make([]*Host, 0, len(newHosts))

	for _, nh := range newHosts {
		key := addrKey(nh.Address)
		if old, ok := existing[key]; ok {
			mergeMutableAttrs(old, nh)
			old.setUsed(true)
			merged = append(merged, old)
			delete(existing, key)
			continue
		}
		nh.setUsed(true)
		merged = append(merged, nh)
		added = append(added, nh)
	}

	removed = make([]*Host, 0, len(existing))
	for _, stale := range existing {
		if drainOnRemoval {
			stale.setUsed(false)
		}
		removed = append(removed, stale)
	}
	return added, removed, merged
}

// mergeMutableAttrs copies the update's weight, metadata and locality onto
// the preserved Host — identity is kept, mutable fields
// are refreshed.
func mergeMutableAttrs(existing, update *Host) {
	existing.SetWeight(update.Weight())
	existing.SetMetadata(update.Metadata())
	if update.Locality != (Locality{}) {
		existing.Locality = update.Locality
	}
}

// partitionByLocality buckets hosts into per-locality groups, preserving
// first-appearance order for bucket ordering, and placing localID (if
// non-nil and present) at bucket 0 as the "local" locality.
func partitionByLocality(hosts []*Host, localID *Locality) (buckets [][]*Host, order []Locality) {
	index := make(map[Locality]int)
	if localID != nil {
		index[*localID] = 0
		buckets = append(buckets, nil)
		order = append(order, *localID)
	}
	for _, h := range hosts {
		idx, ok := index[h.Locality]
		if !ok {
			idx = len(buckets)
			index[h.Locality] = idx
			buckets = append(buckets, nil)
			order = append(order, h.Locality)
		}
		buckets[idx] = append(buckets[idx], h)
	}
	return buckets, order
}

// healthySubset returns the hosts in hosts with no health flags set,
// preserving order.
func healthySubset(hosts []*Host) []*Host {
	out := make([]*Host, 0, len(hosts))
	for _, h := range hosts {
		if h.Healthy() {
			out = append(out, h)
		}
	}
	return out
}
