package upstream

import (
	"container/heap"
	"sync"
)

// localityScheduler picks a locality bucket index using a smooth weighted
// round-robin / earliest-deadline-first discipline: each entry carries a
// "next virtual finish time" that advances by 1/weight on every pick, so
// entries with larger effective weight are popped proportionally more
// often. This is the same container/heap-based time-ordered-pop shape as
// the teacher's healthcheck/internal/scheduller/hc_invoke_heap.go, keyed
// on virtual finish time instead of wall-clock NextInvoke.
//
// Weighted scheduler (EDF): implemented as a priority queue keyed
// by next-virtual-finish-time; on empty-weight, return none."
type localityScheduler struct {
	mu   sync.Mutex
	heap edfHeap
}

type edfEntry struct {
	index      int // bucket index into HostSet's per-locality vectors
	weight     float64
	nextFinish float64
}

// newLocalityScheduler builds a scheduler from effective per-locality
// weights. A zero-weight locality is omitted entirely, so it can never be
// popped; if every weight is zero the scheduler is empty and Pick always
// returns (0, false).
func newLocalityScheduler(effectiveWeights []float64) *localityScheduler {
	s := &localityScheduler{}
	for i, w := range effectiveWeights {
		if w <= 0 {
			continue
		}
		s.heap = append(s.heap, &edfEntry{
			index:      i,
			weight:     w,
			nextFinish: 1.0 / w,
		})
	}
	heap.Init(&s.heap)
	return s
}

// Pick returns the next locality bucket index to use, or (0, false) if no
// locality carries positive effective weight.
func (s *localityScheduler) Pick() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return 0, false
	}
	top := s.heap[0]
	idx := top.index
	top.nextFinish += 1.0 / top.weight
	heap.Fix(&s.heap, 0)
	return idx, true
}

// Empty reports whether this scheduler has no positively-weighted
// locality at all — callers use this to detect the "all effective weights
// zero" case and fall back to flat host selection.
func (s *localityScheduler) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap) == 0
}

type edfHeap []*edfEntry

func (h edfHeap) Len() int { return len(h) }
func (h edfHeap) Less(i, j int) bool {
	if h[i].nextFinish != h[j].nextFinish {
		return h[i].nextFinish < h[j].nextFinish
	}
	return h[i].index < h[j].index
}
func (h edfHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *edfHeap) Push(x any)   { *h = append(*h, x.(*edfEntry)) }
func (h *edfHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// effectiveLocalityWeights computes locality_weight × healthy_in_locality
// / total_in_locality for each locality bucket. The ratio is kept as a
// float so a locality with few healthy hosts out of many still
// contributes a proportionally small, non-zero share (weight 1 with 1 of
// 5 hosts healthy must yield an effective weight of 0.2, not 0).
func effectiveLocalityWeights(localityWeights []uint32, hostsPerLocality, healthyPerLocality [][]*Host) []float64 {
	out := make([]float64, len(localityWeights))
	for i := range localityWeights {
		total := len(hostsPerLocality[i])
		if total == 0 || localityWeights[i] == 0 {
			out[i] = 0
			continue
		}
		healthy := len(healthyPerLocality[i])
		out[i] = float64(localityWeights[i]) * float64(healthy) / float64(total)
	}
	return out
}
