package upstream

import "testing"

func TestResourceManagerConnectionOverflow(t *testing.T) {
	rm := NewResourceManager(ResourceManagerLimits{MaxConnections: 2})
	if !rm.Connections.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if !rm.Connections.TryAcquire() {
		t.Fatal("second acquire should succeed")
	}
	if rm.Connections.TryAcquire() {
		t.Fatal("third acquire should overflow")
	}
	rm.Connections.Release()
	if !rm.Connections.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestResourceManagerIndependentLimits(t *testing.T) {
	rm := NewResourceManager(ResourceManagerLimits{
		MaxConnections:     1,
		MaxPendingRequests: 1,
		MaxRequests:        1,
		MaxRetries:         1,
	})
	rm.Connections.TryAcquire()
	if !rm.Requests.TryAcquire() {
		t.Fatal("requests breaker should be independent of connections breaker")
	}
}
