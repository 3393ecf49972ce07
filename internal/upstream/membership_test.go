package upstream

import (
	"net"
	"testing"
)

func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

func hostSetAddrs(hs *HostSet) map[string]bool {
	out := make(map[string]bool)
	for _, h := range hs.Hosts() {
		out[h.Address.String()] = true
	}
	return out
}

// TestMembershipDelta applies two successive updates to the same priority
// and checks that added/removed hosts are reported correctly and that a
// host present in both updates keeps its identity (and counters) rather
// than being rebuilt from scratch.
func TestMembershipDelta(t *testing.T) {
	e := NewEngine("c")

	var added1, removed1 []*Host
	e.Priorities().AddMembershipCallback(func(priority uint32, added, removed []*Host) {
		added1, removed1 = added, removed
	})

	err := e.Apply(EndpointAssignment{
		ClusterName: "c",
		Endpoints: []LocalityEndpoints{{
			Priority: 0,
			Members: []EndpointSpec{
				{Addr: tcpAddr("10.0.0.1", 80), Weight: 1, Healthy: true},
				{Addr: tcpAddr("10.0.0.2", 80), Weight: 1, Healthy: true},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	hs := e.Priorities().HostSetAt(0)
	got := hostSetAddrs(hs)
	want := map[string]bool{"10.0.0.1:80": true, "10.0.0.2:80": true}
	if len(got) != len(want) || got["10.0.0.1:80"] != true || got["10.0.0.2:80"] != true {
		t.Fatalf("hosts after first update = %v, want %v", got, want)
	}
	if len(added1) != 2 || len(removed1) != 0 {
		t.Fatalf("first update callback: added=%d removed=%d, want 2/0", len(added1), len(removed1))
	}

	// Keep a reference to host .2 to check identity preservation.
	var preserved *Host
	for _, h := range hs.Hosts() {
		if h.Address.String() == "10.0.0.2:80" {
			preserved = h
		}
	}

	err = e.Apply(EndpointAssignment{
		ClusterName: "c",
		Endpoints: []LocalityEndpoints{{
			Priority: 0,
			Members: []EndpointSpec{
				{Addr: tcpAddr("10.0.0.2", 80), Weight: 1, Healthy: true},
				{Addr: tcpAddr("10.0.0.3", 80), Weight: 1, Healthy: true},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Apply second update: %v", err)
	}
	if len(added1) != 1 || added1[0].Address.String() != "10.0.0.3:80" {
		t.Fatalf("second update added = %+v, want [10.0.0.3:80]", added1)
	}
	if len(removed1) != 1 || removed1[0].Address.String() != "10.0.0.1:80" {
		t.Fatalf("second update removed = %+v, want [10.0.0.1:80]", removed1)
	}
	hs2 := e.Priorities().HostSetAt(0)
	var foundPreserved bool
	for _, h := range hs2.Hosts() {
		if h == preserved {
			foundPreserved = true
		}
	}
	if !foundPreserved {
		t.Fatal("host 10.0.0.2:80 should be the same object across updates")
	}
}

func TestEmptyUpdateKeepsExistingHosts(t *testing.T) {
	e := NewEngine("c")
	err := e.Apply(EndpointAssignment{
		ClusterName: "c",
		Endpoints: []LocalityEndpoints{{
			Priority: 0,
			Members:  []EndpointSpec{{Addr: tcpAddr("10.0.0.1", 80), Weight: 1, Healthy: true}},
		}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	err = e.Apply(EndpointAssignment{ClusterName: "c"})
	if err != nil {
		t.Fatalf("empty Apply: %v", err)
	}
	if got := e.Stats().UpdateEmpty; got != 1 {
		t.Fatalf("UpdateEmpty = %d, want 1", got)
	}
	hs := e.Priorities().HostSetAt(0)
	if len(hs.Hosts()) != 1 {
		t.Fatalf("hosts after empty update = %d, want 1 (unchanged)", len(hs.Hosts()))
	}
}

func TestAbsentPriorityIsEmptied(t *testing.T) {
	e := NewEngine("c")
	err := e.Apply(EndpointAssignment{
		ClusterName: "c",
		Endpoints: []LocalityEndpoints{{
			Priority: 1,
			Members:  []EndpointSpec{{Addr: tcpAddr("10.0.0.1", 80), Weight: 1, Healthy: true}},
		}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Second update has only priority 0; priority 1 must be emptied.
	err = e.Apply(EndpointAssignment{
		ClusterName: "c",
		Endpoints: []LocalityEndpoints{{
			Priority: 0,
			Members:  []EndpointSpec{{Addr: tcpAddr("10.0.0.2", 80), Weight: 1, Healthy: true}},
		}},
	})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	hs1 := e.Priorities().HostSetAt(1)
	if len(hs1.Hosts()) != 0 {
		t.Fatalf("priority 1 hosts = %d, want 0 (emptied)", len(hs1.Hosts()))
	}
}

func TestLocalClusterRejectsNonZeroPriority(t *testing.T) {
	e := NewEngine("local", WithLocalCluster(Locality{Region: "r"}))
	err := e.Apply(EndpointAssignment{
		ClusterName: "local",
		Endpoints: []LocalityEndpoints{{
			Priority: 1,
			Members:  []EndpointSpec{{Addr: tcpAddr("10.0.0.1", 80), Weight: 1, Healthy: true}},
		}},
	})
	if _, ok := err.(ErrValidation); !ok {
		t.Fatalf("err = %v (%T), want ErrValidation", err, err)
	}
}

// TestLocalClusterRejectsWholeUpdateBeforeApplying checks that a
// multi-priority update to a local-cluster engine with an offending
// later priority never publishes the earlier, valid priority either:
// validation happens before any priority is applied, not interleaved
// with applying them.
func TestLocalClusterRejectsWholeUpdateBeforeApplying(t *testing.T) {
	e := NewEngine("local", WithLocalCluster(Locality{Region: "r"}))

	var callbackFired bool
	e.Priorities().AddMembershipCallback(func(priority uint32, added, removed []*Host) {
		callbackFired = true
	})

	err := e.Apply(EndpointAssignment{
		ClusterName: "local",
		Endpoints: []LocalityEndpoints{
			{Priority: 0, Members: []EndpointSpec{{Addr: tcpAddr("10.0.0.1", 80), Weight: 1, Healthy: true}}},
			{Priority: 1, Members: []EndpointSpec{{Addr: tcpAddr("10.0.0.2", 80), Weight: 1, Healthy: true}}},
		},
	})
	if _, ok := err.(ErrValidation); !ok {
		t.Fatalf("err = %v (%T), want ErrValidation", err, err)
	}
	if callbackFired {
		t.Fatal("priority 0 must not be published when a later priority in the same update fails validation")
	}
	if hs := e.Priorities().HostSetAt(0); hs != nil && len(hs.Hosts()) != 0 {
		t.Fatalf("priority 0 hosts = %d, want 0 (whole update rejected)", len(hs.Hosts()))
	}
}

func TestClusterNameMismatchIsFatalForUpdate(t *testing.T) {
	e := NewEngine("c")
	err := e.Apply(EndpointAssignment{ClusterName: "other"})
	if _, ok := err.(ErrValidation); !ok {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestHealthySubsetInvariant(t *testing.T) {
	e := NewEngine("c")
	err := e.Apply(EndpointAssignment{
		ClusterName: "c",
		Endpoints: []LocalityEndpoints{{
			Priority: 0,
			Members: []EndpointSpec{
				{Addr: tcpAddr("10.0.0.1", 80), Weight: 1, Healthy: true},
				{Addr: tcpAddr("10.0.0.2", 80), Weight: 1, Healthy: false},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	hs := e.Priorities().HostSetAt(0)
	for _, h := range hs.HealthyHosts() {
		if !h.Healthy() {
			t.Fatalf("host in healthy set has flags set: %v", h.HealthFlags())
		}
	}
	for _, h := range hs.Hosts() {
		if h.HealthFlags() != 0 {
			for _, hh := range hs.HealthyHosts() {
				if hh == h {
					t.Fatalf("unhealthy host found in healthy subset")
				}
			}
		}
	}
}
