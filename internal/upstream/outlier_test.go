package upstream

import (
	"testing"
	"time"
)

func newTestHost(addr string) *Host {
	return NewHost(tcpAddr(addr, 80), "", Locality{}, 1, nil)
}

func TestOutlierPolicyEjectsAfterConsecutiveFailures(t *testing.T) {
	p := NewOutlierPolicy(3, time.Second, 30*time.Second)
	h := newTestHost("10.0.0.1")

	for i := 0; i < 2; i++ {
		if _, ejected := p.Report(h, ResultConnectFailed); ejected {
			t.Fatalf("ejected too early on failure %d", i+1)
		}
	}
	if h.HealthFlags()&FlagFailedOutlierCheck != 0 {
		t.Fatal("host should not be ejected before threshold")
	}

	dur, ejected := p.Report(h, ResultConnectFailed)
	if !ejected {
		t.Fatal("expected ejection on third consecutive failure")
	}
	if dur != time.Second {
		t.Fatalf("got base ejection %v, want 1s", dur)
	}
	if h.HealthFlags()&FlagFailedOutlierCheck == 0 {
		t.Fatal("expected FlagFailedOutlierCheck to be set")
	}
}

func TestOutlierPolicyHealsImmediatelyOnSuccess(t *testing.T) {
	p := NewOutlierPolicy(1, time.Second, 30*time.Second)
	h := newTestHost("10.0.0.2")

	if _, ejected := p.Report(h, ResultTimeout); !ejected {
		t.Fatal("expected ejection after single failure with threshold 1")
	}

	if _, ejected := p.Report(h, ResultSuccess); ejected {
		t.Fatal("success must never itself report an ejection")
	}
	if h.HealthFlags()&FlagFailedOutlierCheck != 0 {
		t.Fatal("expected host to be healed on success")
	}
}

func TestOutlierPolicyEjectionBackoffResetsAfterHealing(t *testing.T) {
	p := NewOutlierPolicy(1, time.Second, 3*time.Second)
	h := newTestHost("10.0.0.3")

	dur1, _ := p.Report(h, ResultTimeout)
	if dur1 != time.Second {
		t.Fatalf("first ejection = %v, want 1s", dur1)
	}

	p.Report(h, ResultSuccess) // heal: clearing the flag also resets the ejection streak
	dur2, _ := p.Report(h, ResultTimeout)
	if dur2 != time.Second {
		t.Fatalf("ejection after healing = %v, want reset to base 1s", dur2)
	}
}

func TestEjectionLimiterBurst(t *testing.T) {
	lim := NewEjectionLimiter(1, 2)
	if !lim.Allow() {
		t.Fatal("expected first token to be available")
	}
	if !lim.Allow() {
		t.Fatal("expected second token from burst to be available")
	}
	if lim.Allow() {
		t.Fatal("expected burst to be exhausted on third call")
	}
}
