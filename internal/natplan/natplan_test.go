package natplan

import (
	"strings"
	"testing"
)

func withRelay(addr string) CandidateSet {
	return CandidateSet{Local: "10.0.0.1:1", Relay: addr, HasRelayAddr: true}
}

func withReflexive(addr string) CandidateSet {
	return CandidateSet{Local: "10.0.0.1:1", StunReflexive: addr, HasReflexive: true}
}

func TestDecideRouteSymmetricBothNoRelayIsDirectWithReason(t *testing.T) {
	plan := DecideRoute(NatSymmetric, NatSymmetric, CandidateSet{}, CandidateSet{})
	if plan.Route != RouteDirect {
		t.Fatalf("route = %v, want Direct", plan.Route)
	}
	if !strings.Contains(plan.Reason, "relay unavailable") {
		t.Fatalf("reason = %q, want it to mention relay unavailable", plan.Reason)
	}
}

func TestDecideRouteSymmetricWithRelayOnOneSideIsRelay(t *testing.T) {
	plan := DecideRoute(NatSymmetric, NatRestrictedCone, CandidateSet{}, withRelay("203.0.113.1:1"))
	if plan.Route != RouteRelay {
		t.Fatalf("route = %v, want Relay", plan.Route)
	}
}

func TestDecideRouteBothReflexiveIsDirect(t *testing.T) {
	local := withReflexive("198.51.100.1:1")
	remote := withReflexive("198.51.100.2:1")
	plan := DecideRoute(NatFullCone, NatRestrictedCone, local, remote)
	if plan.Route != RouteDirect {
		t.Fatalf("route = %v, want Direct", plan.Route)
	}
}

func TestDecideRouteEitherRelayWithoutBothReflexiveIsRelay(t *testing.T) {
	local := CandidateSet{}
	remote := withRelay("203.0.113.9:1")
	plan := DecideRoute(NatFullCone, NatPortRestrictedCone, local, remote)
	if plan.Route != RouteRelay {
		t.Fatalf("route = %v, want Relay", plan.Route)
	}
}

func TestDecideRouteDefaultIsDirect(t *testing.T) {
	plan := DecideRoute(NatOpenInternet, NatOpenInternet, CandidateSet{}, CandidateSet{})
	if plan.Route != RouteDirect {
		t.Fatalf("route = %v, want Direct", plan.Route)
	}
}

func TestDecideRouteIsPure(t *testing.T) {
	local := withReflexive("198.51.100.1:1")
	remote := withRelay("203.0.113.1:1")
	a := DecideRoute(NatSymmetric, NatFullCone, local, remote)
	b := DecideRoute(NatSymmetric, NatFullCone, local, remote)
	if a != b {
		t.Fatalf("DecideRoute is not pure: %+v != %+v", a, b)
	}
}

func TestShouldAttemptHolePunch(t *testing.T) {
	if !ShouldAttemptHolePunch(NatFullCone, NatRestrictedCone) {
		t.Fatalf("expected true when neither side is symmetric")
	}
	if ShouldAttemptHolePunch(NatSymmetric, NatFullCone) {
		t.Fatalf("expected false when local is symmetric")
	}
	if ShouldAttemptHolePunch(NatFullCone, NatSymmetric) {
		t.Fatalf("expected false when remote is symmetric")
	}
}
