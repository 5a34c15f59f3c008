package lanpolicy

import (
	"net"
	"testing"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func TestClassifyPriorityOrder(t *testing.T) {
	cases := []struct {
		ip   string
		want AddressClass
	}{
		{"127.0.0.1", ClassLoopback},
		{"::1", ClassLoopback},
		{"169.254.1.1", ClassLinkLocal},
		{"fe80::1", ClassLinkLocal},
		{"10.0.0.5", ClassPrivate},
		{"172.16.0.1", ClassPrivate},
		{"172.31.255.255", ClassPrivate},
		{"172.32.0.1", ClassPublic},
		{"192.168.1.1", ClassPrivate},
		{"fc00::1", ClassPrivate},
		{"8.8.8.8", ClassPublic},
		{"2001:4860:4860::8888", ClassPublic},
	}
	for _, c := range cases {
		ip := net.ParseIP(c.ip)
		if ip == nil {
			t.Fatalf("net.ParseIP(%q) failed", c.ip)
		}
		if got := Classify(ip); got != c.want {
			t.Errorf("Classify(%q) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestEvaluatePeerDefaultPolicyAllowsLan(t *testing.T) {
	p := Default()
	for _, addr := range []string{"127.0.0.1:9000", "192.168.1.5:9000", "169.254.0.1:9000"} {
		d := p.EvaluatePeer(fakeAddr(addr))
		if !d.Allowed {
			t.Errorf("EvaluatePeer(%q) = denied (%s), want allowed", addr, d.Reason)
		}
	}
}

func TestEvaluatePeerDefaultPolicyDeniesPublic(t *testing.T) {
	p := Default()
	d := p.EvaluatePeer(fakeAddr("8.8.8.8:443"))
	if d.Allowed {
		t.Fatalf("expected public address denied, got allowed")
	}
}

func TestEvaluatePeerOfflineModeDisabledAllowsEverything(t *testing.T) {
	p := Default()
	p.OfflineMode = false
	d := p.EvaluatePeer(fakeAddr("8.8.8.8:443"))
	if !d.Allowed {
		t.Fatalf("expected allowed when offline mode disabled, got denied (%s)", d.Reason)
	}
}

func TestEvaluatePeerRespectsClassToggles(t *testing.T) {
	p := Default()
	p.AllowPrivate = false
	d := p.EvaluatePeer(fakeAddr("192.168.1.5:9000"))
	if d.Allowed {
		t.Fatalf("expected private denied when AllowPrivate is false")
	}
}

func TestEvaluatePeerUnparseableAddress(t *testing.T) {
	p := Default()
	d := p.EvaluatePeer(fakeAddr("not-an-address"))
	if d.Allowed {
		t.Fatalf("expected unparseable address denied")
	}
}

func TestValidatePeerSetAllAllowed(t *testing.T) {
	p := Default()
	addrs := []net.Addr{fakeAddr("127.0.0.1:1"), fakeAddr("10.0.0.1:1"), fakeAddr("169.254.1.1:1")}
	if err := p.ValidatePeerSet(addrs); err != nil {
		t.Fatalf("ValidatePeerSet: %v", err)
	}
}

func TestValidatePeerSetReturnsFirstDenial(t *testing.T) {
	p := Default()
	addrs := []net.Addr{fakeAddr("127.0.0.1:1"), fakeAddr("8.8.8.8:1"), fakeAddr("9.9.9.9:1")}
	err := p.ValidatePeerSet(addrs)
	if err == nil {
		t.Fatalf("expected error for denied peer")
	}
	denial, ok := err.(*Denial)
	if !ok {
		t.Fatalf("expected *Denial, got %T", err)
	}
	if denial.Addr.String() != "8.8.8.8:1" {
		t.Fatalf("denial.Addr = %v, want first denied peer", denial.Addr)
	}
}
