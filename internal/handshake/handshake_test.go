package handshake

import (
	"testing"
	"time"

	"github.com/AniketPatel369/p2p/internal/identity"
)

func mustIdentity(t *testing.T) *identity.DeviceIdentity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func TestClientHelloRoundTrip(t *testing.T) {
	id := mustIdentity(t)
	hello, err := CreateClientHello("device-a", id)
	if err != nil {
		t.Fatalf("CreateClientHello: %v", err)
	}
	if err := VerifyClientHello(hello, 5, hello.TimestampSecs); err != nil {
		t.Fatalf("VerifyClientHello: %v", err)
	}
}

func TestClientHelloRejectsTamperedSignature(t *testing.T) {
	id := mustIdentity(t)
	hello, _ := CreateClientHello("device-a", id)
	hello.Signature[0] ^= 0xFF
	if err := VerifyClientHello(hello, 5, hello.TimestampSecs); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestClientHelloRejectsSkew(t *testing.T) {
	id := mustIdentity(t)
	hello, _ := CreateClientHello("device-a", id)
	future := hello.TimestampSecs + 1000
	if err := VerifyClientHello(hello, 5, future); err != ErrTimestampSkew {
		t.Fatalf("expected ErrTimestampSkew, got %v", err)
	}
}

func TestServerHelloRejectsNonceMismatch(t *testing.T) {
	clientID := mustIdentity(t)
	serverID := mustIdentity(t)
	ch, _ := CreateClientHello("device-a", clientID)
	sh, err := CreateServerHello("device-b", serverID, ch)
	if err != nil {
		t.Fatalf("CreateServerHello: %v", err)
	}

	var wrongNonce [32]byte
	wrongNonce[0] = 1
	if err := VerifyServerHello(wrongNonce, sh, 5, sh.TimestampSecs); err != ErrNonceMismatch {
		t.Fatalf("expected ErrNonceMismatch, got %v", err)
	}
	if err := VerifyServerHello(ch.Nonce, sh, 5, sh.TimestampSecs); err != nil {
		t.Fatalf("VerifyServerHello: %v", err)
	}
}

func TestDeriveSessionKeysAreComplementary(t *testing.T) {
	var cn, sn [32]byte
	cn[0], sn[0] = 1, 2

	client := DeriveSessionKeys("client-pub", "server-pub", cn, sn, true)
	server := DeriveSessionKeys("client-pub", "server-pub", cn, sn, false)

	if client.TxKey != server.RxKey {
		t.Fatalf("client tx key must equal server rx key")
	}
	if client.RxKey != server.TxKey {
		t.Fatalf("client rx key must equal server tx key")
	}
}

func TestNegotiateEncryptionRequiredWithoutSupportFails(t *testing.T) {
	client := Capabilities{SupportsEncryption: false, PreferredEncryptionMode: EncryptionOff}
	server := Capabilities{SupportsEncryption: true, PreferredEncryptionMode: EncryptionRequired}

	if _, err := NegotiateEncryption(client, server); err != ErrEncryptionRequiredButUnsupported {
		t.Fatalf("expected ErrEncryptionRequiredButUnsupported, got %v", err)
	}
}

func TestNegotiateEncryptionBothOptional(t *testing.T) {
	caps := Capabilities{SupportsEncryption: true, PreferredEncryptionMode: EncryptionOptional}
	got, err := NegotiateEncryption(caps, caps)
	if err != nil {
		t.Fatalf("NegotiateEncryption: %v", err)
	}
	if !got.Enabled || got.Mode != EncryptionOptional {
		t.Fatalf("expected optional encryption enabled, got %+v", got)
	}
}

func TestNegotiateEncryptionNeitherSupports(t *testing.T) {
	caps := Capabilities{SupportsEncryption: false, PreferredEncryptionMode: EncryptionOff}
	got, err := NegotiateEncryption(caps, caps)
	if err != nil {
		t.Fatalf("NegotiateEncryption: %v", err)
	}
	if got.Enabled {
		t.Fatalf("expected encryption disabled")
	}
}

func TestNegotiateEncryptionRejectsInvalidCapabilities(t *testing.T) {
	bad := Capabilities{SupportsEncryption: false, PreferredEncryptionMode: EncryptionOptional}
	if _, err := NegotiateEncryption(bad, Capabilities{}); err != ErrInvalidCapabilities {
		t.Fatalf("expected ErrInvalidCapabilities, got %v", err)
	}
}

func TestReplayGuardRejectsRepeatedNonce(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	var nonce [32]byte
	nonce[0] = 7

	now := time.Now()
	if !g.CheckAndRemember(nonce, now) {
		t.Fatalf("first use of nonce should be accepted")
	}
	if g.CheckAndRemember(nonce, now) {
		t.Fatalf("replayed nonce should be rejected")
	}
}

func TestReplayGuardExpires(t *testing.T) {
	g := NewReplayGuard(10 * time.Millisecond)
	var nonce [32]byte
	nonce[0] = 9

	start := time.Now()
	if !g.CheckAndRemember(nonce, start) {
		t.Fatalf("first use should be accepted")
	}
	later := start.Add(50 * time.Millisecond)
	if !g.CheckAndRemember(nonce, later) {
		t.Fatalf("nonce should be accepted again after ttl expiry")
	}
}
