// Package handshake implements the client/server hello exchange that
// authenticates a transfer peer and derives its session keys before any
// chunk crosses the wire.
//
// The exchange is deliberately simple compared to an ephemeral-key
// handshake: there is no Diffie-Hellman step.
// Session keys are a SHA-256 hash over both parties' long-term identity
// public keys and a fresh nonce from each side, domain-separated per
// direction. This binds keys to the signed, replay-guarded hello messages
// rather than to a separate key-exchange transcript.
package handshake

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/AniketPatel369/p2p/internal/identity"
)

// EncryptionMode expresses a peer's stance on payload encryption.
type EncryptionMode uint8

const (
	EncryptionOff EncryptionMode = iota
	EncryptionOptional
	EncryptionRequired
)

// AsByte returns the wire encoding of the mode.
func (m EncryptionMode) AsByte() byte { return byte(m) }

// EncryptionModeFromByte decodes a wire byte, rejecting unknown values.
func EncryptionModeFromByte(b byte) (EncryptionMode, error) {
	switch EncryptionMode(b) {
	case EncryptionOff, EncryptionOptional, EncryptionRequired:
		return EncryptionMode(b), nil
	default:
		return 0, ErrInvalidCapabilities
	}
}

// Capabilities is advertised by both sides of the handshake.
type Capabilities struct {
	SupportsEncryption      bool
	PreferredEncryptionMode EncryptionMode
}

// NegotiatedEncryption is the outcome of reconciling two peers' Capabilities.
type NegotiatedEncryption struct {
	Enabled bool
	Mode    EncryptionMode
}

// ClientHello is the first message sent by the connecting peer.
type ClientHello struct {
	DeviceID       string
	PublicKeyB64   string
	Nonce          [32]byte
	TimestampSecs  uint64
	Capabilities   Capabilities
	Signature      [64]byte
}

// ServerHello answers a ClientHello.
type ServerHello struct {
	DeviceID      string
	PublicKeyB64  string
	ClientNonce   [32]byte
	ServerNonce   [32]byte
	TimestampSecs uint64
	Capabilities  Capabilities
	Signature     [64]byte
}

// SessionKeys holds the directional keys derived for one side of a session.
// TxKey encrypts what this side sends; RxKey decrypts what it receives.
type SessionKeys struct {
	TxKey [32]byte
	RxKey [32]byte
}

var (
	ErrTimestampSkew                  = errors.New("handshake: timestamp outside allowed skew")
	ErrInvalidSignature               = errors.New("handshake: invalid signature")
	ErrNonceMismatch                  = errors.New("handshake: client/server nonce mismatch")
	ErrEncryptionRequiredButUnsupported = errors.New("handshake: peer does not support required encryption mode")
	ErrInvalidCapabilities            = errors.New("handshake: invalid handshake capabilities")
)

// CreateClientHello builds and signs a hello for deviceID using identity,
// advertising the default (no-encryption) capability set.
func CreateClientHello(deviceID string, id *identity.DeviceIdentity) (ClientHello, error) {
	return CreateClientHelloWithCapabilities(deviceID, id, Capabilities{})
}

// CreateClientHelloWithCapabilities is CreateClientHello with explicit capabilities.
func CreateClientHelloWithCapabilities(deviceID string, id *identity.DeviceIdentity, caps Capabilities) (ClientHello, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return ClientHello{}, err
	}
	ts := nowUnix()
	pub := id.PublicKeyB64()
	toSign := clientHelloSigningBytes(deviceID, pub, nonce, ts, caps)
	var sig [64]byte
	copy(sig[:], id.Sign(toSign))

	return ClientHello{
		DeviceID:      deviceID,
		PublicKeyB64:  pub,
		Nonce:         nonce,
		TimestampSecs: ts,
		Capabilities:  caps,
		Signature:     sig,
	}, nil
}

// VerifyClientHello checks the timestamp skew and signature of hello.
func VerifyClientHello(hello ClientHello, maxSkewSecs, nowSecs uint64) error {
	if isSkewed(hello.TimestampSecs, nowSecs, maxSkewSecs) {
		return ErrTimestampSkew
	}
	data := clientHelloSigningBytes(hello.DeviceID, hello.PublicKeyB64, hello.Nonce, hello.TimestampSecs, hello.Capabilities)
	ok, err := identity.VerifySignature(hello.PublicKeyB64, data, hello.Signature[:])
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// CreateServerHello answers a verified ClientHello with the default
// (no-encryption) capability set.
func CreateServerHello(deviceID string, serverID *identity.DeviceIdentity, client ClientHello) (ServerHello, error) {
	return CreateServerHelloWithCapabilities(deviceID, serverID, client, Capabilities{})
}

// CreateServerHelloWithCapabilities is CreateServerHello with explicit capabilities.
func CreateServerHelloWithCapabilities(deviceID string, serverID *identity.DeviceIdentity, client ClientHello, caps Capabilities) (ServerHello, error) {
	var serverNonce [32]byte
	if _, err := rand.Read(serverNonce[:]); err != nil {
		return ServerHello{}, err
	}
	ts := nowUnix()
	pub := serverID.PublicKeyB64()
	data := serverHelloSigningBytes(deviceID, pub, client.Nonce, serverNonce, ts, caps)
	var sig [64]byte
	copy(sig[:], serverID.Sign(data))

	return ServerHello{
		DeviceID:      deviceID,
		PublicKeyB64:  pub,
		ClientNonce:   client.Nonce,
		ServerNonce:   serverNonce,
		TimestampSecs: ts,
		Capabilities:  caps,
		Signature:     sig,
	}, nil
}

// VerifyServerHello checks nonce binding, timestamp skew and signature.
func VerifyServerHello(expectedClientNonce [32]byte, hello ServerHello, maxSkewSecs, nowSecs uint64) error {
	if hello.ClientNonce != expectedClientNonce {
		return ErrNonceMismatch
	}
	if isSkewed(hello.TimestampSecs, nowSecs, maxSkewSecs) {
		return ErrTimestampSkew
	}
	data := serverHelloSigningBytes(hello.DeviceID, hello.PublicKeyB64, hello.ClientNonce, hello.ServerNonce, hello.TimestampSecs, hello.Capabilities)
	ok, err := identity.VerifySignature(hello.PublicKeyB64, data, hello.Signature[:])
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// NegotiateEncryption reconciles both sides' capabilities into a single
// decision. If either side requires encryption but both don't support it,
// negotiation fails outright rather than silently falling back to
// plaintext.
func NegotiateEncryption(client, server Capabilities) (NegotiatedEncryption, error) {
	if err := validateCapabilities(client); err != nil {
		return NegotiatedEncryption{}, err
	}
	if err := validateCapabilities(server); err != nil {
		return NegotiatedEncryption{}, err
	}

	eitherRequires := client.PreferredEncryptionMode == EncryptionRequired || server.PreferredEncryptionMode == EncryptionRequired
	bothSupport := client.SupportsEncryption && server.SupportsEncryption

	if eitherRequires && !bothSupport {
		return NegotiatedEncryption{}, ErrEncryptionRequiredButUnsupported
	}
	if !bothSupport {
		return NegotiatedEncryption{Enabled: false, Mode: EncryptionOff}, nil
	}
	if eitherRequires {
		return NegotiatedEncryption{Enabled: true, Mode: EncryptionRequired}, nil
	}
	if client.PreferredEncryptionMode == EncryptionOptional || server.PreferredEncryptionMode == EncryptionOptional {
		return NegotiatedEncryption{Enabled: true, Mode: EncryptionOptional}, nil
	}
	return NegotiatedEncryption{Enabled: false, Mode: EncryptionOff}, nil
}

func validateCapabilities(c Capabilities) error {
	if _, err := EncryptionModeFromByte(c.PreferredEncryptionMode.AsByte()); err != nil {
		return err
	}
	if !c.SupportsEncryption && c.PreferredEncryptionMode != EncryptionOff {
		return ErrInvalidCapabilities
	}
	return nil
}

// DeriveSessionKeys derives the tx/rx keypair for one side of the session.
// isClient selects which of the two directional digests becomes the
// transmit key versus the receive key.
func DeriveSessionKeys(clientPubB64, serverPubB64 string, clientNonce, serverNonce [32]byte, isClient bool) SessionKeys {
	c2s := deriveKeyMaterial([]byte("p2p/c2s"), clientPubB64, serverPubB64, clientNonce, serverNonce)
	s2c := deriveKeyMaterial([]byte("p2p/s2c"), clientPubB64, serverPubB64, clientNonce, serverNonce)
	if isClient {
		return SessionKeys{TxKey: c2s, RxKey: s2c}
	}
	return SessionKeys{TxKey: s2c, RxKey: c2s}
}

func deriveKeyMaterial(label []byte, clientPubB64, serverPubB64 string, clientNonce, serverNonce [32]byte) [32]byte {
	h := sha256.New()
	h.Write(label)
	h.Write([]byte(clientPubB64))
	h.Write([]byte(serverPubB64))
	h.Write(clientNonce[:])
	h.Write(serverNonce[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func clientHelloSigningBytes(deviceID, pubKeyB64 string, nonce [32]byte, ts uint64, caps Capabilities) []byte {
	out := make([]byte, 0, 64+len(deviceID)+len(pubKeyB64))
	out = append(out, "p2p/client-hello/v1"...)
	out = append(out, deviceID...)
	out = append(out, pubKeyB64...)
	out = append(out, nonce[:]...)
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], ts)
	out = append(out, tsBytes[:]...)
	out = append(out, boolByte(caps.SupportsEncryption))
	out = append(out, caps.PreferredEncryptionMode.AsByte())
	return out
}

func serverHelloSigningBytes(deviceID, pubKeyB64 string, clientNonce, serverNonce [32]byte, ts uint64, caps Capabilities) []byte {
	out := make([]byte, 0, 96+len(deviceID)+len(pubKeyB64))
	out = append(out, "p2p/server-hello/v1"...)
	out = append(out, deviceID...)
	out = append(out, pubKeyB64...)
	out = append(out, clientNonce[:]...)
	out = append(out, serverNonce[:]...)
	var tsBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], ts)
	out = append(out, tsBytes[:]...)
	out = append(out, boolByte(caps.SupportsEncryption))
	out = append(out, caps.PreferredEncryptionMode.AsByte())
	return out
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func nowUnix() uint64 { return uint64(time.Now().Unix()) }

func isSkewed(msgTS, now, maxSkew uint64) bool {
	if msgTS > now {
		return msgTS-now > maxSkew
	}
	return now-msgTS > maxSkew
}

// ReplayGuard rejects a nonce it has already seen within ttl, defending the
// listening side against a captured hello being replayed later.
type ReplayGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[[32]byte]time.Time
}

// NewReplayGuard creates a guard that remembers nonces for ttl.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{ttl: ttl, seen: make(map[[32]byte]time.Time)}
}

// CheckAndRemember reports whether nonce is fresh, recording it if so.
func (g *ReplayGuard) CheckAndRemember(nonce [32]byte, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked(now)
	if _, ok := g.seen[nonce]; ok {
		return false
	}
	g.seen[nonce] = now
	return true
}

// Expire drops entries older than ttl relative to now.
func (g *ReplayGuard) Expire(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireLocked(now)
}

func (g *ReplayGuard) expireLocked(now time.Time) {
	for nonce, seenAt := range g.seen {
		if now.Sub(seenAt) > g.ttl {
			delete(g.seen, nonce)
		}
	}
}
