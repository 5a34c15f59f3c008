// Package identity manages the Ed25519 device keypair that anchors every
// handshake and signature in the transfer core.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// ErrInvalidKey is returned when a key file does not contain exactly
	// ed25519.SeedSize (32) raw bytes, or a peer public key decodes to the
	// wrong length.
	ErrInvalidKey = errors.New("identity: invalid key material")

	// ErrInvalidBase64 is returned when a peer-supplied public key cannot
	// be decoded.
	ErrInvalidBase64 = errors.New("identity: invalid base64 public key")
)

// DeviceIdentity holds the signing keypair for this device.
type DeviceIdentity struct {
	signingKey ed25519.PrivateKey
}

// Generate creates a fresh random identity.
func Generate() (*DeviceIdentity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate: %w", err)
	}
	return &DeviceIdentity{signingKey: priv}, nil
}

// Load reads a raw 32-byte Ed25519 seed from path and reconstructs the
// keypair. A file of any other length is ErrInvalidKey.
func Load(path string) (*DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: load: %w", err)
	}
	if len(data) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	return &DeviceIdentity{signingKey: ed25519.NewKeyFromSeed(data)}, nil
}

// Save writes the 32-byte private seed to path, creating parent directories
// and restricting permissions to the owner. The write is atomic: data lands
// in a temp file in the same directory, then gets renamed into place, so a
// crash mid-write never leaves a truncated key on disk.
func (d *DeviceIdentity) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("identity: save: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return fmt.Errorf("identity: save: %w", err)
	}
	tmpPath := tmp.Name()
	seed := d.signingKey.Seed()
	if _, err := tmp.Write(seed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("identity: save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("identity: save: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0o600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("identity: save: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("identity: save: %w", err)
	}
	return nil
}

// VerifyingKey returns the public half of the keypair.
func (d *DeviceIdentity) VerifyingKey() ed25519.PublicKey {
	return d.signingKey.Public().(ed25519.PublicKey)
}

// PublicKeyB64 returns the unpadded standard-base64 encoding of the public key.
func (d *DeviceIdentity) PublicKeyB64() string {
	return base64.RawStdEncoding.EncodeToString(d.VerifyingKey())
}

// Sign produces a 64-byte Ed25519 signature over message.
func (d *DeviceIdentity) Sign(message []byte) []byte {
	return ed25519.Sign(d.signingKey, message)
}

// Fingerprint returns the first 16 bytes of SHA-256(public key) as
// upper-case hex pairs joined with colons, e.g. "AB:CD:EF:...".
func (d *DeviceIdentity) Fingerprint() string {
	return Fingerprint(d.VerifyingKey())
}

// Fingerprint computes the colon-joined fingerprint for an arbitrary
// Ed25519 public key, without requiring a DeviceIdentity.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	parts := make([]string, 16)
	for i := 0; i < 16; i++ {
		parts[i] = fmt.Sprintf("%02X", sum[i])
	}
	return strings.Join(parts, ":")
}

// VerifySignature verifies a detached signature against a base64-encoded
// (unpadded standard) Ed25519 public key.
func VerifySignature(pubKeyB64 string, message, sig []byte) (bool, error) {
	pubBytes, err := base64.RawStdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return false, ErrInvalidBase64
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return false, ErrInvalidKey
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), message, sig), nil
}
