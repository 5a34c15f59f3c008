package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

// Passphrase-wrapped keystore. This is a supplemental, optional convenience
// on top of Load/Save: the raw 32-byte seed file remains the canonical
// on-disk format, this only adds an encrypted variant for devices where the
// disk itself isn't trusted.

const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	keystoreSalt  = 32
	keystoreVers  = 1
)

// ErrInvalidPassphrase is returned when decryption fails, either because the
// passphrase is wrong or the file has been corrupted.
var ErrInvalidPassphrase = errors.New("identity: invalid passphrase or corrupted keystore")

// encryptedEntry is the on-disk JSON representation of a passphrase-wrapped key.
type encryptedEntry struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Sealed  []byte `json:"sealed"`
}

// SaveEncrypted wraps the identity's raw private key with an Argon2id-derived
// AES-256-GCM key and writes it to path.
func (d *DeviceIdentity) SaveEncrypted(path, passphrase string) error {
	if passphrase == "" {
		return errors.New("identity: passphrase must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("identity: save encrypted: %w", err)
	}

	salt := make([]byte, keystoreSalt)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("identity: save encrypted: %w", err)
	}
	key := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("identity: save encrypted: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("identity: save encrypted: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("identity: save encrypted: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, d.signingKey.Seed(), nil)

	entry := encryptedEntry{Version: keystoreVers, Salt: salt, Nonce: nonce, Sealed: sealed}
	data, err := json.MarshalIndent(&entry, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: save encrypted: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadEncrypted reverses SaveEncrypted.
func LoadEncrypted(path, passphrase string) (*DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: load encrypted: %w", err)
	}
	var entry encryptedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("identity: load encrypted: %w", err)
	}
	if entry.Version != keystoreVers {
		return nil, fmt.Errorf("identity: unsupported keystore version %d", entry.Version)
	}

	key := argon2.IDKey([]byte(passphrase), entry.Salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity: load encrypted: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: load encrypted: %w", err)
	}
	plain, err := gcm.Open(nil, entry.Nonce, entry.Sealed, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	if len(plain) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	return &DeviceIdentity{signingKey: ed25519.NewKeyFromSeed(plain)}, nil
}
