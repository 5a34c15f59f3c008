package envelope

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := randKey(t)
	nonce := DeriveNonce(42, 7, SenderToReceiver)
	aad := ChunkAAD(42, 7, 100)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ct, err := Seal(key, nonce[:], aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(ct, plaintext) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	pt, err := Open(key, nonce[:], aad, ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", pt, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := randKey(t)
	nonce := DeriveNonce(1, 0, SenderToReceiver)
	aad := ChunkAAD(1, 0, 1)

	ct, err := Seal(key, nonce[:], aad, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ct[0] ^= 0xFF

	if _, err := Open(key, nonce[:], aad, ct); err == nil {
		t.Fatalf("expected authentication failure, got nil error")
	}
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	key := randKey(t)
	nonce := DeriveNonce(1, 0, SenderToReceiver)

	ct, err := Seal(key, nonce[:], ChunkAAD(1, 0, 1), []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(key, nonce[:], ChunkAAD(1, 0, 2), ct); err == nil {
		t.Fatalf("expected failure decrypting with mismatched AAD")
	}
}

func TestDeriveNonceDirectionsDiffer(t *testing.T) {
	a := DeriveNonce(9, 3, SenderToReceiver)
	b := DeriveNonce(9, 3, ReceiverToSender)
	if a == b {
		t.Fatalf("expected distinct nonces for opposite directions")
	}
}

func TestDeriveNonceDeterministic(t *testing.T) {
	a := DeriveNonce(9, 3, SenderToReceiver)
	b := DeriveNonce(9, 3, SenderToReceiver)
	if a != b {
		t.Fatalf("expected deterministic nonce derivation")
	}
}

func TestSealRejectsShortKey(t *testing.T) {
	nonce := DeriveNonce(1, 1, SenderToReceiver)
	if _, err := Seal(make([]byte, 16), nonce[:], nil, []byte("x")); err == nil {
		t.Fatalf("expected error for 16-byte key")
	}
}
