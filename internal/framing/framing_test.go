package framing

import (
	"bytes"
	"errors"
	"testing"
)

func TestV1EncodeDecodeRoundTrip(t *testing.T) {
	c := TransferChunk{TransferID: 7, ChunkIndex: 2, TotalChunks: 5, Payload: []byte("hello")}
	decoded, err := DecodeTransferChunk(c.Encode())
	if err != nil {
		t.Fatalf("DecodeTransferChunk: %v", err)
	}
	if decoded.TransferID != c.TransferID || decoded.ChunkIndex != c.ChunkIndex ||
		decoded.TotalChunks != c.TotalChunks || !bytes.Equal(decoded.Payload, c.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, c)
	}
}

func TestV1DecodeRejectsZeroTotalChunks(t *testing.T) {
	c := TransferChunk{TransferID: 1, ChunkIndex: 0, TotalChunks: 0, Payload: nil}
	if _, err := DecodeTransferChunk(c.Encode()); err == nil {
		t.Fatalf("expected error for total_chunks == 0")
	}
}

func TestV1DecodeRejectsChunkIndexOutOfRange(t *testing.T) {
	c := TransferChunk{TransferID: 1, ChunkIndex: 5, TotalChunks: 5, Payload: nil}
	if _, err := DecodeTransferChunk(c.Encode()); err == nil {
		t.Fatalf("expected error for chunk_index >= total_chunks")
	}
}

func TestV1DecodeRejectsTruncatedBuffer(t *testing.T) {
	c := TransferChunk{TransferID: 1, ChunkIndex: 0, TotalChunks: 1, Payload: []byte("abc")}
	buf := c.Encode()
	if _, err := DecodeTransferChunk(buf[:len(buf)-1]); err == nil {
		t.Fatalf("expected error for truncated buffer")
	}
}

func TestV2EncodeDecodeRoundTrip(t *testing.T) {
	v := TransferChunkV2{
		ProtocolVersion: 2,
		EncryptionFlag:  Encrypted,
		TransferID:      99,
		ChunkIndex:      3,
		TotalChunks:     10,
		Nonce:           [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		AAD:             []byte("aad-bytes"),
		Payload:         []byte("ciphertext-ish"),
	}
	decoded, err := DecodeTransferChunkV2(v.Encode())
	if err != nil {
		t.Fatalf("DecodeTransferChunkV2: %v", err)
	}
	if decoded.TransferID != v.TransferID || decoded.ChunkIndex != v.ChunkIndex ||
		decoded.TotalChunks != v.TotalChunks || decoded.Nonce != v.Nonce ||
		!bytes.Equal(decoded.AAD, v.AAD) || !bytes.Equal(decoded.Payload, v.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, v)
	}
}

func TestV2DecodeRejectsWrongVersion(t *testing.T) {
	v := TransferChunkV2{ProtocolVersion: 3, TransferID: 1, ChunkIndex: 0, TotalChunks: 1}
	if _, err := DecodeTransferChunkV2(v.Encode()); err == nil {
		t.Fatalf("expected error for protocol_version != 2")
	}
}

func TestV2DecodeRejectsUnknownEncryptionFlag(t *testing.T) {
	v := TransferChunkV2{ProtocolVersion: 2, TransferID: 1, ChunkIndex: 0, TotalChunks: 1}
	buf := v.Encode()
	buf[5] = 0xFF
	if _, err := DecodeTransferChunkV2(buf); err == nil {
		t.Fatalf("expected error for unknown encryption flag")
	}
}

func TestDecodeVersionedDispatches(t *testing.T) {
	v1 := TransferChunk{TransferID: 1, ChunkIndex: 0, TotalChunks: 1, Payload: []byte("x")}
	got, err := DecodeVersioned(v1.Encode())
	if err != nil {
		t.Fatalf("DecodeVersioned(v1): %v", err)
	}
	if got.V1 == nil || got.V2 != nil {
		t.Fatalf("expected v1-only dispatch, got %+v", got)
	}

	v2 := TransferChunkV2{ProtocolVersion: 2, TransferID: 1, ChunkIndex: 0, TotalChunks: 1}
	got, err = DecodeVersioned(v2.Encode())
	if err != nil {
		t.Fatalf("DecodeVersioned(v2): %v", err)
	}
	if got.V2 == nil || got.V1 != nil {
		t.Fatalf("expected v2-only dispatch, got %+v", got)
	}
}

func TestDecodeVersionedRejectsUnknownMagic(t *testing.T) {
	if _, err := DecodeVersioned([]byte("GARBAGE!")); err == nil {
		t.Fatalf("expected error for unrecognized magic")
	}
}

func TestEncryptDecryptChunkFrameRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x09}, 32)
	seal := func(k, nonce, aad, plaintext []byte) ([]byte, error) {
		out := make([]byte, len(plaintext)+16)
		copy(out, plaintext)
		return out, nil
	}
	open := func(k, nonce, aad, ciphertext []byte) ([]byte, error) {
		if len(ciphertext) < 16 {
			return nil, errTooShort
		}
		return ciphertext[:len(ciphertext)-16], nil
	}
	deriveNonce := func(transferID uint64, chunkIndex uint32) [12]byte {
		var n [12]byte
		n[11] = byte(chunkIndex)
		return n
	}

	v1 := TransferChunk{TransferID: 5, ChunkIndex: 1, TotalChunks: 4, Payload: []byte("secret payload")}
	v2, err := EncryptChunkFrame(v1, key, deriveNonce, seal)
	if err != nil {
		t.Fatalf("EncryptChunkFrame: %v", err)
	}
	if v2.EncryptionFlag != Encrypted {
		t.Fatalf("expected Encrypted flag")
	}

	back, err := DecryptChunkFrame(v2, key, open)
	if err != nil {
		t.Fatalf("DecryptChunkFrame: %v", err)
	}
	if !bytes.Equal(back.Payload, v1.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", back.Payload, v1.Payload)
	}
}

func TestDecryptChunkFrameRejectsPlaintextFlag(t *testing.T) {
	v2 := TransferChunkV2{ProtocolVersion: 2, EncryptionFlag: Plaintext, TransferID: 1, ChunkIndex: 0, TotalChunks: 1}
	open := func(k, nonce, aad, ciphertext []byte) ([]byte, error) { return ciphertext, nil }
	if _, err := DecryptChunkFrame(v2, make([]byte, 32), open); err == nil {
		t.Fatalf("expected error for plaintext-flagged frame")
	}
}

var errTooShort = errors.New("ciphertext too short")
