// Package framing defines the on-the-wire chunk formats exchanged once a
// transfer session has been established. Version 1 is an unencrypted frame
// kept for LAN links where a handshake negotiated EncryptionOff; version 2
// wraps an AES-256-GCM-sealed payload and is what any encrypted session
// speaks exclusively.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	magicV1 = [4]byte{'P', '2', 'P', 'F'}
	magicV2 = [4]byte{'P', '2', 'P', 'E'}
)

// ErrInvalidFrame covers every structural decode failure: bad magic, a
// truncated or overlong buffer, an out-of-range chunk index, or (for v2)
// an unsupported protocol_version.
var ErrInvalidFrame = errors.New("framing: invalid frame")

const v1HeaderSize = 4 + 8 + 4 + 4 + 4 // magic, transfer_id, chunk_index, total_chunks, payload_len
const v2HeaderSize = 4 + 1 + 1 + 8 + 4 + 4 + 12 + 2 + 4

// EncryptionFlag marks whether a v2 frame's payload is sealed.
type EncryptionFlag uint8

const (
	Plaintext EncryptionFlag = iota
	Encrypted
)

func encryptionFlagFromByte(b byte) (EncryptionFlag, error) {
	switch EncryptionFlag(b) {
	case Plaintext, Encrypted:
		return EncryptionFlag(b), nil
	default:
		return 0, ErrInvalidFrame
	}
}

// TransferChunk is the unencrypted v1 frame.
type TransferChunk struct {
	TransferID  uint64
	ChunkIndex  uint32
	TotalChunks uint32
	Payload     []byte
}

// Encode serializes c to the 24-byte-header v1 wire format.
func (c TransferChunk) Encode() []byte {
	out := make([]byte, v1HeaderSize+len(c.Payload))
	copy(out[0:4], magicV1[:])
	binary.BigEndian.PutUint64(out[4:12], c.TransferID)
	binary.BigEndian.PutUint32(out[12:16], c.ChunkIndex)
	binary.BigEndian.PutUint32(out[16:20], c.TotalChunks)
	binary.BigEndian.PutUint32(out[20:24], uint32(len(c.Payload)))
	copy(out[24:], c.Payload)
	return out
}

// DecodeTransferChunk parses a v1 frame.
func DecodeTransferChunk(b []byte) (TransferChunk, error) {
	if len(b) < v1HeaderSize || string(b[:4]) != string(magicV1[:]) {
		return TransferChunk{}, ErrInvalidFrame
	}
	transferID := binary.BigEndian.Uint64(b[4:12])
	chunkIndex := binary.BigEndian.Uint32(b[12:16])
	totalChunks := binary.BigEndian.Uint32(b[16:20])
	payloadLen := binary.BigEndian.Uint32(b[20:24])

	if uint32(len(b)) != uint32(v1HeaderSize)+payloadLen {
		return TransferChunk{}, ErrInvalidFrame
	}
	if totalChunks == 0 || chunkIndex >= totalChunks {
		return TransferChunk{}, ErrInvalidFrame
	}

	payload := make([]byte, payloadLen)
	copy(payload, b[v1HeaderSize:])
	return TransferChunk{TransferID: transferID, ChunkIndex: chunkIndex, TotalChunks: totalChunks, Payload: payload}, nil
}

// TransferChunkV2 is the encrypted frame every negotiated-encryption session uses.
type TransferChunkV2 struct {
	ProtocolVersion uint8
	EncryptionFlag  EncryptionFlag
	TransferID      uint64
	ChunkIndex      uint32
	TotalChunks     uint32
	Nonce           [12]byte
	AAD             []byte
	Payload         []byte
}

// Encode serializes v to the v2 wire format.
func (v TransferChunkV2) Encode() []byte {
	aadLen := uint16(len(v.AAD))
	payloadLen := uint32(len(v.Payload))

	out := make([]byte, v2HeaderSize+int(aadLen)+int(payloadLen))
	copy(out[0:4], magicV2[:])
	out[4] = v.ProtocolVersion
	out[5] = byte(v.EncryptionFlag)
	binary.BigEndian.PutUint64(out[6:14], v.TransferID)
	binary.BigEndian.PutUint32(out[14:18], v.ChunkIndex)
	binary.BigEndian.PutUint32(out[18:22], v.TotalChunks)
	copy(out[22:34], v.Nonce[:])
	binary.BigEndian.PutUint16(out[34:36], aadLen)
	binary.BigEndian.PutUint32(out[36:40], payloadLen)
	copy(out[v2HeaderSize:v2HeaderSize+int(aadLen)], v.AAD)
	copy(out[v2HeaderSize+int(aadLen):], v.Payload)
	return out
}

// DecodeTransferChunkV2 parses a v2 frame. It rejects any protocol_version
// other than 2: there is exactly one wire format, and a mismatch here means
// a peer running incompatible code, not something to paper over. Encode
// does not check the version; it writes ProtocolVersion as given.
func DecodeTransferChunkV2(b []byte) (TransferChunkV2, error) {
	if len(b) < v2HeaderSize || string(b[:4]) != string(magicV2[:]) {
		return TransferChunkV2{}, ErrInvalidFrame
	}

	protocolVersion := b[4]
	flag, err := encryptionFlagFromByte(b[5])
	if err != nil {
		return TransferChunkV2{}, err
	}
	transferID := binary.BigEndian.Uint64(b[6:14])
	chunkIndex := binary.BigEndian.Uint32(b[14:18])
	totalChunks := binary.BigEndian.Uint32(b[18:22])

	if protocolVersion != 2 {
		return TransferChunkV2{}, ErrInvalidFrame
	}
	if totalChunks == 0 || chunkIndex >= totalChunks {
		return TransferChunkV2{}, ErrInvalidFrame
	}

	var nonce [12]byte
	copy(nonce[:], b[22:34])

	aadLen := int(binary.BigEndian.Uint16(b[34:36]))
	payloadLen := int(binary.BigEndian.Uint32(b[36:40]))

	if len(b) != v2HeaderSize+aadLen+payloadLen {
		return TransferChunkV2{}, ErrInvalidFrame
	}

	aadStart := v2HeaderSize
	payloadStart := aadStart + aadLen

	aad := make([]byte, aadLen)
	copy(aad, b[aadStart:payloadStart])
	payload := make([]byte, payloadLen)
	copy(payload, b[payloadStart:])

	return TransferChunkV2{
		ProtocolVersion: protocolVersion,
		EncryptionFlag:  flag,
		TransferID:      transferID,
		ChunkIndex:      chunkIndex,
		TotalChunks:     totalChunks,
		Nonce:           nonce,
		AAD:             aad,
		Payload:         payload,
	}, nil
}

// VersionedChunk is either a V1 or a V2 frame, selected by magic on decode.
type VersionedChunk struct {
	V1 *TransferChunk
	V2 *TransferChunkV2
}

// DecodeVersioned dispatches on the frame's magic prefix.
func DecodeVersioned(b []byte) (VersionedChunk, error) {
	if len(b) < 4 {
		return VersionedChunk{}, ErrInvalidFrame
	}
	switch string(b[:4]) {
	case string(magicV1[:]):
		c, err := DecodeTransferChunk(b)
		if err != nil {
			return VersionedChunk{}, err
		}
		return VersionedChunk{V1: &c}, nil
	case string(magicV2[:]):
		c, err := DecodeTransferChunkV2(b)
		if err != nil {
			return VersionedChunk{}, err
		}
		return VersionedChunk{V2: &c}, nil
	default:
		return VersionedChunk{}, ErrInvalidFrame
	}
}

// Ack acknowledges receipt of every chunk below NextExpectedChunk.
type Ack struct {
	TransferID        uint64
	ReceiverID        string
	NextExpectedChunk uint32
}

// ReceiverProgress is a transfer session's view of one receiver's checkpoint.
type ReceiverProgress struct {
	ReceiverID         string
	AckedUpToExclusive uint32
	TotalChunks        uint32
}

// Percent returns completion in [0, 100].
func (p ReceiverProgress) Percent() uint8 {
	if p.TotalChunks == 0 {
		return 0
	}
	pct := float64(p.AckedUpToExclusive) / float64(p.TotalChunks) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return uint8(pct)
}

// IsComplete reports whether every chunk has been acked.
func (p ReceiverProgress) IsComplete() bool {
	return p.AckedUpToExclusive >= p.TotalChunks
}

// ChunkAAD reproduces the AAD bound into a v2 frame's AEAD tag for a given
// v1 chunk: transfer ID, chunk index and total chunk count, big-endian.
func ChunkAAD(c TransferChunk) []byte {
	aad := make([]byte, 16)
	binary.BigEndian.PutUint64(aad[0:8], c.TransferID)
	binary.BigEndian.PutUint32(aad[8:12], c.ChunkIndex)
	binary.BigEndian.PutUint32(aad[12:16], c.TotalChunks)
	return aad
}

// ErrExpectedEncryptedFrame is returned by DecryptChunkFrame when asked to
// open a v2 frame whose encryption flag is Plaintext.
var ErrExpectedEncryptedFrame = fmt.Errorf("%w: expected encrypted frame", ErrInvalidFrame)

// sealFunc/openFunc let callers plug in their AEAD of choice (normally
// envelope.Seal/envelope.Open) without framing importing envelope directly,
// so this package carries no AEAD dependency of its own.
type sealFunc func(key, nonce, aad, plaintext []byte) ([]byte, error)
type openFunc func(key, nonce, aad, ciphertext []byte) ([]byte, error)

// EncryptChunkFrame wraps a v1 logical chunk into an encrypted v2 frame.
// deriveNonce computes the 12-byte nonce for (transferID, chunkIndex) in the
// sender→receiver direction; seal performs the AEAD under txKey.
func EncryptChunkFrame(v1 TransferChunk, txKey []byte, deriveNonce func(transferID uint64, chunkIndex uint32) [12]byte, seal sealFunc) (TransferChunkV2, error) {
	if v1.TotalChunks == 0 || v1.ChunkIndex >= v1.TotalChunks {
		return TransferChunkV2{}, ErrInvalidFrame
	}
	nonce := deriveNonce(v1.TransferID, v1.ChunkIndex)
	aad := ChunkAAD(v1)
	ciphertext, err := seal(txKey, nonce[:], aad, v1.Payload)
	if err != nil {
		return TransferChunkV2{}, err
	}
	return TransferChunkV2{
		ProtocolVersion: 2,
		EncryptionFlag:  Encrypted,
		TransferID:      v1.TransferID,
		ChunkIndex:      v1.ChunkIndex,
		TotalChunks:     v1.TotalChunks,
		Nonce:           nonce,
		AAD:             aad,
		Payload:         ciphertext,
	}, nil
}

// DecryptChunkFrame reverses EncryptChunkFrame, opening v2's payload under
// rxKey and returning the logical v1 chunk. A frame whose flag is not
// Encrypted is rejected outright: a negotiated-encryption session must never
// silently accept plaintext.
func DecryptChunkFrame(v2 TransferChunkV2, rxKey []byte, open openFunc) (TransferChunk, error) {
	if v2.EncryptionFlag != Encrypted {
		return TransferChunk{}, ErrExpectedEncryptedFrame
	}
	plaintext, err := open(rxKey, v2.Nonce[:], v2.AAD, v2.Payload)
	if err != nil {
		return TransferChunk{}, err
	}
	return TransferChunk{
		TransferID:  v2.TransferID,
		ChunkIndex:  v2.ChunkIndex,
		TotalChunks: v2.TotalChunks,
		Payload:     plaintext,
	}, nil
}
