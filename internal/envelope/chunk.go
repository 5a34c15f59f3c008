package envelope

import "encoding/binary"

// ChunkAAD builds the additional authenticated data bound to a chunk
// ciphertext: transfer ID, chunk index and total chunk count, each
// big-endian. Binding total_chunks prevents a tampered frame from claiming a
// different transfer size without invalidating the tag.
func ChunkAAD(transferID uint64, chunkIndex, totalChunks uint32) []byte {
	aad := make([]byte, 16)
	binary.BigEndian.PutUint64(aad[0:8], transferID)
	binary.BigEndian.PutUint32(aad[8:12], chunkIndex)
	binary.BigEndian.PutUint32(aad[12:16], totalChunks)
	return aad
}

// SealChunk encrypts a chunk payload under the payload key, deriving the
// nonce and AAD from the frame's own fields.
func SealChunk(payloadKey []byte, transferID uint64, chunkIndex, totalChunks uint32, direction Direction, plaintext []byte) ([]byte, error) {
	nonce := DeriveNonce(transferID, chunkIndex, direction)
	aad := ChunkAAD(transferID, chunkIndex, totalChunks)
	return Seal(payloadKey, nonce[:], aad, plaintext)
}

// OpenChunk reverses SealChunk.
func OpenChunk(payloadKey []byte, transferID uint64, chunkIndex, totalChunks uint32, direction Direction, ciphertext []byte) ([]byte, error) {
	nonce := DeriveNonce(transferID, chunkIndex, direction)
	aad := ChunkAAD(transferID, chunkIndex, totalChunks)
	return Open(payloadKey, nonce[:], aad, ciphertext)
}
