package manager

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// ChunkBitmap tracks, per receiver of one transfer, which chunk indices have
// landed so far. Chunks arrive out of order across the worker pool's
// parallel streams (see daemon/transport.ChunkWorkerPool), so a receiver
// cannot simply bump a counter on each arrival: it must track the sparse set
// and derive the contiguous-from-zero prefix before it can safely report
// that prefix as an Ack's next_expected_chunk.
type ChunkBitmap struct {
	transferID  uint64
	receiverID  string
	totalChunks uint32
	bitmap      []byte
	chunksSet   uint32
	mu          sync.RWMutex
}

// NewChunkBitmap creates an empty bitmap for one (transferID, receiverID)
// pair sized to cover totalChunks bits.
func NewChunkBitmap(transferID uint64, receiverID string, totalChunks uint32) *ChunkBitmap {
	bitmapSize := (totalChunks + 7) / 8

	return &ChunkBitmap{
		transferID:  transferID,
		receiverID:  receiverID,
		totalChunks: totalChunks,
		bitmap:      make([]byte, bitmapSize),
	}
}

// SetChunk marks chunkIndex as received. Setting an already-received index
// is a harmless no-op, matching the monotonic-ack idempotence the core
// requires of apply_ack.
func (cb *ChunkBitmap) SetChunk(chunkIndex uint32) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if chunkIndex >= cb.totalChunks {
		return fmt.Errorf("chunk index out of range: %d", chunkIndex)
	}

	byteIndex := chunkIndex / 8
	bitIndex := chunkIndex % 8

	if cb.bitmap[byteIndex]&(1<<bitIndex) != 0 {
		return nil
	}

	cb.bitmap[byteIndex] |= 1 << bitIndex
	cb.chunksSet++

	return nil
}

// HasChunk reports whether chunkIndex has been marked received.
func (cb *ChunkBitmap) HasChunk(chunkIndex uint32) bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if chunkIndex >= cb.totalChunks {
		return false
	}

	byteIndex := chunkIndex / 8
	bitIndex := chunkIndex % 8
	return cb.bitmap[byteIndex]&(1<<bitIndex) != 0
}

// ContiguousUpTo returns the largest N such that every index in [0, N) is
// marked received. This, not the count of set bits, is what an out-of-order
// receiver must report as an Ack's next_expected_chunk: a gap at index 2
// means chunks 5 and 6 arriving early cannot yet be acknowledged as durably
// received in order.
func (cb *ChunkBitmap) ContiguousUpTo() uint32 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var i uint32
	for i = 0; i < cb.totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if cb.bitmap[byteIndex]&(1<<bitIndex) == 0 {
			break
		}
	}
	return i
}

// GetMissing returns every chunk index not yet marked received.
func (cb *ChunkBitmap) GetMissing() []uint32 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var missing []uint32
	for i := uint32(0); i < cb.totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if cb.bitmap[byteIndex]&(1<<bitIndex) == 0 {
			missing = append(missing, i)
		}
	}
	return missing
}

// GetReceived returns every chunk index marked received.
func (cb *ChunkBitmap) GetReceived() []uint32 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var received []uint32
	for i := uint32(0); i < cb.totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if cb.bitmap[byteIndex]&(1<<bitIndex) != 0 {
			received = append(received, i)
		}
	}
	return received
}

// GetProgress returns the count of chunks marked received against the total.
func (cb *ChunkBitmap) GetProgress() (set, total uint32) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.chunksSet, cb.totalChunks
}

// IsComplete reports whether every chunk has been marked received.
func (cb *ChunkBitmap) IsComplete() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.chunksSet == cb.totalChunks
}

// Clear resets the bitmap to empty.
func (cb *ChunkBitmap) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for i := range cb.bitmap {
		cb.bitmap[i] = 0
	}
	cb.chunksSet = 0
}

// Serialize returns a defensive copy of the bitmap bytes for persistence.
func (cb *ChunkBitmap) Serialize() []byte {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	data := make([]byte, len(cb.bitmap))
	copy(data, cb.bitmap)
	return data
}

// Deserialize restores bitmap bytes loaded from persistence and recomputes
// the set-bit count.
func (cb *ChunkBitmap) Deserialize(data []byte) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if len(data) != len(cb.bitmap) {
		return fmt.Errorf("bitmap size mismatch: expected %d, got %d", len(cb.bitmap), len(data))
	}

	copy(cb.bitmap, data)

	cb.chunksSet = 0
	for i := uint32(0); i < cb.totalChunks; i++ {
		byteIndex := i / 8
		bitIndex := i % 8
		if cb.bitmap[byteIndex]&(1<<bitIndex) != 0 {
			cb.chunksSet++
		}
	}

	return nil
}

// BitmapStore persists chunk bitmaps keyed by (transfer_id, receiver_id) so
// a restarted daemon can recover a receiver's sparse progress without
// re-deriving it from the contiguous checkpoint alone.
type BitmapStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewBitmapStore wraps an already-initialized database handle.
func NewBitmapStore(db *sql.DB) *BitmapStore {
	return &BitmapStore{db: db}
}

// SaveBitmap upserts bitmap's current contents.
func (bs *BitmapStore) SaveBitmap(bitmap *ChunkBitmap) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO chunk_bitmaps
		(transfer_id, receiver_id, bitmap_data, chunks_set, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := bs.db.Exec(query,
		int64(bitmap.transferID),
		bitmap.receiverID,
		bitmap.Serialize(),
		bitmap.chunksSet,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save bitmap: %w", err)
	}

	return nil
}

// LoadBitmap retrieves the persisted bitmap for (transferID, receiverID).
func (bs *BitmapStore) LoadBitmap(transferID uint64, receiverID string, totalChunks uint32) (*ChunkBitmap, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	var (
		bitmapData  []byte
		chunksSet   int64
		lastUpdated time.Time
	)

	query := `
		SELECT bitmap_data, chunks_set, last_updated
		FROM chunk_bitmaps
		WHERE transfer_id = ? AND receiver_id = ?
	`

	err := bs.db.QueryRow(query, int64(transferID), receiverID).Scan(&bitmapData, &chunksSet, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrBitmapNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load bitmap: %w", err)
	}

	bitmap := NewChunkBitmap(transferID, receiverID, totalChunks)
	if err := bitmap.Deserialize(bitmapData); err != nil {
		return nil, fmt.Errorf("failed to deserialize bitmap: %w", err)
	}

	return bitmap, nil
}

// SetChunkPersistent marks chunkIndex received in memory, then persists the
// updated bitmap.
func (bs *BitmapStore) SetChunkPersistent(bitmap *ChunkBitmap, chunkIndex uint32) error {
	if err := bitmap.SetChunk(chunkIndex); err != nil {
		return err
	}
	return bs.SaveBitmap(bitmap)
}

// DeleteBitmap removes a (transferID, receiverID) bitmap row.
func (bs *BitmapStore) DeleteBitmap(transferID uint64, receiverID string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	result, err := bs.db.Exec("DELETE FROM chunk_bitmaps WHERE transfer_id = ? AND receiver_id = ?", int64(transferID), receiverID)
	if err != nil {
		return fmt.Errorf("failed to delete bitmap: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBitmapNotFound
	}

	return nil
}
