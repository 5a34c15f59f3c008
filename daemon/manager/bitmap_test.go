package manager

import (
	"testing"
)

func TestChunkBitmap_SetAndHas(t *testing.T) {
	bitmap := NewChunkBitmap(1, "receiver-a", 100)

	if err := bitmap.SetChunk(5); err != nil {
		t.Fatalf("SetChunk failed: %v", err)
	}

	if !bitmap.HasChunk(5) {
		t.Error("Expected chunk 5 to be set")
	}

	if bitmap.HasChunk(4) {
		t.Error("Expected chunk 4 to not be set")
	}
}

func TestChunkBitmap_GetMissing(t *testing.T) {
	bitmap := NewChunkBitmap(1, "receiver-a", 10)

	for i := uint32(0); i < 10; i += 2 {
		if err := bitmap.SetChunk(i); err != nil {
			t.Fatalf("SetChunk(%d) failed: %v", i, err)
		}
	}

	missing := bitmap.GetMissing()
	expected := []uint32{1, 3, 5, 7, 9}

	if len(missing) != len(expected) {
		t.Fatalf("Expected %d missing chunks, got %d", len(expected), len(missing))
	}

	for i, chunk := range expected {
		if missing[i] != chunk {
			t.Errorf("Expected missing chunk %d, got %d", chunk, missing[i])
		}
	}
}

func TestChunkBitmap_IsComplete(t *testing.T) {
	bitmap := NewChunkBitmap(1, "receiver-a", 5)

	if bitmap.IsComplete() {
		t.Error("Empty bitmap should not be complete")
	}

	for i := uint32(0); i < 5; i++ {
		if err := bitmap.SetChunk(i); err != nil {
			t.Fatalf("SetChunk(%d) failed: %v", i, err)
		}
	}

	if !bitmap.IsComplete() {
		t.Error("Bitmap should be complete after setting all chunks")
	}
}

func TestChunkBitmap_Serialize(t *testing.T) {
	bitmap := NewChunkBitmap(1, "receiver-a", 16)

	for _, idx := range []uint32{0, 5, 10, 15} {
		if err := bitmap.SetChunk(idx); err != nil {
			t.Fatalf("SetChunk(%d) failed: %v", idx, err)
		}
	}

	data := bitmap.Serialize()

	bitmap2 := NewChunkBitmap(1, "receiver-b", 16)
	if err := bitmap2.Deserialize(data); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}

	for i := uint32(0); i < 16; i++ {
		if bitmap.HasChunk(i) != bitmap2.HasChunk(i) {
			t.Errorf("Chunk %d mismatch after deserialize", i)
		}
	}
}

func TestChunkBitmap_GetProgress(t *testing.T) {
	bitmap := NewChunkBitmap(1, "receiver-a", 20)

	for i := uint32(0); i < 5; i++ {
		if err := bitmap.SetChunk(i); err != nil {
			t.Fatalf("SetChunk(%d) failed: %v", i, err)
		}
	}

	received, total := bitmap.GetProgress()
	if received != 5 {
		t.Errorf("Expected 5 received chunks, got %d", received)
	}
	if total != 20 {
		t.Errorf("Expected 20 total chunks, got %d", total)
	}
}

func TestChunkBitmap_OutOfRange(t *testing.T) {
	bitmap := NewChunkBitmap(1, "receiver-a", 10)

	if err := bitmap.SetChunk(10); err == nil {
		t.Error("Expected error for chunk index equal to total")
	}

	if err := bitmap.SetChunk(100); err == nil {
		t.Error("Expected error for chunk index out of range")
	}
}

// TestChunkBitmap_ContiguousUpTo exercises the out-of-order case a parallel
// ChunkWorkerPool produces: later chunks land before earlier ones, and the
// contiguous prefix must not advance past the first gap.
func TestChunkBitmap_ContiguousUpTo(t *testing.T) {
	bitmap := NewChunkBitmap(7, "receiver-a", 6)

	if got := bitmap.ContiguousUpTo(); got != 0 {
		t.Fatalf("expected 0 on empty bitmap, got %d", got)
	}

	for _, idx := range []uint32{0, 1, 3, 4, 5} {
		if err := bitmap.SetChunk(idx); err != nil {
			t.Fatalf("SetChunk(%d) failed: %v", idx, err)
		}
	}

	if got := bitmap.ContiguousUpTo(); got != 2 {
		t.Fatalf("expected contiguous prefix of 2 (gap at index 2), got %d", got)
	}

	if err := bitmap.SetChunk(2); err != nil {
		t.Fatalf("SetChunk(2) failed: %v", err)
	}

	if got := bitmap.ContiguousUpTo(); got != 6 {
		t.Fatalf("expected contiguous prefix of 6 once gap filled, got %d", got)
	}
	if !bitmap.IsComplete() {
		t.Error("expected bitmap to report complete once every chunk is set")
	}
}

func TestBitmapStore_SaveLoadDelete(t *testing.T) {
	ps, err := NewPersistentStore(":memory:")
	if err != nil {
		t.Fatalf("NewPersistentStore failed: %v", err)
	}
	defer ps.Close()

	store := NewBitmapStore(ps.db)

	bitmap := NewChunkBitmap(42, "receiver-z", 8)
	for _, idx := range []uint32{0, 1, 2} {
		if err := store.SetChunkPersistent(bitmap, idx); err != nil {
			t.Fatalf("SetChunkPersistent(%d) failed: %v", idx, err)
		}
	}

	loaded, err := store.LoadBitmap(42, "receiver-z", 8)
	if err != nil {
		t.Fatalf("LoadBitmap failed: %v", err)
	}
	if got := loaded.ContiguousUpTo(); got != 3 {
		t.Fatalf("expected contiguous prefix of 3 after reload, got %d", got)
	}

	if err := store.DeleteBitmap(42, "receiver-z"); err != nil {
		t.Fatalf("DeleteBitmap failed: %v", err)
	}
	if _, err := store.LoadBitmap(42, "receiver-z", 8); err != ErrBitmapNotFound {
		t.Fatalf("expected ErrBitmapNotFound after delete, got %v", err)
	}
}
