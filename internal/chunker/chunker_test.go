package chunker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestComputeManifestSmallFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "small.bin")

	testData := []byte("one chunk of data, nothing more")
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	manifest, err := ComputeManifest(testFile, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}

	if manifest.ChunkCount != 1 {
		t.Errorf("chunk count = %d, want 1", manifest.ChunkCount)
	}
	if manifest.FileSize != int64(len(testData)) {
		t.Errorf("file size = %d, want %d", manifest.FileSize, len(testData))
	}
	if manifest.FileName != "small.bin" {
		t.Errorf("file name = %q, want %q", manifest.FileName, "small.bin")
	}
	if manifest.HashAlgo != "BLAKE3" {
		t.Errorf("hash algo = %q, want BLAKE3", manifest.HashAlgo)
	}
	if len(manifest.Chunks) != 1 {
		t.Errorf("len(chunks) = %d, want 1", len(manifest.Chunks))
	}
	if manifest.Chunks[0].Length != len(testData) {
		t.Errorf("chunk length = %d, want %d", manifest.Chunks[0].Length, len(testData))
	}
	if manifest.MerkleRoot == "" {
		t.Error("merkle root should not be empty")
	}
}

func TestComputeManifestMultipleChunks(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "multi.bin")

	const chunkSize = 1 << 20 // 1 MiB
	testData := make([]byte, chunkSize*2+chunkSize/2)
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	manifest, err := ComputeManifest(testFile, ChunkOptions{ChunkSize: chunkSize})
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}

	if manifest.ChunkCount != 3 {
		t.Fatalf("chunk count = %d, want 3", manifest.ChunkCount)
	}
	if manifest.Chunks[0].Length != chunkSize || manifest.Chunks[1].Length != chunkSize {
		t.Errorf("expected chunks 0 and 1 to be full size %d, got %d and %d",
			chunkSize, manifest.Chunks[0].Length, manifest.Chunks[1].Length)
	}
	if manifest.Chunks[2].Length != chunkSize/2 {
		t.Errorf("last chunk length = %d, want %d", manifest.Chunks[2].Length, chunkSize/2)
	}
}

func TestComputeManifestIsDeterministic(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "deterministic.bin")

	if err := os.WriteFile(testFile, []byte("same bytes every time"), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	first, err := ComputeManifest(testFile, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("first ComputeManifest: %v", err)
	}
	second, err := ComputeManifest(testFile, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("second ComputeManifest: %v", err)
	}

	if first.Chunks[0].Hash != second.Chunks[0].Hash {
		t.Error("chunk hash differs across runs over the same file")
	}
	if first.MerkleRoot != second.MerkleRoot {
		t.Error("merkle root differs across runs over the same file")
	}
}

func TestReadChunkReturnsCorrectSlice(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "chunks.bin")

	const chunkSize = 1024
	testData := make([]byte, chunkSize*3)
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	chunk0, err := ReadChunk(testFile, 0, chunkSize)
	if err != nil {
		t.Fatalf("ReadChunk(0): %v", err)
	}
	chunk1, err := ReadChunk(testFile, 1, chunkSize)
	if err != nil {
		t.Fatalf("ReadChunk(1): %v", err)
	}
	if len(chunk0) != chunkSize || len(chunk1) != chunkSize {
		t.Fatalf("chunk lengths = %d, %d, want %d each", len(chunk0), len(chunk1), chunkSize)
	}

	if !bytesEqual(chunk0, testData[:chunkSize]) {
		t.Error("chunk 0 does not match its slice of the source file")
	}
	if !bytesEqual(chunk1, testData[chunkSize:2*chunkSize]) {
		t.Error("chunk 1 does not match its slice of the source file")
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestComputeManifestEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "empty.bin")

	if err := os.WriteFile(testFile, []byte{}, 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	manifest, err := ComputeManifest(testFile, DefaultChunkOptions())
	if err != nil {
		t.Fatalf("ComputeManifest: %v", err)
	}

	if manifest.FileSize != 0 {
		t.Errorf("file size = %d, want 0", manifest.FileSize)
	}
	if manifest.ChunkCount != 1 {
		t.Errorf("an empty file should still report 1 chunk, got %d", manifest.ChunkCount)
	}
}

func TestComputeManifestFileNotFound(t *testing.T) {
	if _, err := ComputeManifest("/nonexistent/file.bin", DefaultChunkOptions()); err == nil {
		t.Error("expected an error for a nonexistent file")
	}
}
