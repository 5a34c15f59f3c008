// Package chunker builds the supplemental per-chunk hash manifest a sender
// exchanges with a receiver before streaming begins. It sits above
// internal/transfer: chunk boundaries come from transfer.LargeFileManager's
// own index, this package only adds the BLAKE3/Merkle integrity layer on
// top of that index.
package chunker

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/AniketPatel369/p2p/internal/transfer"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// ComputeManifest hashes every chunk of the file at filePath under options
// and returns the resulting Manifest, including its Merkle root.
func ComputeManifest(filePath string, options ChunkOptions) (*Manifest, error) {
	if options.ChunkSize <= 0 {
		options = DefaultChunkOptions()
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("chunker: open %s: %w", filePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("chunker: stat %s: %w", filePath, err)
	}

	mgr, err := transfer.NewLargeFileManager(0, info.Size(), int64(options.ChunkSize))
	if err != nil {
		return nil, fmt.Errorf("chunker: index %s: %w", filePath, err)
	}
	spans := mgr.BuildChunkIndex()

	chunks := make([]ChunkDescriptor, 0, len(spans))
	hashes := make([]string, 0, len(spans))
	buf := make([]byte, options.ChunkSize)

	for _, span := range spans {
		hash, err := hashSpan(file, span, buf)
		if err != nil {
			return nil, fmt.Errorf("chunker: hash chunk %d: %w", span.Index, err)
		}
		chunks = append(chunks, ChunkDescriptor{
			Index:  int(span.Index),
			Hash:   hash,
			Length: int(span.Length),
		})
		hashes = append(hashes, hash)
	}

	root, err := ComputeMerkleRoot(hashes)
	if err != nil {
		return nil, fmt.Errorf("chunker: merkle root: %w", err)
	}

	return &Manifest{
		SessionID:  uuid.New().String(),
		FileName:   filepath.Base(filePath),
		FileSize:   info.Size(),
		ChunkSize:  options.ChunkSize,
		ChunkCount: len(chunks),
		HashAlgo:   "BLAKE3",
		Chunks:     chunks,
		MerkleRoot: root,
		CreatedAt:  time.Now(),
	}, nil
}

// hashSpan reads exactly span.Length bytes at span.Offset and returns their
// base64-encoded BLAKE3 digest. A zero-length span (the sole chunk of an
// empty file) hashes an empty input without touching the file descriptor's
// read position.
func hashSpan(f *os.File, span transfer.ChunkSpan, buf []byte) (string, error) {
	h := blake3.New()
	if span.Length > 0 {
		if _, err := f.Seek(span.Offset, io.SeekStart); err != nil {
			return "", err
		}
		if _, err := io.ReadFull(f, buf[:span.Length]); err != nil {
			return "", err
		}
		h.Write(buf[:span.Length])
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Chunker streams fixed-size chunks out of an io.Reader without requiring
// random access, for callers reading off a network pipe rather than a file.
type Chunker struct {
	reader    io.Reader
	chunkSize int
	buffer    []byte
}

// NewChunker wraps r as a source of chunkSize-byte reads.
func NewChunker(r io.Reader, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", chunkSize)
	}
	return &Chunker{reader: r, chunkSize: chunkSize, buffer: make([]byte, chunkSize)}, nil
}

// Next returns the next chunk, or io.EOF once the reader is exhausted.
func (c *Chunker) Next() ([]byte, error) {
	n, err := c.reader.Read(c.buffer)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	return c.buffer[:n], nil
}

// ReadChunk reads the chunkIndex-th chunkSize-byte chunk directly from the
// file at filePath, for a driver resuming a transfer that only needs one
// chunk rather than the whole stream.
func ReadChunk(filePath string, chunkIndex, chunkSize int) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("chunker: open %s: %w", filePath, err)
	}
	defer file.Close()

	offset := int64(chunkIndex) * int64(chunkSize)
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("chunker: seek to %d: %w", offset, err)
	}

	buf := make([]byte, chunkSize)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("chunker: read chunk %d: %w", chunkIndex, err)
	}
	return buf[:n], nil
}
