package chunker

import (
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot folds a list of base64-encoded chunk hashes into a
// single base64-encoded root, pairing adjacent hashes level by level and
// duplicating a trailing odd one out. An empty input has no root.
func ComputeMerkleRoot(chunkHashes []string) (string, error) {
	if len(chunkHashes) == 0 {
		return "", nil
	}

	level := make([][]byte, len(chunkHashes))
	for i, encoded := range chunkHashes {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", fmt.Errorf("chunker: decode chunk hash %d: %w", i, err)
		}
		level[i] = raw
	}

	for len(level) > 1 {
		level = foldLevel(level)
	}
	return base64.StdEncoding.EncodeToString(level[0]), nil
}

// foldLevel hashes each adjacent pair in level into its parent, returning a
// level half the size (rounded up).
func foldLevel(level [][]byte) [][]byte {
	parents := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		parents = append(parents, hashPair(left, right))
	}
	return parents
}

func hashPair(left, right []byte) []byte {
	h := blake3.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
