package chunker

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func BenchmarkChunkerNext(b *testing.B) {
	const size = 8 << 20
	const chunkSize = 64 << 10

	data := make([]byte, size)
	rand.Read(data)
	src := bytes.NewReader(data)

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		c, err := NewChunker(src, chunkSize)
		if err != nil {
			b.Fatalf("NewChunker: %v", err)
		}
		for {
			if _, err := c.Next(); err != nil {
				break
			}
		}
		if _, err := src.Seek(0, 0); err != nil {
			b.Fatalf("seek: %v", err)
		}
	}
}
