package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/AniketPatel369/p2p/internal/chunker"
	"github.com/AniketPatel369/p2p/internal/transfer"
)

func main() {
	chunkSize := flag.Int("chunk-size", 1048576, "Chunk size in bytes (default: 1 MiB)")
	output := flag.String("output", "", "Output manifest to file (default: stdout)")
	pretty := flag.Bool("pretty", true, "Pretty-print JSON output")
	summary := flag.Bool("summary", false, "Print a chunk-span table instead of the manifest JSON")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: chunker [options] <file_path>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	filePath := flag.Arg(0)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found: %s\n", filePath)
		os.Exit(2)
	}

	fmt.Fprintf(os.Stderr, "Processing file: %s\n", filePath)

	manifest, err := chunker.ComputeManifest(filePath, chunker.ChunkOptions{ChunkSize: *chunkSize})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing manifest: %v\n", err)
		os.Exit(3)
	}

	transferID := transfer.IntegrityTag([]byte(manifest.SessionID))
	fmt.Fprintf(os.Stderr, "Transfer ID: %d\n", transferID)
	fmt.Fprintf(os.Stderr, "File size: %d bytes\n", manifest.FileSize)
	fmt.Fprintf(os.Stderr, "Chunk size: %d bytes\n", manifest.ChunkSize)
	fmt.Fprintf(os.Stderr, "Chunks: %d\n", manifest.ChunkCount)
	fmt.Fprintf(os.Stderr, "Merkle root: %s\n\n", manifest.MerkleRoot)

	if *summary {
		printChunkSpans(manifest, int64(*chunkSize))
		return
	}

	var jsonData []byte
	if *pretty {
		jsonData, err = json.MarshalIndent(manifest, "", "  ")
	} else {
		jsonData, err = json.Marshal(manifest)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing manifest: %v\n", err)
		os.Exit(4)
	}

	if *output != "" {
		if err := os.WriteFile(*output, jsonData, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
			os.Exit(5)
		}
		fmt.Fprintf(os.Stderr, "Manifest written to: %s\n", *output)
		return
	}
	fmt.Println(string(jsonData))
}

// printChunkSpans recomputes each chunk's (offset, length) from the file
// size via the same span arithmetic transfer.LargeFileManager uses when
// indexing a transfer, and lines it up against the manifest's per-chunk
// hash so a caller can eyeball where any given chunk lands in the file
// without decoding the base64 hashes by hand.
func printChunkSpans(manifest *chunker.Manifest, chunkSize int64) {
	mgr, err := transfer.NewLargeFileManager(0, manifest.FileSize, chunkSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building chunk index: %v\n", err)
		os.Exit(3)
	}
	spans := mgr.BuildChunkIndex()

	fmt.Printf("%-6s %-12s %-10s %s\n", "index", "offset", "length", "hash")
	for _, span := range spans {
		hash := ""
		if int(span.Index) < len(manifest.Chunks) {
			hash = manifest.Chunks[span.Index].Hash
		}
		fmt.Printf("%-6d %-12d %-10d %s\n", span.Index, span.Offset, span.Length, hash)
	}
}
