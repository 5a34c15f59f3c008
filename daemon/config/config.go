package config

import (
	"os"
	"path/filepath"
)

// Config holds daemon configuration.
type Config struct {
	QUICAddress            string
	KeysDirectory          string
	ChunkSize              int64
	MaxConcurrentTransfers int
	EventBufferSize        int
	WorkerCount            int
	QueueDepth             int

	// HandshakeMaxSkewSecs bounds the allowed difference between a hello's
	// timestamp and the verifier's clock.
	HandshakeMaxSkewSecs int64
	// ReplayGuardTTLSecs is how long a seen client nonce is remembered
	// before the replay guard expires it.
	ReplayGuardTTLSecs int64
	// OfflineMode gates LanOfflinePolicy: true rejects public addresses.
	OfflineMode bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	keysDir := filepath.Join(homeDir, ".local", "share", "p2p", "keys")

	return &Config{
		QUICAddress:            ":4433",
		KeysDirectory:          keysDir,
		ChunkSize:              1048576, // 1 MiB
		MaxConcurrentTransfers: 10,
		EventBufferSize:        100,
		WorkerCount:            8,
		QueueDepth:             32,
		HandshakeMaxSkewSecs:   30,
		ReplayGuardTTLSecs:     300,
		OfflineMode:            true,
	}
}

// LoadConfig loads configuration from file (simplified - just returns default)
func LoadConfig(configPath string) (*Config, error) {
	// For simplicity, return default config
	// In production, this would parse YAML file
	cfg := DefaultConfig()
	cfg.ChunkSize = clampChunkSize(cfg.ChunkSize)
	return cfg, nil
}

// clampChunkSize rounds v into [256KiB, 8MiB], the working range the QUIC
// stream-per-chunk transport is tuned for: smaller chunks multiply
// per-stream overhead, larger ones hold a stream open long enough to stall
// fairness across a fan-out send.
func clampChunkSize(v int64) int64 {
	const min = 256 * 1024
	const max = 8 * 1024 * 1024
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
