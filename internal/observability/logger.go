package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the fields and named events this daemon emits
// throughout a handshake, transfer and route decision.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger builds a Logger tagged with service/version/host context. A nil
// output defaults to stdout.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	base := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", hostname()).
		Logger()

	return &Logger{logger: base}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// WithSession returns a Logger that tags every subsequent line with the
// given transfer session ID.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{logger: l.logger.With().Str("session_id", sessionID).Logger()}
}

// WithPeer returns a Logger that tags every subsequent line with the given
// peer's fingerprint or device ID.
func (l *Logger) WithPeer(peerID string) *Logger {
	return &Logger{logger: l.logger.With().Str("peer_id", peerID).Logger()}
}

// WithFile returns a Logger that tags every subsequent line with the file
// being transferred.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{logger: l.logger.With().
		Str("file_path", filePath).
		Int64("file_size", fileSize).
		Logger()}
}

func (l *Logger) Debug(msg string)           { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)            { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)            { l.logger.Warn().Msg(msg) }
func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }
func (l *Logger) Fatal(err error, msg string) { l.logger.Fatal().Err(err).Msg(msg) }

// HandshakeCompleted logs a successful client/server hello exchange and the
// encryption mode it negotiated.
func (l *Logger) HandshakeCompleted(peerID string, encryptionEnabled bool, mode string) {
	l.logger.Info().
		Str("peer_id", peerID).
		Bool("encryption_enabled", encryptionEnabled).
		Str("encryption_mode", mode).
		Msg("handshake completed")
}

// HandshakeRejected logs a failed hello verification with its cause.
func (l *Logger) HandshakeRejected(peerID string, reason error) {
	l.logger.Warn().
		Str("peer_id", peerID).
		Err(reason).
		Msg("handshake rejected")
}

// ReplayDetected logs a nonce presented a second time within the replay
// guard's TTL window.
func (l *Logger) ReplayDetected(peerID string) {
	l.logger.Warn().
		Str("peer_id", peerID).
		Msg("replay guard rejected a reused nonce")
}

// RouteDecided logs the connectivity plan NatPlanner chose for a session.
func (l *Logger) RouteDecided(sessionID, route, reason string) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("route", route).
		Str("reason", reason).
		Msg("connectivity route decided")
}

// LanPolicyDenied logs a peer address rejected by the offline LAN policy.
func (l *Logger) LanPolicyDenied(remoteAddr, reason string) {
	l.logger.Warn().
		Str("remote_addr", remoteAddr).
		Str("reason", reason).
		Msg("peer denied by LAN-offline policy")
}

// TransferStarted logs a new transfer session opening.
func (l *Logger) TransferStarted(sessionID, filePath string, fileSize int64, totalChunks int) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("file_path", filePath).
		Int64("file_size", fileSize).
		Int("total_chunks", totalChunks).
		Msg("transfer session started")
}

// ChunkSent logs one chunk leaving on a stream.
func (l *Logger) ChunkSent(sessionID string, chunkIndex, chunkSize int, streamID int64) {
	l.logger.Debug().
		Str("session_id", sessionID).
		Int("chunk_index", chunkIndex).
		Int("chunk_size", chunkSize).
		Int64("stream_id", streamID).
		Msg("chunk sent on stream")
}

// TransferProgress logs a periodic progress sample for one receiver.
func (l *Logger) TransferProgress(sessionID string, chunksSent, totalChunks int, transferRate int64, elapsed time.Duration) {
	var progress float64
	if totalChunks > 0 {
		progress = float64(chunksSent) / float64(totalChunks) * 100.0
	}
	l.logger.Info().
		Str("session_id", sessionID).
		Int("chunks_sent", chunksSent).
		Int("total_chunks", totalChunks).
		Float64("progress_percent", progress).
		Int64("transfer_rate", transferRate).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("transfer progress")
}

// TransferCompleted logs every receiver reaching all_complete.
func (l *Logger) TransferCompleted(sessionID string, fileSize int64, totalChunks int, duration time.Duration, avgThroughput int64, merkleVerified bool) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int64("file_size", fileSize).
		Int("total_chunks", totalChunks).
		Float64("duration_seconds", duration.Seconds()).
		Int64("average_throughput", avgThroughput).
		Bool("merkle_verified", merkleVerified).
		Msg("transfer completed")
}

// ChunkDecryptFailed logs an AEAD open failure on an inbound v2 frame.
func (l *Logger) ChunkDecryptFailed(sessionID string, chunkIndex int, errorCode, errorMsg string, retryCount int) {
	l.logger.Error().
		Str("session_id", sessionID).
		Int("chunk_index", chunkIndex).
		Str("error_code", errorCode).
		Str("error_message", errorMsg).
		Int("retry_count", retryCount).
		Msg("chunk decryption failed")
}

// ConnectionEstablished logs a QUIC connection accepted or dialed.
func (l *Logger) ConnectionEstablished(remoteAddr, connectionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("connection_id", connectionID).
		Msg("QUIC connection established")
}

// ConnectionFailed logs a QUIC dial or accept failure.
func (l *Logger) ConnectionFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("QUIC connection failed")
}
