// Package transfer holds the per-session and per-file state a driver walks
// through while moving one file to one or more receivers: chunk fan-out,
// monotonic ack bookkeeping, and the pause/resume/cancel checkpoint that
// survives a restart.
package transfer

import (
	"errors"
	"fmt"

	"github.com/AniketPatel369/p2p/internal/framing"
)

var (
	// ErrInvalidChunkSize is returned when constructing a session or
	// large-file manager with a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("transfer: chunk_size must be positive")
	// ErrZeroTotalChunks names a zero total_chunks count. No constructor in
	// this package returns it: NewTransferSession and NewLargeFileManager
	// both clamp total_chunks to at least one, so every transfer, even of an
	// empty payload, covers at least one chunk.
	ErrZeroTotalChunks = errors.New("transfer: total_chunks must be positive")
	// ErrChunkOutOfRange is returned by ChunkFor for an index >= total_chunks.
	ErrChunkOutOfRange = errors.New("transfer: chunk index out of range")
	// ErrWrongTransfer is returned when an Ack names a different transfer_id.
	ErrWrongTransfer = errors.New("transfer: ack for wrong transfer_id")
	// ErrUnknownReceiver is returned when an Ack names a receiver the
	// session was not opened for.
	ErrUnknownReceiver = errors.New("transfer: unknown receiver")
	// ErrAckOutOfRange is returned when an Ack's next_expected_chunk
	// exceeds total_chunks.
	ErrAckOutOfRange = errors.New("transfer: ack next_expected_chunk out of range")
)

func ceilDiv(a, b int) int {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// TransferSession holds the chunked view of one file and the independent
// ack checkpoint of every receiver it is being sent to.
type TransferSession struct {
	transferID  uint64
	totalChunks uint32
	chunkSize   int
	data        []byte
	receivers   map[string]framing.ReceiverProgress
}

// NewTransferSession opens a session for data, split into chunkSize-byte
// chunks (the last chunk may be shorter), addressed to receiverIDs.
// total_chunks = max(1, ceil(len(data)/chunk_size)): an empty payload still
// produces one empty chunk.
func NewTransferSession(transferID uint64, data []byte, chunkSize int, receiverIDs []string) (*TransferSession, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	total := ceilDiv(len(data), chunkSize)
	if total == 0 {
		total = 1
	}

	receivers := make(map[string]framing.ReceiverProgress, len(receiverIDs))
	for _, id := range receiverIDs {
		receivers[id] = framing.ReceiverProgress{ReceiverID: id, AckedUpToExclusive: 0, TotalChunks: uint32(total)}
	}

	return &TransferSession{
		transferID:  transferID,
		totalChunks: uint32(total),
		chunkSize:   chunkSize,
		data:        data,
		receivers:   receivers,
	}, nil
}

// TransferID returns the session's transfer identifier.
func (s *TransferSession) TransferID() uint64 { return s.transferID }

// TotalChunks returns the session's fixed chunk count.
func (s *TransferSession) TotalChunks() uint32 { return s.totalChunks }

// ChunkFor returns the v1 logical chunk at index i.
func (s *TransferSession) ChunkFor(i uint32) (framing.TransferChunk, error) {
	if i >= s.totalChunks {
		return framing.TransferChunk{}, ErrChunkOutOfRange
	}
	start := int(i) * s.chunkSize
	end := start + s.chunkSize
	if end > len(s.data) {
		end = len(s.data)
	}
	if start > len(s.data) {
		start = len(s.data)
	}
	return framing.TransferChunk{
		TransferID:  s.transferID,
		ChunkIndex:  i,
		TotalChunks: s.totalChunks,
		Payload:     s.data[start:end],
	}, nil
}

// ApplyAck folds an Ack into the named receiver's checkpoint. Acks are
// monotonic: an ack whose next_expected_chunk does not exceed the
// receiver's current checkpoint is accepted and silently ignored.
func (s *TransferSession) ApplyAck(ack framing.Ack) error {
	if ack.TransferID != s.transferID {
		return ErrWrongTransfer
	}
	progress, ok := s.receivers[ack.ReceiverID]
	if !ok {
		return ErrUnknownReceiver
	}
	if ack.NextExpectedChunk > s.totalChunks {
		return ErrAckOutOfRange
	}
	if ack.NextExpectedChunk > progress.AckedUpToExclusive {
		progress.AckedUpToExclusive = ack.NextExpectedChunk
		s.receivers[ack.ReceiverID] = progress
	}
	return nil
}

// ResumeFromForReceiver returns the chunk index a sender should resume
// transmission from for receiverID: its current acked_up_to_exclusive.
func (s *TransferSession) ResumeFromForReceiver(receiverID string) (uint32, error) {
	progress, ok := s.receivers[receiverID]
	if !ok {
		return 0, ErrUnknownReceiver
	}
	return progress.AckedUpToExclusive, nil
}

// Progress returns the current ReceiverProgress for receiverID.
func (s *TransferSession) Progress(receiverID string) (framing.ReceiverProgress, error) {
	progress, ok := s.receivers[receiverID]
	if !ok {
		return framing.ReceiverProgress{}, ErrUnknownReceiver
	}
	return progress, nil
}

// AllComplete reports whether every receiver has acked every chunk.
func (s *TransferSession) AllComplete() bool {
	for _, progress := range s.receivers {
		if !progress.IsComplete() {
			return false
		}
	}
	return true
}

// String is a compact debug summary, useful in driver logs.
func (s *TransferSession) String() string {
	return fmt.Sprintf("transfer %d: %d chunks, %d receivers", s.transferID, s.totalChunks, len(s.receivers))
}
