package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/AniketPatel369/p2p/daemon/manager"
	"github.com/AniketPatel369/p2p/internal/envelope"
	"github.com/AniketPatel369/p2p/internal/framing"
	"github.com/AniketPatel369/p2p/internal/handshake"
	"github.com/AniketPatel369/p2p/internal/observability"
	"github.com/AniketPatel369/p2p/internal/transfer"
)

// chunkV2HeaderSize mirrors framing's unexported v2 header length: magic,
// protocol_version, encryption_flag, transfer_id, chunk_index, total_chunks,
// nonce, aad_len, payload_len.
const chunkV2HeaderSize = 4 + 1 + 1 + 8 + 4 + 4 + 12 + 2 + 4

// ErrWrongTransferID is returned when an incoming frame names a transfer
// other than the one this receiver was built for.
var ErrWrongTransferID = errors.New("transport: chunk frame names a different transfer")

// ChunkReceiver accepts one QUIC stream per incoming chunk, decrypts it
// under the session's rx key, and writes the plaintext to the correct
// offset of the destination file.
type ChunkReceiver struct {
	connection  *quic.Conn
	sessionKeys handshake.SessionKeys
	transferID  uint64
	receiverID  string
	chunkSize   int64
	manager     *transfer.LargeFileManager
	bitmap      *manager.ChunkBitmap
	control     *ControlStream

	onChunkReceived func(chunkIndex uint32)

	mu   sync.Mutex
	file *os.File

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewChunkReceiver opens (or creates) outputPath and returns a receiver
// ready to accept streams for transferID.
func NewChunkReceiver(
	connection *quic.Conn,
	sessionKeys handshake.SessionKeys,
	transferID uint64,
	receiverID string,
	outputPath string,
	chunkSize int64,
	fileManager *transfer.LargeFileManager,
	control *ControlStream,
	onChunkReceived func(chunkIndex uint32),
	logger *observability.Logger,
	metrics *observability.Metrics,
) (*ChunkReceiver, error) {
	file, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	var bitmap *manager.ChunkBitmap
	if fileManager != nil {
		bitmap = manager.NewChunkBitmap(transferID, receiverID, fileManager.TotalChunks())
	}

	return &ChunkReceiver{
		connection:      connection,
		sessionKeys:     sessionKeys,
		transferID:      transferID,
		receiverID:      receiverID,
		chunkSize:       chunkSize,
		manager:         fileManager,
		bitmap:          bitmap,
		control:         control,
		onChunkReceived: onChunkReceived,
		file:            file,
		logger:          logger,
		metrics:         metrics,
	}, nil
}

// Close closes the backing output file.
func (r *ChunkReceiver) Close() error {
	return r.file.Close()
}

// AcceptAndProcessStreams accepts incoming chunk streams until ctx is
// cancelled or the connection closes.
func (r *ChunkReceiver) AcceptAndProcessStreams(ctx context.Context) error {
	for {
		stream, err := r.connection.AcceptStream(ctx)
		if err != nil {
			return err
		}
		go r.processChunkStream(stream)
	}
}

func (r *ChunkReceiver) processChunkStream(stream *quic.Stream) {
	defer stream.Close()

	v2, err := readV2Frame(stream)
	if err != nil {
		if r.logger != nil {
			r.logger.WithSession(r.receiverID).Error(err, "failed to read chunk frame")
		}
		return
	}

	if v2.TransferID != r.transferID {
		r.nack(v2.ChunkIndex, ErrWrongTransferID.Error())
		return
	}

	v1, err := framing.DecryptChunkFrame(v2, r.sessionKeys.RxKey[:], envelope.Open)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordChunkRetransmit("decrypt_failed")
		}
		if r.logger != nil {
			r.logger.ChunkDecryptFailed(r.receiverID, int(v2.ChunkIndex), "decrypt_failed", err.Error(), 0)
		}
		r.nack(v2.ChunkIndex, "decrypt_failed")
		return
	}

	if err := r.writeChunk(v1.ChunkIndex, v1.Payload); err != nil {
		if r.logger != nil {
			r.logger.Error(err, fmt.Sprintf("failed to write chunk %d", v1.ChunkIndex))
		}
		r.nack(v1.ChunkIndex, "write_failed")
		return
	}

	if r.metrics != nil {
		r.metrics.RecordChunkReceived(len(v1.Payload))
	}

	if r.bitmap != nil {
		if err := r.bitmap.SetChunk(v1.ChunkIndex); err != nil {
			if r.logger != nil {
				r.logger.Error(err, fmt.Sprintf("failed to mark chunk %d received", v1.ChunkIndex))
			}
		}
	}

	if r.manager != nil {
		// The manager's checkpoint only ever advances to the contiguous
		// prefix the bitmap confirms: chunks on other streams may have
		// landed out of order and must not jump the checkpoint ahead of
		// gaps that are still missing.
		contiguous := v1.ChunkIndex + 1
		if r.bitmap != nil {
			contiguous = r.bitmap.ContiguousUpTo()
		}
		_ = r.manager.UpdateNextChunk(contiguous)
	}

	if r.onChunkReceived != nil {
		r.onChunkReceived(v1.ChunkIndex)
	}

	r.ack(v1.ChunkIndex)
}

// writeChunk writes data at chunkIndex's file offset.
func (r *ChunkReceiver) writeChunk(chunkIndex uint32, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	offset := int64(chunkIndex) * r.chunkSize
	if _, err := r.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write chunk %d: %w", chunkIndex, err)
	}
	return nil
}

func (r *ChunkReceiver) ack(chunkIndex uint32) {
	if r.control == nil {
		return
	}
	next := chunkIndex + 1
	switch {
	case r.bitmap != nil:
		next = r.bitmap.ContiguousUpTo()
	case r.manager != nil:
		next = r.manager.NextChunk()
	}
	_ = r.control.SendAck(&AckMessage{
		TransferID:        r.transferID,
		ReceiverID:        r.receiverID,
		NextExpectedChunk: next,
	})
}

func (r *ChunkReceiver) nack(chunkIndex uint32, reason string) {
	if r.control == nil {
		return
	}
	var comp ChunkRangeCompressor
	ranges := comp.Compress([]int64{int64(chunkIndex)})
	_ = r.control.SendNack(&NackMessage{
		TransferID:    r.transferID,
		MissingRanges: ranges,
		Reason:        reason,
	})
}

// readV2Frame reads one complete v2 frame from r: the fixed header first,
// to learn the variable aad/payload lengths, then the remainder.
func readV2Frame(r io.Reader) (framing.TransferChunkV2, error) {
	header := make([]byte, chunkV2HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return framing.TransferChunkV2{}, fmt.Errorf("read frame header: %w", err)
	}

	aadLen := int(binary.BigEndian.Uint16(header[34:36]))
	payloadLen := int(binary.BigEndian.Uint32(header[36:40]))

	rest := make([]byte, aadLen+payloadLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return framing.TransferChunkV2{}, fmt.Errorf("read frame body: %w", err)
	}

	full := make([]byte, 0, len(header)+len(rest))
	full = append(full, header...)
	full = append(full, rest...)

	return framing.DecodeTransferChunkV2(full)
}
