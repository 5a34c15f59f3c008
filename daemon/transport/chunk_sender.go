package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/AniketPatel369/p2p/internal/envelope"
	"github.com/AniketPatel369/p2p/internal/framing"
	"github.com/AniketPatel369/p2p/internal/handshake"
	"github.com/AniketPatel369/p2p/internal/transfer"
)

var ErrWorkerPoolStopped = errors.New("worker pool stopped")

// ChunkWorkerPool drives parallel chunk transmission for one transfer
// session: each worker pulls a chunk index off the queue, encrypts it under
// the session's tx key, and writes the resulting v2 frame to its own QUIC
// stream.
type ChunkWorkerPool struct {
	workerCount   int
	chunkQueue    chan uint32
	connection    *quic.Conn
	scheduler     *PriorityScheduler
	class         PriorityClass
	session       *transfer.TransferSession
	sessionKeys   handshake.SessionKeys
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	workerCancels []context.CancelFunc
	onChunkSent   func(chunkIndex uint32)
	onChunkFailed func(chunkIndex uint32, err error)
}

// NewChunkWorkerPool creates a new worker pool for session, sending
// encrypted chunks over connection using sessionKeys.TxKey.
func NewChunkWorkerPool(
	workerCount int,
	queueDepth int,
	connection *quic.Conn,
	session *transfer.TransferSession,
	sessionKeys handshake.SessionKeys,
	onChunkSent func(chunkIndex uint32),
	onChunkFailed func(chunkIndex uint32, err error),
) *ChunkWorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &ChunkWorkerPool{
		workerCount:   workerCount,
		chunkQueue:    make(chan uint32, queueDepth),
		connection:    connection,
		session:       session,
		sessionKeys:   sessionKeys,
		ctx:           ctx,
		cancel:        cancel,
		onChunkSent:   onChunkSent,
		onChunkFailed: onChunkFailed,
		class:         PriorityChunks,
	}
}

// SetScheduler attaches a PriorityScheduler; sends are then dispatched
// through it instead of directly from the worker goroutine.
func (p *ChunkWorkerPool) SetScheduler(s *PriorityScheduler) {
	p.scheduler = s
}

// Start starts the worker pool.
func (p *ChunkWorkerPool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.addWorker()
	}
}

func (p *ChunkWorkerPool) addWorker() {
	p.wg.Add(1)
	wctx, wcancel := context.WithCancel(p.ctx)
	p.workerCancels = append(p.workerCancels, wcancel)
	id := len(p.workerCancels)
	go p.workerWithCtx(id, wctx)
}

// EnqueueChunk adds a chunk to the transmission queue.
func (p *ChunkWorkerPool) EnqueueChunk(chunkIndex uint32) error {
	select {
	case p.chunkQueue <- chunkIndex:
		return nil
	case <-p.ctx.Done():
		return ErrWorkerPoolStopped
	}
}

// Stop stops the worker pool gracefully: it closes the queue, waits for the
// workers to hand off every chunk already enqueued, then cancels them.
func (p *ChunkWorkerPool) Stop() {
	close(p.chunkQueue)
	p.wg.Wait()
	for _, c := range p.workerCancels {
		c()
	}
	p.cancel()
}

// ScaleWorkers adjusts the number of active workers up or down.
func (p *ChunkWorkerPool) ScaleWorkers(target int) {
	if target <= 0 {
		target = 1
	}
	for len(p.workerCancels) < target {
		p.addWorker()
	}
	for len(p.workerCancels) > target {
		idx := len(p.workerCancels) - 1
		p.workerCancels[idx]()
		p.workerCancels = p.workerCancels[:idx]
	}
}

func (p *ChunkWorkerPool) workerWithCtx(workerID int, wctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case chunkIndex, ok := <-p.chunkQueue:
			if !ok {
				return
			}

			if p.scheduler != nil {
				ci := chunkIndex
				p.scheduler.Enqueue(p.class, func(ctx context.Context) {
					p.dispatchChunk(workerID, ci)
				})
				continue
			}

			p.dispatchChunk(workerID, chunkIndex)

		case <-p.ctx.Done():
			return
		case <-wctx.Done():
			return
		}
	}
}

func (p *ChunkWorkerPool) dispatchChunk(workerID int, chunkIndex uint32) {
	if err := p.sendChunk(chunkIndex); err != nil {
		if p.onChunkFailed != nil {
			p.onChunkFailed(chunkIndex, err)
		}
		return
	}
	if p.onChunkSent != nil {
		p.onChunkSent(chunkIndex)
	}
}

// sendChunk reads chunkIndex from the session, seals it, and writes the
// resulting v2 frame to a fresh QUIC stream.
func (p *ChunkWorkerPool) sendChunk(chunkIndex uint32) error {
	stream, err := p.connection.OpenStreamSync(p.ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	v1, err := p.session.ChunkFor(chunkIndex)
	if err != nil {
		return err
	}

	v2, err := framing.EncryptChunkFrame(v1, p.sessionKeys.TxKey[:], deriveSenderNonce, envelope.Seal)
	if err != nil {
		return fmt.Errorf("encrypt chunk %d: %w", chunkIndex, err)
	}

	if _, err := stream.Write(v2.Encode()); err != nil {
		return fmt.Errorf("write chunk %d: %w", chunkIndex, err)
	}

	return nil
}

func deriveSenderNonce(transferID uint64, chunkIndex uint32) [12]byte {
	return envelope.DeriveNonce(transferID, chunkIndex, envelope.SenderToReceiver)
}
