package transport

import (
	"fmt"
	"sync"

	"github.com/AniketPatel369/p2p/internal/framing"
	"github.com/AniketPatel369/p2p/internal/handshake"
	"github.com/AniketPatel369/p2p/internal/transfer"
)

// OrchestratedSender fans one TransferSession out across its receivers,
// running a dedicated ChunkWorkerPool per receiver connection and folding
// every incoming ack back into the shared session state.
type OrchestratedSender struct {
	session *transfer.TransferSession

	mu       sync.Mutex
	pools    map[string]*ChunkWorkerPool
	controls map[string]*ControlStream
}

// NewOrchestratedSender creates an orchestrator for session. Receivers are
// attached afterward with AddReceiver as their connections come up.
func NewOrchestratedSender(session *transfer.TransferSession) *OrchestratedSender {
	return &OrchestratedSender{
		session:  session,
		pools:    make(map[string]*ChunkWorkerPool),
		controls: make(map[string]*ControlStream),
	}
}

// AddReceiver starts a worker pool for receiverID over conn, scheduled
// through conn's PriorityScheduler at PriorityChunks. onChunkFailed is
// invoked with the receiver it failed for, to let callers retry or drop a
// stalled receiver without affecting the others.
func (s *OrchestratedSender) AddReceiver(
	receiverID string,
	conn *QUICConnection,
	sessionKeys handshake.SessionKeys,
	workerCount, queueDepth int,
	onChunkSent func(receiverID string, chunkIndex uint32),
	onChunkFailed func(receiverID string, chunkIndex uint32, err error),
) *ChunkWorkerPool {
	pool := NewChunkWorkerPool(
		workerCount, queueDepth, conn.GetConnection(), s.session, sessionKeys,
		func(chunkIndex uint32) {
			if onChunkSent != nil {
				onChunkSent(receiverID, chunkIndex)
			}
		},
		func(chunkIndex uint32, err error) {
			if onChunkFailed != nil {
				onChunkFailed(receiverID, chunkIndex, err)
			}
		},
	)
	pool.SetScheduler(conn.Scheduler())
	pool.Start()

	s.mu.Lock()
	s.pools[receiverID] = pool
	s.controls[receiverID] = conn.GetControlStream()
	s.mu.Unlock()

	return pool
}

// EnqueueFromResumePoint enqueues every chunk from receiverID's current
// checkpoint through the session's last chunk, letting a reconnecting
// receiver pick up where its last ack left off instead of restarting.
func (s *OrchestratedSender) EnqueueFromResumePoint(receiverID string) error {
	s.mu.Lock()
	pool, ok := s.pools[receiverID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no worker pool for receiver %q", receiverID)
	}

	start, err := s.session.ResumeFromForReceiver(receiverID)
	if err != nil {
		return err
	}

	for i := start; i < s.session.TotalChunks(); i++ {
		if err := pool.EnqueueChunk(i); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAck folds a receiver's ack into the shared session checkpoint.
func (s *OrchestratedSender) ApplyAck(msg *AckMessage) error {
	return s.session.ApplyAck(framing.Ack{
		TransferID:        msg.TransferID,
		ReceiverID:        msg.ReceiverID,
		NextExpectedChunk: msg.NextExpectedChunk,
	})
}

// ReceiverComplete reports whether a specific receiver has acked the whole
// transfer.
func (s *OrchestratedSender) ReceiverComplete(receiverID string) (bool, error) {
	progress, err := s.session.Progress(receiverID)
	if err != nil {
		return false, err
	}
	return progress.IsComplete(), nil
}

// AllComplete reports whether every receiver has acked the whole transfer.
func (s *OrchestratedSender) AllComplete() bool {
	return s.session.AllComplete()
}

// Close stops every receiver's worker pool.
func (s *OrchestratedSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pools {
		p.Stop()
	}
}
