package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AniketPatel369/p2p/internal/framing"
)

func TestNewTransferSessionComputesTotalChunks(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	s, err := NewTransferSession(1, data, 4, []string{"a", "b"})
	if err != nil {
		t.Fatalf("NewTransferSession: %v", err)
	}
	if s.TotalChunks() != 3 {
		t.Fatalf("total_chunks = %d, want 3", s.TotalChunks())
	}
}

func TestNewTransferSessionEmptyPayloadYieldsOneChunk(t *testing.T) {
	s, err := NewTransferSession(1, nil, 4, []string{"a"})
	if err != nil {
		t.Fatalf("NewTransferSession: %v", err)
	}
	if s.TotalChunks() != 1 {
		t.Fatalf("total_chunks = %d, want 1", s.TotalChunks())
	}
	chunk, err := s.ChunkFor(0)
	if err != nil {
		t.Fatalf("ChunkFor(0): %v", err)
	}
	if len(chunk.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(chunk.Payload))
	}
}

func TestNewTransferSessionRejectsNonPositiveChunkSize(t *testing.T) {
	if _, err := NewTransferSession(1, []byte("x"), 0, nil); err != ErrInvalidChunkSize {
		t.Fatalf("err = %v, want ErrInvalidChunkSize", err)
	}
}

func TestChunkForOutOfRange(t *testing.T) {
	s, err := NewTransferSession(1, []byte("abcd"), 4, nil)
	if err != nil {
		t.Fatalf("NewTransferSession: %v", err)
	}
	if _, err := s.ChunkFor(1); err != ErrChunkOutOfRange {
		t.Fatalf("err = %v, want ErrChunkOutOfRange", err)
	}
}

func TestTransferFanOutScenario(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	s, err := NewTransferSession(42, data, 4, []string{"a", "b"})
	if err != nil {
		t.Fatalf("NewTransferSession: %v", err)
	}
	if s.TotalChunks() != 3 {
		t.Fatalf("total_chunks = %d, want 3", s.TotalChunks())
	}

	if err := s.ApplyAck(framing.Ack{TransferID: 42, ReceiverID: "a", NextExpectedChunk: 2}); err != nil {
		t.Fatalf("ApplyAck: %v", err)
	}
	if err := s.ApplyAck(framing.Ack{TransferID: 42, ReceiverID: "a", NextExpectedChunk: 1}); err != nil {
		t.Fatalf("ApplyAck (stale): %v", err)
	}
	resumeFrom, err := s.ResumeFromForReceiver("a")
	if err != nil {
		t.Fatalf("ResumeFromForReceiver: %v", err)
	}
	if resumeFrom != 2 {
		t.Fatalf("resume_from(a) = %d, want 2 (stale ack must not regress)", resumeFrom)
	}

	if err := s.ApplyAck(framing.Ack{TransferID: 42, ReceiverID: "a", NextExpectedChunk: 3}); err != nil {
		t.Fatalf("ApplyAck: %v", err)
	}
	if err := s.ApplyAck(framing.Ack{TransferID: 42, ReceiverID: "b", NextExpectedChunk: 3}); err != nil {
		t.Fatalf("ApplyAck: %v", err)
	}
	if !s.AllComplete() {
		t.Fatalf("expected AllComplete() after both receivers ack all chunks")
	}
}

func TestApplyAckRejectsWrongTransfer(t *testing.T) {
	s, err := NewTransferSession(1, []byte("abcd"), 4, []string{"a"})
	if err != nil {
		t.Fatalf("NewTransferSession: %v", err)
	}
	if err := s.ApplyAck(framing.Ack{TransferID: 99, ReceiverID: "a", NextExpectedChunk: 1}); err != ErrWrongTransfer {
		t.Fatalf("err = %v, want ErrWrongTransfer", err)
	}
}

func TestApplyAckRejectsUnknownReceiver(t *testing.T) {
	s, err := NewTransferSession(1, []byte("abcd"), 4, []string{"a"})
	if err != nil {
		t.Fatalf("NewTransferSession: %v", err)
	}
	if err := s.ApplyAck(framing.Ack{TransferID: 1, ReceiverID: "ghost", NextExpectedChunk: 1}); err != ErrUnknownReceiver {
		t.Fatalf("err = %v, want ErrUnknownReceiver", err)
	}
}

func TestApplyAckRejectsOutOfRange(t *testing.T) {
	s, err := NewTransferSession(1, []byte("abcd"), 4, []string{"a"})
	if err != nil {
		t.Fatalf("NewTransferSession: %v", err)
	}
	if err := s.ApplyAck(framing.Ack{TransferID: 1, ReceiverID: "a", NextExpectedChunk: 2}); err != ErrAckOutOfRange {
		t.Fatalf("err = %v, want ErrAckOutOfRange", err)
	}
}

func TestCheckpointDurabilityScenario(t *testing.T) {
	m, err := NewLargeFileManager(7, 100, 16)
	if err != nil {
		t.Fatalf("NewLargeFileManager: %v", err)
	}
	if err := m.UpdateNextChunk(3); err != nil {
		t.Fatalf("UpdateNextChunk: %v", err)
	}
	if err := m.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	path := filepath.Join(t.TempDir(), "checkpoint")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	transferID, nextChunk, state, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if transferID != 7 {
		t.Errorf("transfer_id = %d, want 7", transferID)
	}
	if nextChunk != 3 {
		t.Errorf("next_chunk = %d, want 3", nextChunk)
	}
	if state != Paused {
		t.Errorf("state = %v, want Paused", state)
	}
}

func TestLoadCheckpointRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad-checkpoint")
	cases := [][]byte{
		[]byte("7\n3\n"),
		[]byte("not-a-number\n3\nrunning\n"),
		[]byte("7\n3\nsideways\n"),
		[]byte("7\n3\nrunning"),
	}
	for _, data := range cases {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatalf("os.WriteFile: %v", err)
		}
		if _, _, _, err := LoadCheckpoint(path); err != ErrCheckpointFormat {
			t.Errorf("LoadCheckpoint(%q) err = %v, want ErrCheckpointFormat", data, err)
		}
	}
}

func TestPauseResumeIdempotent(t *testing.T) {
	m, err := NewLargeFileManager(1, 100, 16)
	if err != nil {
		t.Fatalf("NewLargeFileManager: %v", err)
	}
	if err := m.Resume(); err != nil {
		t.Fatalf("Resume while Running should be a no-op: %v", err)
	}
	if err := m.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := m.Pause(); err != nil {
		t.Fatalf("Pause while Paused should be a no-op: %v", err)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	m, err := NewLargeFileManager(1, 100, 16)
	if err != nil {
		t.Fatalf("NewLargeFileManager: %v", err)
	}
	m.Cancel()
	if err := m.Pause(); err != ErrInvalidState {
		t.Fatalf("Pause after Cancel err = %v, want ErrInvalidState", err)
	}
	if err := m.Resume(); err != ErrInvalidState {
		t.Fatalf("Resume after Cancel err = %v, want ErrInvalidState", err)
	}
	if err := m.UpdateNextChunk(1); err != ErrInvalidState {
		t.Fatalf("UpdateNextChunk after Cancel err = %v, want ErrInvalidState", err)
	}
}

func TestUpdateNextChunkRejectsOutOfRange(t *testing.T) {
	m, err := NewLargeFileManager(1, 32, 16)
	if err != nil {
		t.Fatalf("NewLargeFileManager: %v", err)
	}
	if err := m.UpdateNextChunk(m.TotalChunks() + 1); err != ErrChunkOutOfRange {
		t.Fatalf("err = %v, want ErrChunkOutOfRange", err)
	}
}

func TestBuildChunkIndex(t *testing.T) {
	m, err := NewLargeFileManager(1, 100, 16)
	if err != nil {
		t.Fatalf("NewLargeFileManager: %v", err)
	}
	spans := m.BuildChunkIndex()
	if len(spans) != int(m.TotalChunks()) {
		t.Fatalf("len(spans) = %d, want %d", len(spans), m.TotalChunks())
	}
	if spans[0].Offset != 0 || spans[0].Length != 16 {
		t.Fatalf("spans[0] = %+v, want offset 0 length 16", spans[0])
	}
	last := spans[len(spans)-1]
	if last.Offset+last.Length != 100 {
		t.Fatalf("last span does not reach file end: %+v", last)
	}
}

func TestAssembleFileRequiresContiguousChunks(t *testing.T) {
	chunks := map[uint32][]byte{0: []byte("ab"), 2: []byte("ef")}
	if _, err := AssembleFile(3, chunks); err == nil {
		t.Fatalf("expected MissingChunk error for gap at index 1")
	}
}

func TestAssembleFileConcatenatesInOrder(t *testing.T) {
	chunks := map[uint32][]byte{0: []byte("ab"), 1: []byte("cd"), 2: []byte("ef")}
	out, err := AssembleFile(3, chunks)
	if err != nil {
		t.Fatalf("AssembleFile: %v", err)
	}
	if string(out) != "abcdef" {
		t.Fatalf("assembled = %q, want %q", out, "abcdef")
	}
}
