package transport

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/AniketPatel369/p2p/internal/handshake"
)

var (
	ErrInvalidSignature       = errors.New("invalid manifest signature")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
)

const (
	ProtocolVersion = 1
	ControlStreamID = 0
)

// ControlMessageType represents control message types exchanged on stream 0
// before any chunk data flows: the handshake, the signed file manifest, and
// per-receiver ack/status/verification traffic.
type ControlMessageType uint8

const (
	MessageTypeClientHello ControlMessageType = iota + 1
	MessageTypeServerHello
	MessageTypeManifest
	MessageTypeAck
	MessageTypeNack
	MessageTypeStatus
	MessageTypeVerification
)

// SignedManifest represents a cryptographically signed file manifest.
type SignedManifest struct {
	ManifestJSON    []byte
	Signature       []byte
	PublicKey       []byte
	ProtocolVersion int32
}

// AckMessage carries a transfer session's monotonic ack checkpoint.
type AckMessage struct {
	TransferID        uint64
	ReceiverID        string
	NextExpectedChunk uint32
	Timestamp         int64
}

// NackMessage requests retransmission of the named chunk ranges.
type NackMessage struct {
	TransferID    uint64
	MissingRanges string
	Reason        string
	Timestamp     int64
}

// StatusMessage represents a transfer status update.
type StatusMessage struct {
	TransferID      uint64
	CurrentState    int32
	ProgressPercent float64
	Message         string
	Timestamp       int64
}

// VerificationMessage represents a Merkle root verification result.
type VerificationMessage struct {
	TransferID         uint64
	Status             string
	MerkleRootComputed []byte
	MerkleRootExpected []byte
	Timestamp          int64
	Signature          []byte
	PublicKey          []byte
}

// ControlStream manages the control protocol stream.
type ControlStream struct {
	stream *quic.Stream
}

// NewControlStream creates a new control stream wrapper.
func NewControlStream(stream *quic.Stream) *ControlStream {
	return &ControlStream{
		stream: stream,
	}
}

// SendClientHello sends a handshake ClientHello over the control stream.
func (cs *ControlStream) SendClientHello(hello handshake.ClientHello) error {
	return cs.sendControlMessage(MessageTypeClientHello, hello)
}

// ReceiveClientHello receives a handshake ClientHello.
func (cs *ControlStream) ReceiveClientHello() (handshake.ClientHello, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return handshake.ClientHello{}, err
	}
	if msgType != MessageTypeClientHello {
		return handshake.ClientHello{}, fmt.Errorf("expected client hello message, got %d", msgType)
	}
	var hello handshake.ClientHello
	if err := json.Unmarshal(data, &hello); err != nil {
		return handshake.ClientHello{}, err
	}
	return hello, nil
}

// SendServerHello sends a handshake ServerHello over the control stream.
func (cs *ControlStream) SendServerHello(hello handshake.ServerHello) error {
	return cs.sendControlMessage(MessageTypeServerHello, hello)
}

// ReceiveServerHello receives a handshake ServerHello.
func (cs *ControlStream) ReceiveServerHello() (handshake.ServerHello, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return handshake.ServerHello{}, err
	}
	if msgType != MessageTypeServerHello {
		return handshake.ServerHello{}, fmt.Errorf("expected server hello message, got %d", msgType)
	}
	var hello handshake.ServerHello
	if err := json.Unmarshal(data, &hello); err != nil {
		return handshake.ServerHello{}, err
	}
	return hello, nil
}

// SendSignedManifest sends a signed manifest over the control stream.
func (cs *ControlStream) SendSignedManifest(manifestJSON []byte, privateKey ed25519.PrivateKey) error {
	signature := ed25519.Sign(privateKey, manifestJSON)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	return cs.sendSignedManifest(manifestJSON, signature, publicKey)
}

// SendSignedManifestWithSigner is SendSignedManifest for callers holding a
// device identity rather than a raw ed25519.PrivateKey: sign is typically
// (*identity.DeviceIdentity).Sign.
func (cs *ControlStream) SendSignedManifestWithSigner(manifestJSON []byte, sign func([]byte) []byte, publicKey ed25519.PublicKey) error {
	return cs.sendSignedManifest(manifestJSON, sign(manifestJSON), publicKey)
}

func (cs *ControlStream) sendSignedManifest(manifestJSON, signature []byte, publicKey ed25519.PublicKey) error {
	sm := &SignedManifest{
		ManifestJSON:    manifestJSON,
		Signature:       signature,
		PublicKey:       publicKey,
		ProtocolVersion: ProtocolVersion,
	}
	return cs.sendControlMessage(MessageTypeManifest, sm)
}

// ReceiveSignedManifest receives and verifies a signed manifest.
func (cs *ControlStream) ReceiveSignedManifest() (*SignedManifest, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeManifest {
		return nil, fmt.Errorf("expected manifest message, got %d", msgType)
	}

	var sm SignedManifest
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, err
	}

	if sm.ProtocolVersion != ProtocolVersion {
		return nil, ErrInvalidProtocolVersion
	}

	if !ed25519.Verify(sm.PublicKey, sm.ManifestJSON, sm.Signature) {
		return nil, ErrInvalidSignature
	}

	return &sm, nil
}

// SendAck sends an acknowledgment message.
func (cs *ControlStream) SendAck(ack *AckMessage) error {
	return cs.sendControlMessage(MessageTypeAck, ack)
}

// ReceiveAck receives an acknowledgment message.
func (cs *ControlStream) ReceiveAck() (*AckMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeAck {
		return nil, fmt.Errorf("expected ack message, got %d", msgType)
	}

	var ack AckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, err
	}

	return &ack, nil
}

// SendNack sends a negative acknowledgment message.
func (cs *ControlStream) SendNack(nack *NackMessage) error {
	return cs.sendControlMessage(MessageTypeNack, nack)
}

// ReceiveNack receives a negative acknowledgment message.
func (cs *ControlStream) ReceiveNack() (*NackMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeNack {
		return nil, fmt.Errorf("expected nack message, got %d", msgType)
	}

	var nack NackMessage
	if err := json.Unmarshal(data, &nack); err != nil {
		return nil, err
	}

	return &nack, nil
}

// SendStatus sends a status update message.
func (cs *ControlStream) SendStatus(status *StatusMessage) error {
	return cs.sendControlMessage(MessageTypeStatus, status)
}

// ReceiveStatus receives a status update message.
func (cs *ControlStream) ReceiveStatus() (*StatusMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeStatus {
		return nil, fmt.Errorf("expected status message, got %d", msgType)
	}

	var status StatusMessage
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// SendVerification sends a verification result message.
func (cs *ControlStream) SendVerification(verification *VerificationMessage) error {
	return cs.sendControlMessage(MessageTypeVerification, verification)
}

// ReceiveVerification receives a verification result message.
func (cs *ControlStream) ReceiveVerification() (*VerificationMessage, error) {
	msgType, data, err := cs.receiveControlMessage()
	if err != nil {
		return nil, err
	}

	if msgType != MessageTypeVerification {
		return nil, fmt.Errorf("expected verification message, got %d", msgType)
	}

	var verification VerificationMessage
	if err := json.Unmarshal(data, &verification); err != nil {
		return nil, err
	}

	return &verification, nil
}

// sendControlMessage sends a control message with type and payload.
func (cs *ControlStream) sendControlMessage(msgType ControlMessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := binary.Write(cs.stream, binary.BigEndian, msgType); err != nil {
		return err
	}

	length := uint32(len(data))
	if err := binary.Write(cs.stream, binary.BigEndian, length); err != nil {
		return err
	}

	_, err = cs.stream.Write(data)
	return err
}

// ReceiveAny receives any control message and returns its type and raw payload.
func (cs *ControlStream) ReceiveAny() (ControlMessageType, []byte, error) {
	return cs.receiveControlMessage()
}

// receiveControlMessage receives a control message.
func (cs *ControlStream) receiveControlMessage() (ControlMessageType, []byte, error) {
	var msgType ControlMessageType
	if err := binary.Read(cs.stream, binary.BigEndian, &msgType); err != nil {
		return 0, nil, err
	}

	var length uint32
	if err := binary.Read(cs.stream, binary.BigEndian, &length); err != nil {
		return 0, nil, err
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(cs.stream, data); err != nil {
		return 0, nil, err
	}

	return msgType, data, nil
}

// Close closes the control stream.
func (cs *ControlStream) Close() error {
	return cs.stream.Close()
}

// ChunkRangeCompressor compresses chunk indices into range notation, used
// to keep Nack messages compact when many chunks are missing.
type ChunkRangeCompressor struct{}

// Compress converts a slice of chunk indices to range string.
func (c *ChunkRangeCompressor) Compress(chunks []int64) string {
	if len(chunks) == 0 {
		return ""
	}

	var buf bytes.Buffer
	start := chunks[0]
	prev := chunks[0]

	for i := 1; i < len(chunks); i++ {
		curr := chunks[i]

		if curr == prev+1 {
			prev = curr
		} else {
			if start == prev {
				fmt.Fprintf(&buf, "%d,", start)
			} else {
				fmt.Fprintf(&buf, "%d-%d,", start, prev)
			}
			start = curr
			prev = curr
		}
	}

	if start == prev {
		fmt.Fprintf(&buf, "%d", start)
	} else {
		fmt.Fprintf(&buf, "%d-%d", start, prev)
	}

	return buf.String()
}

// Decompress converts range string to slice of chunk indices.
func (c *ChunkRangeCompressor) Decompress(rangeStr string) ([]int64, error) {
	if rangeStr == "" {
		return []int64{}, nil
	}

	var chunks []int64
	ranges := bytes.Split([]byte(rangeStr), []byte(","))

	for _, r := range ranges {
		parts := bytes.Split(r, []byte("-"))

		if len(parts) == 1 {
			var chunk int64
			if _, err := fmt.Sscanf(string(parts[0]), "%d", &chunk); err != nil {
				return nil, err
			}
			chunks = append(chunks, chunk)
		} else if len(parts) == 2 {
			var start, end int64
			if _, err := fmt.Sscanf(string(parts[0]), "%d", &start); err != nil {
				return nil, err
			}
			if _, err := fmt.Sscanf(string(parts[1]), "%d", &end); err != nil {
				return nil, err
			}
			for i := start; i <= end; i++ {
				chunks = append(chunks, i)
			}
		}
	}

	return chunks, nil
}
