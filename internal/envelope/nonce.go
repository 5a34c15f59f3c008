package envelope

import "encoding/binary"

// Direction distinguishes the two halves of a duplex transfer so that a
// sender-to-receiver chunk and a receiver-to-sender ack can never collide on
// the same nonce even if they happen to share a transfer/chunk index.
type Direction byte

const (
	SenderToReceiver Direction = 0x01
	ReceiverToSender Direction = 0x02
)

// DeriveNonce builds the 12-byte GCM nonce for a given transfer, chunk and
// direction. Bytes 0..8 carry the transfer ID big-endian, bytes 8..11 carry
// the low 3 bytes of the chunk index, and byte 11 carries the direction tag.
// Because the tag always occupies the same position, a sender-direction
// nonce and a receiver-direction nonce for the same (transfer, chunk) can
// never collide.
func DeriveNonce(transferID uint64, chunkIndex uint32, direction Direction) [12]byte {
	var nonce [12]byte
	binary.BigEndian.PutUint64(nonce[0:8], transferID)
	nonce[8] = byte(chunkIndex >> 16)
	nonce[9] = byte(chunkIndex >> 8)
	nonce[10] = byte(chunkIndex)
	nonce[11] = byte(direction)
	return nonce
}
