package transport

// PriorityClass orders work competing for one QUIC connection's send
// capacity. Control traffic (handshake, acks) always drains ahead of bulk
// chunk data so a stalled transfer doesn't starve session bookkeeping.
type PriorityClass uint8

const (
	PriorityControl PriorityClass = iota
	PriorityChunks
	PriorityBackground
)
