package classradio

import (
	"context"
)

// Radio defines methods for sending and receiving packets over a shared broadcast channel.
// Delivery is best-effort: packets may be lost, reordered or dropped when the receive queue is full.
// A radio never receives the packets it sent itself.
type Radio interface {
	// Tune switches the radio to the given channel. Packets queued on the previous channel are discarded.
	Tune(channel uint8) error
	// Send broadcasts a packet on the current channel.
	Send(ctx context.Context, packet []byte) error
	// Receive returns the next queued packet without blocking.
	// It returns ErrEmptyQueue when nothing is waiting.
	Receive(ctx context.Context) ([]byte, error)
}
