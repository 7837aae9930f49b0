package transport

import (
	"context"
	"errors"
)

// ErrFraming indicates bytes on the stream that do not form a valid
// frame for the binding. Errors wrapping it are recoverable; the
// reader has resynchronized and the next call may succeed.
var ErrFraming = errors.New("transport: framing error")

// Transport carries whole MCTP packets over some medium.
//
// ReadPacket blocks until a packet arrives, the context is cancelled,
// or the stream ends (io.EOF). WritePacket frames and sends one
// packet. Close releases the underlying stream and unblocks a pending
// read.
type Transport interface {
	ReadPacket(ctx context.Context) ([]byte, error)
	WritePacket(ctx context.Context, pkt []byte) error
	Close() error
}
