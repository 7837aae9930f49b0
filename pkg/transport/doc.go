// Package transport defines the boundary between the MCTP stack and
// the medium carrying it, plus two byte-stream bindings.
//
// A Transport moves whole MCTP packets: one packet per ReadPacket and
// WritePacket call, framing handled inside the binding. The serial
// binding implements DSP0253 framing (flag bytes, escaping, FCS) and
// the USB binding implements the DSP0283 transfer header. Both run
// over any io.ReadWriteCloser, typically a character device or unix
// socket; session setup for the underlying stream is the caller's
// problem.
package transport
