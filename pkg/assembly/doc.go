// Package assembly turns MCTP packets into messages and back.
//
// The Reassembler accumulates packet runs sharing a (source, tag, owner)
// key into complete messages, enforcing sequence continuity and a size
// limit; contexts for stalled runs are dropped by periodic expiry driven
// from the owning task. The Fragmenter splits outbound messages into
// MTU-sized packets with correct start/end flags and sequence numbers.
package assembly
