// Package mctp defines the core MCTP identifiers shared by every layer:
// endpoint IDs, message tags, message type codes and protocol version
// numbers as specified by DSP0236 (MCTP Base Specification).
//
// The package is deliberately free of I/O and state; it exists so the
// packet codec, reassembly engine, control protocol and dispatcher agree
// on a single vocabulary.
package mctp
