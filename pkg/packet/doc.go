// Package packet implements the MCTP transport packet codec.
//
// It is the only place the wire layout of the 4-byte MCTP transport
// header is defined. Decode validates structural invariants and Encode
// is infallible for a packet that passed Validate, so the round trip
// Decode(Encode(p)) == p holds for every valid packet.
package packet
