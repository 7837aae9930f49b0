// Package dispatch routes complete MCTP messages to upper-layer
// protocol handlers by their leading message type byte.
//
// The control protocol type is reserved; the endpoint service wires its
// responder ahead of the dispatcher. Every other message type gets a
// Handler registered at startup. Requests (tag owner bit set) go to the
// handler for their type; replies (tag owner bit clear) are matched to
// the requester that sent the original request by source EID and tag.
// Traffic for an unregistered type is dropped with a capture event and
// never answered.
package dispatch
