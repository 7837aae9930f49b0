// Package control implements the MCTP Control Protocol (DSP0236 §11).
//
// The Responder interprets control requests against the endpoint state
// and produces responses: it is the only writer of the endpoint's EID.
// The Tracker manages requester-role transactions this endpoint itself
// issues, such as Discovery Notify, with bounded retries and backoff.
//
// Command payloads decode into typed variants; unknown command codes
// are a distinct variant carrying the raw code so the responder can
// answer with the unsupported-command completion code.
package control
