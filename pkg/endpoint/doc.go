// Package endpoint holds the device's MCTP identity: its endpoint ID
// and assignment lifecycle, its UUID, and the message types it supports.
//
// The control protocol responder is the only writer; every other
// component reads through Snapshot or the individual accessors.
package endpoint
