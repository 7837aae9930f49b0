// Package pldm implements a small PLDM requester carried over MCTP
// message type 0x01.
//
// The device side of PLDM here is deliberately narrow: once a bus
// owner assigns an endpoint ID, the file requester negotiates transfer
// parameters against the bus owner and pulls one file through the
// DfOpen/DfRead/DfClose sequence of the PLDM file transfer type. A
// failed session is logged and the requester goes back to waiting for
// the next assignment; PLDM never takes the endpoint down.
package pldm
