package mctp

import "fmt"

// EID is an MCTP endpoint identifier: an 8-bit address assigned by the
// bus owner. Two values are reserved and never held as a device identity.
type EID uint8

const (
	// EIDNull is the unassigned/null endpoint ID.
	EIDNull EID = 0x00

	// EIDBroadcast addresses every endpoint on the bus.
	EIDBroadcast EID = 0xFF
)

// Valid reports whether the EID may be assigned to an endpoint.
// The null and broadcast values are never assignable.
func (e EID) Valid() bool {
	return e != EIDNull && e != EIDBroadcast
}

// String returns the EID in decimal, with the reserved values named.
func (e EID) String() string {
	switch e {
	case EIDNull:
		return "null"
	case EIDBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("%d", uint8(e))
	}
}

// Tag is a 3-bit message tag distinguishing concurrent in-flight
// exchanges between the same pair of endpoints.
type Tag uint8

// TagMax is the largest valid message tag value.
const TagMax Tag = 7

// Valid reports whether the tag fits in 3 bits.
func (t Tag) Valid() bool { return t <= TagMax }

// MsgType is a 7-bit MCTP message type code. The leading byte of every
// assembled message carries the type (plus the integrity-check bit).
type MsgType uint8

// Message type codes from DSP0239 (MCTP IDs and Codes).
const (
	// TypeControl is the MCTP Control Protocol, supported by every endpoint.
	TypeControl MsgType = 0x00

	// TypePLDM is the Platform Level Data Model over MCTP.
	TypePLDM MsgType = 0x01

	// TypeNCSI is NC-SI over MCTP.
	TypeNCSI MsgType = 0x02

	// TypeNVMeMI is the NVMe Management Interface over MCTP.
	TypeNVMeMI MsgType = 0x04

	// TypeVendorPCI is a vendor-defined message using PCI vendor IDs.
	TypeVendorPCI MsgType = 0x7E
)

// MsgTypeMask extracts the type from a message's leading byte.
const MsgTypeMask = 0x7F

// ICMask is the integrity-check bit in a message's leading byte.
const ICMask = 0x80

// Valid reports whether the type code fits in 7 bits.
func (t MsgType) Valid() bool { return t <= MsgTypeMask }

// String returns the conventional name for well-known types.
func (t MsgType) String() string {
	switch t {
	case TypeControl:
		return "control"
	case TypePLDM:
		return "pldm"
	case TypeNCSI:
		return "ncsi"
	case TypeNVMeMI:
		return "nvme-mi"
	case TypeVendorPCI:
		return "vendor-pci"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

// HeaderVersion is the MCTP transport header version this implementation
// speaks. DSP0236 defines a single version to date.
const HeaderVersion = 1

// BaselineMTU is the baseline transmission unit: the payload capacity
// every MCTP endpoint must support, in bytes.
const BaselineMTU = 64

// Message is one complete, reassembled MCTP message. Body holds the raw
// message bytes starting with the IC/type byte.
type Message struct {
	Source EID
	Dest   EID
	Tag    Tag
	// TagOwner is set when the sender originated the exchange; replies
	// carry the originator's tag with TagOwner cleared.
	TagOwner bool
	Body     []byte
}

// Type returns the message type from the leading body byte.
// Empty messages report TypeControl; the dispatcher drops them earlier.
func (m Message) Type() MsgType {
	if len(m.Body) == 0 {
		return TypeControl
	}
	return MsgType(m.Body[0] & MsgTypeMask)
}

// IntegrityCheck reports whether the IC bit is set on the message.
func (m Message) IntegrityCheck() bool {
	return len(m.Body) > 0 && m.Body[0]&ICMask != 0
}

// Payload returns the message body with the IC/type byte stripped.
func (m Message) Payload() []byte {
	if len(m.Body) == 0 {
		return nil
	}
	return m.Body[1:]
}
