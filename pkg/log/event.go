package log

import "time"

// Event is one protocol capture record. CBOR encoding uses integer
// keys for compactness.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// Direction of the traffic that produced the event.
	Direction Direction `cbor:"2,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"3,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"4,keyasint"`

	// Type-specific payload; exactly one is set.
	Packet      *PacketEvent      `cbor:"5,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"6,keyasint,omitempty"`
	Control     *ControlEvent     `cbor:"7,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"8,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"9,keyasint,omitempty"`
}

// Direction indicates traffic direction.
type Direction uint8

const (
	// DirectionIn indicates traffic arriving from the transport.
	DirectionIn Direction = 0
	// DirectionOut indicates traffic sent to the transport.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the byte-stream binding (framed packet bytes).
	LayerTransport Layer = 0
	// LayerPacket is the MCTP transport packet codec.
	LayerPacket Layer = 1
	// LayerMessage is reassembly/dispatch of complete messages.
	LayerMessage Layer = 2
	// LayerControl is the MCTP Control Protocol.
	LayerControl Layer = 3
	// LayerService is the endpoint service lifecycle.
	LayerService Layer = 4
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerPacket:
		return "PACKET"
	case LayerMessage:
		return "MESSAGE"
	case LayerControl:
		return "CONTROL"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates protocol traffic.
	CategoryMessage Category = 0
	// CategoryControl indicates a control-protocol command exchange.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an absorbed error.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxPacketDataSize caps the raw bytes stored per packet event; larger
// payloads are truncated in the capture.
const MaxPacketDataSize = 256

// PacketEvent captures one MCTP transport packet.
type PacketEvent struct {
	// Size is the full frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame, possibly truncated.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates Data was cut at MaxPacketDataSize.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	Src uint8 `cbor:"4,keyasint,omitempty"`
	Dst uint8 `cbor:"5,keyasint,omitempty"`
	Tag uint8 `cbor:"6,keyasint,omitempty"`
	SOM bool  `cbor:"7,keyasint,omitempty"`
	EOM bool  `cbor:"8,keyasint,omitempty"`
}

// MessageEvent captures a complete reassembled (or outbound) message.
type MessageEvent struct {
	// MsgType is the leading message type code.
	MsgType uint8 `cbor:"1,keyasint"`

	Src      uint8 `cbor:"2,keyasint"`
	Dst      uint8 `cbor:"3,keyasint"`
	Tag      uint8 `cbor:"4,keyasint"`
	TagOwner bool  `cbor:"5,keyasint,omitempty"`

	// Size is the message body length in bytes.
	Size int `cbor:"6,keyasint"`
}

// ControlEvent captures a decoded control-protocol exchange.
type ControlEvent struct {
	// Command is the control command code.
	Command uint8 `cbor:"1,keyasint"`

	// Request distinguishes requests from responses.
	Request bool `cbor:"2,keyasint,omitempty"`

	// InstanceID pairs requests with responses.
	InstanceID uint8 `cbor:"3,keyasint,omitempty"`

	// Completion is the completion code (responses only).
	Completion *uint8 `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures endpoint and service lifecycle changes.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// EID is the endpoint ID relevant to the change, if any.
	EID uint8 `cbor:"4,keyasint,omitempty"`

	// Reason for the change, if available.
	Reason string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityEndpoint indicates the endpoint assignment lifecycle.
	StateEntityEndpoint StateEntity = 0
	// StateEntityTransport indicates the transport link.
	StateEntityTransport StateEntity = 1
	// StateEntityHandler indicates an upper-layer handler task.
	StateEntityHandler StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityEndpoint:
		return "ENDPOINT"
	case StateEntityTransport:
		return "TRANSPORT"
	case StateEntityHandler:
		return "HANDLER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors absorbed at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context describes what was being done.
	Context string `cbor:"3,keyasint,omitempty"`
}
