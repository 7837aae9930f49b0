package packet

import (
	"errors"
	"fmt"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// HeaderLen is the size of the MCTP transport header in bytes.
const HeaderLen = 4

// MaxPayload is the largest per-packet payload the codec accepts. It
// bounds decode memory use; the negotiated MTU is enforced above this
// layer and is always smaller.
const MaxPayload = 1024

// Transport header bit layout (DSP0236 §8.1).
const (
	hdrVersionMask = 0x0F

	flagSOM  = 0x80
	flagEOM  = 0x40
	seqShift = 4
	seqMask  = 0x03
	flagTO   = 0x08
	tagMask  = 0x07
)

// ErrMalformedPacket is the base error for every decode failure.
// Specific failures wrap it, so errors.Is(err, ErrMalformedPacket)
// matches any of them.
var ErrMalformedPacket = errors.New("malformed packet")

var (
	// ErrShortFrame indicates the frame is smaller than the header.
	ErrShortFrame = fmt.Errorf("%w: frame below minimum header size", ErrMalformedPacket)

	// ErrHeaderVersion indicates an unsupported transport header version.
	ErrHeaderVersion = fmt.Errorf("%w: unsupported header version", ErrMalformedPacket)

	// ErrPayloadTooLarge indicates the payload exceeds MaxPayload.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrMalformedPacket)
)

// ErrInvalidPacket is returned by Validate for out-of-range fields.
var ErrInvalidPacket = errors.New("invalid packet")

// Packet is one MCTP transport packet: the decoded header fields plus
// the payload. Payload excludes the 4 header bytes.
type Packet struct {
	Dest mctp.EID
	Src  mctp.EID

	// SOM and EOM mark the first and last packet of a message.
	// A single-packet message sets both.
	SOM bool
	EOM bool

	// Seq is the 2-bit packet sequence number, incrementing modulo 4
	// across packets sharing a tag+owner+src/dest pairing.
	Seq uint8

	// TagOwner is set on packets of the endpoint that originated the
	// exchange.
	TagOwner bool
	Tag      mctp.Tag

	Payload []byte
}

// Validate checks field ranges. Encode assumes a validated packet.
func (p Packet) Validate() error {
	if p.Seq > seqMask {
		return fmt.Errorf("%w: sequence %d out of range", ErrInvalidPacket, p.Seq)
	}
	if !p.Tag.Valid() {
		return fmt.Errorf("%w: tag %d out of range", ErrInvalidPacket, p.Tag)
	}
	if len(p.Payload) > MaxPayload {
		return fmt.Errorf("%w: payload %d exceeds %d", ErrInvalidPacket, len(p.Payload), MaxPayload)
	}
	return nil
}

// Encode serializes the packet to its wire form. It always succeeds for
// a packet that passed Validate.
func Encode(p Packet) []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	buf[0] = mctp.HeaderVersion & hdrVersionMask
	buf[1] = uint8(p.Dest)
	buf[2] = uint8(p.Src)

	var fl uint8
	if p.SOM {
		fl |= flagSOM
	}
	if p.EOM {
		fl |= flagEOM
	}
	fl |= (p.Seq & seqMask) << seqShift
	if p.TagOwner {
		fl |= flagTO
	}
	fl |= uint8(p.Tag) & tagMask
	buf[3] = fl

	copy(buf[HeaderLen:], p.Payload)
	return buf
}

// Decode parses one MCTP packet from a transport frame. The transport
// delivers exactly one packet per frame, so the payload length is the
// frame length minus the header.
func Decode(frame []byte) (Packet, error) {
	if len(frame) < HeaderLen {
		return Packet{}, fmt.Errorf("%w (%d bytes)", ErrShortFrame, len(frame))
	}
	if v := frame[0] & hdrVersionMask; v != mctp.HeaderVersion {
		return Packet{}, fmt.Errorf("%w (%d)", ErrHeaderVersion, v)
	}
	if len(frame)-HeaderLen > MaxPayload {
		return Packet{}, fmt.Errorf("%w (%d bytes)", ErrPayloadTooLarge, len(frame)-HeaderLen)
	}

	fl := frame[3]
	p := Packet{
		Dest:     mctp.EID(frame[1]),
		Src:      mctp.EID(frame[2]),
		SOM:      fl&flagSOM != 0,
		EOM:      fl&flagEOM != 0,
		Seq:      (fl >> seqShift) & seqMask,
		TagOwner: fl&flagTO != 0,
		Tag:      mctp.Tag(fl & tagMask),
	}
	if n := len(frame) - HeaderLen; n > 0 {
		p.Payload = make([]byte, n)
		copy(p.Payload, frame[HeaderLen:])
	}
	return p, nil
}
