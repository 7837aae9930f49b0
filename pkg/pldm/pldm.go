package pldm

import (
	"errors"
	"fmt"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// PLDM type codes (DSP0245).
const (
	// TypeControl is PLDM messaging control and discovery (DSP0240).
	TypeControl uint8 = 0x00

	// TypeFileTransfer is PLDM for file transfer (DSP0242).
	TypeFileTransfer uint8 = 0x07
)

// PLDM control commands (DSP0240).
const (
	CmdNegotiateTransferParams uint8 = 0x07
)

// PLDM file transfer commands (DSP0242).
const (
	CmdDfOpen  uint8 = 0x01
	CmdDfClose uint8 = 0x02
	CmdDfRead  uint8 = 0x20
)

// PLDM completion codes (DSP0240).
const (
	CompletionSuccess        uint8 = 0x00
	CompletionError          uint8 = 0x01
	CompletionInvalidData    uint8 = 0x02
	CompletionInvalidLength  uint8 = 0x03
	CompletionNotReady       uint8 = 0x04
	CompletionUnsupportedCmd uint8 = 0x05
	CompletionInvalidType    uint8 = 0x20
)

// PLDM base header layout: one MCTP type byte, then Rq/D/IID, header
// version plus PLDM type, and the command code. Fields are little
// endian throughout PLDM.
const (
	headerLen = 4

	rqMask   = 0x80
	dMask    = 0x40
	iidMask  = 0x1F
	typeMask = 0x3F
)

// ErrShortMessage indicates a PLDM message below the header size.
var ErrShortMessage = errors.New("pldm: message shorter than header")

// ErrCompletion carries a non-success PLDM completion code.
type ErrCompletion struct {
	Command    uint8
	Completion uint8
}

func (e *ErrCompletion) Error() string {
	return fmt.Sprintf("pldm: command 0x%02x completed with code 0x%02x", e.Command, e.Completion)
}

// Header is the decoded PLDM base header.
type Header struct {
	Request    bool
	Datagram   bool
	InstanceID uint8
	Type       uint8
	Command    uint8
}

// Message is a decoded PLDM message: header plus payload. For
// responses the payload starts with the completion code.
type Message struct {
	Header
	Payload []byte
}

// Parse decodes a complete MCTP message body as PLDM.
func Parse(body []byte) (Message, error) {
	if len(body) < headerLen {
		return Message{}, fmt.Errorf("%w (%d bytes)", ErrShortMessage, len(body))
	}
	if t := mctp.MsgType(body[0] & mctp.MsgTypeMask); t != mctp.TypePLDM {
		return Message{}, fmt.Errorf("pldm: message type %s", t)
	}
	return Message{
		Header: Header{
			Request:    body[1]&rqMask != 0,
			Datagram:   body[1]&dMask != 0,
			InstanceID: body[1] & iidMask,
			Type:       body[2] & typeMask,
			Command:    body[3],
		},
		Payload: body[headerLen:],
	}, nil
}

// EncodeRequest builds a PLDM request body ready for MCTP transmission.
func EncodeRequest(iid, typ, cmd uint8, payload []byte) []byte {
	body := make([]byte, headerLen, headerLen+len(payload))
	body[0] = uint8(mctp.TypePLDM)
	body[1] = rqMask | (iid & iidMask)
	body[2] = typ & typeMask
	body[3] = cmd
	return append(body, payload...)
}

// EncodeResponse builds a PLDM response body echoing a request header,
// with the completion code leading the payload.
func EncodeResponse(req Header, completion uint8, payload []byte) []byte {
	body := make([]byte, headerLen+1, headerLen+1+len(payload))
	body[0] = uint8(mctp.TypePLDM)
	body[1] = req.InstanceID & iidMask
	body[2] = req.Type & typeMask
	body[3] = req.Command
	body[4] = completion
	return append(body, payload...)
}

// Completion extracts the completion code of a response message.
func (m Message) Completion() (uint8, error) {
	if m.Request {
		return 0, errors.New("pldm: completion code on a request")
	}
	if len(m.Payload) < 1 {
		return 0, fmt.Errorf("%w: response missing completion code", ErrShortMessage)
	}
	return m.Payload[0], nil
}

// Data returns a response payload past the completion code.
func (m Message) Data() []byte {
	if len(m.Payload) < 1 {
		return nil
	}
	return m.Payload[1:]
}
