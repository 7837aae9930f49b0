package control

import (
	"errors"
	"fmt"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// CommandCode identifies an MCTP control command (DSP0236 table 12).
type CommandCode uint8

const (
	CmdSetEndpointID         CommandCode = 0x01
	CmdGetEndpointID         CommandCode = 0x02
	CmdGetEndpointUUID       CommandCode = 0x03
	CmdGetVersionSupport     CommandCode = 0x04
	CmdGetMessageTypeSupport CommandCode = 0x05
	CmdDiscoveryNotify       CommandCode = 0x0D
)

// String returns the command name.
func (c CommandCode) String() string {
	switch c {
	case CmdSetEndpointID:
		return "SetEndpointID"
	case CmdGetEndpointID:
		return "GetEndpointID"
	case CmdGetEndpointUUID:
		return "GetEndpointUUID"
	case CmdGetVersionSupport:
		return "GetVersionSupport"
	case CmdGetMessageTypeSupport:
		return "GetMessageTypeSupport"
	case CmdDiscoveryNotify:
		return "DiscoveryNotify"
	default:
		return fmt.Sprintf("0x%02x", uint8(c))
	}
}

// Completion is an MCTP control completion code.
type Completion uint8

const (
	CompletionSuccess        Completion = 0x00
	CompletionError          Completion = 0x01
	CompletionInvalidData    Completion = 0x02
	CompletionInvalidLength  Completion = 0x03
	CompletionNotReady       Completion = 0x04
	CompletionUnsupportedCmd Completion = 0x05

	// CompletionVersionNotSupported is the command-specific code the
	// Get MCTP Version Support command returns for an unknown type.
	CompletionVersionNotSupported Completion = 0x80
)

// String returns the completion code name.
func (c Completion) String() string {
	switch c {
	case CompletionSuccess:
		return "Success"
	case CompletionError:
		return "Error"
	case CompletionInvalidData:
		return "InvalidData"
	case CompletionInvalidLength:
		return "InvalidLength"
	case CompletionNotReady:
		return "NotReady"
	case CompletionUnsupportedCmd:
		return "UnsupportedCommand"
	case CompletionVersionNotSupported:
		return "VersionNotSupported"
	default:
		return fmt.Sprintf("0x%02x", uint8(c))
	}
}

// Control message header bit layout: IC/type byte, then the Rq/D/IID
// byte, then the command code.
const (
	headerLen = 3

	rqMask  = 0x80
	dMask   = 0x40
	iidMask = 0x1F
)

// ErrShortMessage indicates a control message below the header size.
var ErrShortMessage = errors.New("control: message shorter than header")

// Header is the decoded common control message header.
type Header struct {
	// Request is the Rq bit: set on requests, clear on responses.
	Request bool
	// Datagram is the D bit: set when no response is expected.
	Datagram bool
	// InstanceID pairs a response with its request.
	InstanceID uint8
	Command    CommandCode
}

// Request is a decoded inbound control request.
type Request struct {
	Header
	// Data is the command payload after the header.
	Data []byte
}

// Response is a decoded control response for the requester role.
type Response struct {
	Header
	Completion Completion
	// Data is the response payload after the completion code.
	Data []byte
}

// ParseRequest decodes a control message body as a request. The caller
// has already checked the Rq bit via ParseHeader.
func ParseRequest(body []byte) (Request, error) {
	h, err := ParseHeader(body)
	if err != nil {
		return Request{}, err
	}
	return Request{Header: h, Data: body[headerLen:]}, nil
}

// ParseResponse decodes a control message body as a response.
func ParseResponse(body []byte) (Response, error) {
	h, err := ParseHeader(body)
	if err != nil {
		return Response{}, err
	}
	if len(body) < headerLen+1 {
		return Response{}, fmt.Errorf("%w: response missing completion code", ErrShortMessage)
	}
	return Response{
		Header:     h,
		Completion: Completion(body[headerLen]),
		Data:       body[headerLen+1:],
	}, nil
}

// ParseHeader decodes the three header bytes of a control message body.
func ParseHeader(body []byte) (Header, error) {
	if len(body) < headerLen {
		return Header{}, fmt.Errorf("%w (%d bytes)", ErrShortMessage, len(body))
	}
	return Header{
		Request:    body[1]&rqMask != 0,
		Datagram:   body[1]&dMask != 0,
		InstanceID: body[1] & iidMask,
		Command:    CommandCode(body[2]),
	}, nil
}

// EncodeRequest builds a control request message body.
func EncodeRequest(iid uint8, cmd CommandCode, data []byte) []byte {
	body := make([]byte, headerLen, headerLen+len(data))
	body[0] = uint8(mctp.TypeControl)
	body[1] = rqMask | (iid & iidMask)
	body[2] = uint8(cmd)
	return append(body, data...)
}

// EncodeResponse builds a control response message body echoing the
// request's instance ID and command code.
func EncodeResponse(req Header, cc Completion, data []byte) []byte {
	body := make([]byte, headerLen+1, headerLen+1+len(data))
	body[0] = uint8(mctp.TypeControl)
	body[1] = req.InstanceID & iidMask
	body[2] = uint8(req.Command)
	body[3] = uint8(cc)
	return append(body, data...)
}
