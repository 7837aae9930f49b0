package control

import (
	"fmt"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// SetEIDOp is the operation field of a Set Endpoint ID request.
type SetEIDOp uint8

const (
	SetEIDOpSet           SetEIDOp = 0
	SetEIDOpForce         SetEIDOp = 1
	SetEIDOpReset         SetEIDOp = 2
	SetEIDOpSetDiscovered SetEIDOp = 3
)

// Command is a decoded control request payload. Exactly one concrete
// type backs each command code; unknown codes decode to Unknown.
type Command interface {
	Code() CommandCode
}

// SetEndpointID carries the Set Endpoint ID request fields.
type SetEndpointID struct {
	Op  SetEIDOp
	EID mctp.EID
}

func (SetEndpointID) Code() CommandCode { return CmdSetEndpointID }

// GetEndpointID has no request fields.
type GetEndpointID struct{}

func (GetEndpointID) Code() CommandCode { return CmdGetEndpointID }

// GetEndpointUUID has no request fields.
type GetEndpointUUID struct{}

func (GetEndpointUUID) Code() CommandCode { return CmdGetEndpointUUID }

// GetVersionSupport queries version support for one message type.
// 0xFF selects the MCTP base specification itself.
type GetVersionSupport struct {
	TypeNumber uint8
}

func (GetVersionSupport) Code() CommandCode { return CmdGetVersionSupport }

// GetMessageTypeSupport has no request fields.
type GetMessageTypeSupport struct{}

func (GetMessageTypeSupport) Code() CommandCode { return CmdGetMessageTypeSupport }

// DiscoveryNotify has no request fields.
type DiscoveryNotify struct{}

func (DiscoveryNotify) Code() CommandCode { return CmdDiscoveryNotify }

// Unknown carries an unrecognized command code for the
// unsupported-command response path.
type Unknown struct {
	Raw CommandCode
}

func (u Unknown) Code() CommandCode { return u.Raw }

// errBadLength marks a request whose payload length does not match its
// command. The responder answers these with CompletionInvalidData.
type errBadLength struct {
	cmd  CommandCode
	got  int
	want int
}

func (e errBadLength) Error() string {
	return fmt.Sprintf("control: %s request length %d, want %d", e.cmd, e.got, e.want)
}

// DecodeCommand turns a parsed request into its typed command variant.
// A length mismatch returns an error the responder maps to the
// invalid-data completion code.
func DecodeCommand(req Request) (Command, error) {
	switch req.Command {
	case CmdSetEndpointID:
		if len(req.Data) != 2 {
			return nil, errBadLength{cmd: req.Command, got: len(req.Data), want: 2}
		}
		return SetEndpointID{
			Op:  SetEIDOp(req.Data[0] & 0x03),
			EID: mctp.EID(req.Data[1]),
		}, nil

	case CmdGetEndpointID:
		if len(req.Data) != 0 {
			return nil, errBadLength{cmd: req.Command, got: len(req.Data), want: 0}
		}
		return GetEndpointID{}, nil

	case CmdGetEndpointUUID:
		if len(req.Data) != 0 {
			return nil, errBadLength{cmd: req.Command, got: len(req.Data), want: 0}
		}
		return GetEndpointUUID{}, nil

	case CmdGetVersionSupport:
		if len(req.Data) != 1 {
			return nil, errBadLength{cmd: req.Command, got: len(req.Data), want: 1}
		}
		return GetVersionSupport{TypeNumber: req.Data[0]}, nil

	case CmdGetMessageTypeSupport:
		if len(req.Data) != 0 {
			return nil, errBadLength{cmd: req.Command, got: len(req.Data), want: 0}
		}
		return GetMessageTypeSupport{}, nil

	case CmdDiscoveryNotify:
		if len(req.Data) != 0 {
			return nil, errBadLength{cmd: req.Command, got: len(req.Data), want: 0}
		}
		return DiscoveryNotify{}, nil

	default:
		return Unknown{Raw: req.Command}, nil
	}
}
