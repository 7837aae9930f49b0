package control

import (
	"errors"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/endpoint"
	"github.com/mctp-emu/mctp-go/pkg/log"
	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// AssignmentStatus is the Set Endpoint ID response status nibble.
type AssignmentStatus uint8

const (
	AssignmentAccepted AssignmentStatus = 0
	AssignmentRejected AssignmentStatus = 1
)

// Event describes a state transition the responder performed. The
// service forwards these to interested handlers, e.g. a requester that
// starts its session once a bus owner has assigned an EID.
type Event struct {
	// BusOwner is the EID that issued the command.
	BusOwner mctp.EID
	// EID is the endpoint's identity after the transition (null on reset).
	EID mctp.EID
	// Assigned is false when the transition returned to unassigned.
	Assigned bool
}

// Responder is the MCTP Control Protocol state machine. It owns all
// writes to the endpoint state and is driven exclusively by the I/O
// actor, so no locking of its own is needed.
type Responder struct {
	state   *endpoint.State
	logger  log.Logger
	onEvent func(Event)
}

// NewResponder creates a responder over the given endpoint state.
// logger may be nil.
func NewResponder(state *endpoint.State, logger log.Logger) *Responder {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Responder{state: state, logger: logger}
}

// OnEvent registers a callback invoked after every assignment change.
func (r *Responder) OnEvent(fn func(Event)) {
	r.onEvent = fn
}

// State returns the endpoint state the responder guards.
func (r *Responder) State() *endpoint.State {
	return r.state
}

// Handle processes one complete control-protocol message addressed to
// this endpoint and returns the response body to send back, or nil when
// the protocol requires silence (wrong destination, datagram request,
// or an inbound response with no local transaction).
func (r *Responder) Handle(msg *mctp.Message) []byte {
	if !r.addressedToUs(msg.Dest) {
		// Protocol requirement, not an error: commands for another
		// endpoint get no response at all.
		return nil
	}

	req, err := ParseRequest(msg.Body)
	if err != nil {
		r.logError("parse", err)
		return nil
	}
	if !req.Request {
		// Responses are matched by the transaction tracker, never here.
		return nil
	}

	resp := r.respond(msg.Source, req)
	if req.Datagram {
		return nil
	}
	return resp
}

func (r *Responder) respond(src mctp.EID, req Request) []byte {
	cmd, err := DecodeCommand(req)
	if err != nil {
		var bad errBadLength
		if errors.As(err, &bad) {
			return EncodeResponse(req.Header, CompletionInvalidData, nil)
		}
		return EncodeResponse(req.Header, CompletionError, nil)
	}

	switch c := cmd.(type) {
	case SetEndpointID:
		return r.setEndpointID(src, req.Header, c)
	case GetEndpointID:
		return r.getEndpointID(req.Header)
	case GetEndpointUUID:
		return r.getEndpointUUID(req.Header)
	case GetVersionSupport:
		return r.getVersionSupport(req.Header, c)
	case GetMessageTypeSupport:
		return r.getMessageTypeSupport(req.Header)
	case DiscoveryNotify:
		// Only a bus owner answers Discovery Notify.
		return EncodeResponse(req.Header, CompletionUnsupportedCmd, nil)
	default:
		return EncodeResponse(req.Header, CompletionUnsupportedCmd, nil)
	}
}

// addressedToUs applies the destination filter: our current EID, the
// broadcast EID, or the null EID while we are unassigned.
func (r *Responder) addressedToUs(dest mctp.EID) bool {
	if dest == mctp.EIDBroadcast {
		return true
	}
	return dest == r.state.EID()
}

func (r *Responder) setEndpointID(src mctp.EID, h Header, c SetEndpointID) []byte {
	switch c.Op {
	case SetEIDOpSet, SetEIDOpForce:
		if err := r.state.Assign(c.EID); err != nil {
			// Null or broadcast EID in the request: reject with the
			// invalid-data completion and report the unchanged EID.
			data := []byte{statusByte(AssignmentRejected), uint8(r.state.EID()), 0}
			return EncodeResponse(h, CompletionInvalidData, data)
		}
		r.emit(Event{BusOwner: src, EID: c.EID, Assigned: true})
		r.logState("assigned", c.EID)
		data := []byte{statusByte(AssignmentAccepted), uint8(c.EID), 0}
		return EncodeResponse(h, CompletionSuccess, data)

	case SetEIDOpReset:
		r.state.ResetToUnassigned()
		r.emit(Event{BusOwner: src, EID: mctp.EIDNull, Assigned: false})
		r.logState("unassigned", mctp.EIDNull)
		data := []byte{statusByte(AssignmentAccepted), uint8(mctp.EIDNull), 0}
		return EncodeResponse(h, CompletionSuccess, data)

	case SetEIDOpSetDiscovered:
		// The discovered flag only exists on physical media that route
		// discovery in hardware; accept and report the current EID.
		data := []byte{statusByte(AssignmentAccepted), uint8(r.state.EID()), 0}
		return EncodeResponse(h, CompletionSuccess, data)
	}
	return EncodeResponse(h, CompletionInvalidData, nil)
}

// statusByte packs the assignment status into bits [5:4]; the EID
// allocation status in bits [1:0] stays zero as no pool is managed.
func statusByte(s AssignmentStatus) uint8 {
	return uint8(s) << 4
}

func (r *Responder) getEndpointID(h Header) []byte {
	// Endpoint type: simple endpoint, dynamic EID (both zero); the
	// trailing byte is medium-specific information, unused here.
	data := []byte{uint8(r.state.EID()), 0x00, 0x00}
	return EncodeResponse(h, CompletionSuccess, data)
}

func (r *Responder) getEndpointUUID(h Header) []byte {
	u := r.state.UUID()
	return EncodeResponse(h, CompletionSuccess, u[:])
}

func (r *Responder) getVersionSupport(h Header, c GetVersionSupport) []byte {
	var versions []mctp.Version
	switch {
	case c.TypeNumber == 0xFF:
		versions = mctp.BaseVersions
	case mctp.MsgType(c.TypeNumber) == mctp.TypeControl:
		versions = mctp.ControlVersions
	case r.state.Supports(mctp.MsgType(c.TypeNumber)):
		// Upper-layer protocols version themselves; MCTP reports the
		// base version it carries them over.
		versions = mctp.BaseVersions
	default:
		return EncodeResponse(h, CompletionVersionNotSupported, nil)
	}

	data := make([]byte, 1, 1+4*len(versions))
	data[0] = uint8(len(versions))
	for _, v := range versions {
		enc := v.Encode()
		data = append(data, enc[:]...)
	}
	return EncodeResponse(h, CompletionSuccess, data)
}

func (r *Responder) getMessageTypeSupport(h Header) []byte {
	types := r.state.SupportedTypes()
	data := make([]byte, 1, 1+len(types))
	data[0] = uint8(len(types))
	for _, t := range types {
		data = append(data, uint8(t))
	}
	return EncodeResponse(h, CompletionSuccess, data)
}

func (r *Responder) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *Responder) logState(state string, eid mctp.EID) {
	r.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerControl,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityEndpoint,
			NewState: state,
			EID:      uint8(eid),
		},
	})
}

func (r *Responder) logError(context string, err error) {
	r.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerControl,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerControl,
			Message: err.Error(),
			Context: context,
		},
	})
}
