package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/log"
	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrQueueFull      = errors.New("outbound queue full")
	ErrStopped        = errors.New("service stopped")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// EventType classifies service events.
type EventType uint8

const (
	// EventAssigned - a bus owner assigned an endpoint ID.
	EventAssigned EventType = iota

	// EventReset - the endpoint returned to unassigned.
	EventReset

	// EventTransportDown - the transport ended and the service stopped.
	EventTransportDown
)

// Event is delivered to OnEvent handlers on state transitions.
type Event struct {
	Type EventType

	// BusOwner is the peer that caused the transition, when known.
	BusOwner mctp.EID

	// EID is the endpoint identity after the transition.
	EID mctp.EID

	// Err carries the transport error for EventTransportDown.
	Err error
}

// EventHandler receives service events. Handlers run on the I/O actor
// and must not block.
type EventHandler func(Event)

// EndpointConfig configures an EndpointService.
type EndpointConfig struct {
	// MaxMessageSize caps one reassembled message.
	MaxMessageSize int

	// ReassemblyTimeout expires stalled reassembly contexts.
	ReassemblyTimeout time.Duration

	// RetryAttempts bounds each requester-role control transaction.
	RetryAttempts int

	// RetryTimeout is the initial control response deadline.
	RetryTimeout time.Duration

	// DiscoveryNotify sends a discovery announcement at startup while
	// the endpoint is unassigned.
	DiscoveryNotify bool

	// OutboundQueue is the packet queue size drained by the writer.
	OutboundQueue int

	// HandlerQueue is the inbound message queue size feeding the
	// dispatcher goroutine.
	HandlerQueue int

	// MaintenanceInterval is the timer driving expiry and retries.
	MaintenanceInterval time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures protocol events. If nil, capture is
	// disabled.
	ProtocolLogger log.Logger
}

// DefaultEndpointConfig returns an EndpointConfig with sensible defaults.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		MaxMessageSize:      64 * 1024,
		ReassemblyTimeout:   6 * time.Second,
		RetryAttempts:       3,
		RetryTimeout:        2 * time.Second,
		DiscoveryNotify:     true,
		OutboundQueue:       64,
		HandlerQueue:        16,
		MaintenanceInterval: 250 * time.Millisecond,
	}
}
