package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/log"
	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// Registration errors.
var (
	// ErrReservedType indicates an attempt to register a handler for
	// the control protocol type, which the service owns.
	ErrReservedType = errors.New("dispatch: message type reserved")

	// ErrDuplicateType indicates a second handler for the same type.
	ErrDuplicateType = errors.New("dispatch: message type already registered")
)

// Handler processes inbound requests for one message type.
type Handler interface {
	// Type returns the message type this handler serves.
	Type() mctp.MsgType

	// Handle processes one inbound request and returns an optional
	// reply body (including the leading type byte), or nil for none.
	Handle(ctx context.Context, msg *mctp.Message) ([]byte, error)
}

// Requester is a handler that also originates requests and consumes
// the replies matched back to it.
type Requester interface {
	Handler

	// HandleReply delivers a reply to a request this requester sent.
	HandleReply(ctx context.Context, msg *mctp.Message)
}

// Sender is the capability handed to requesters for submitting
// outbound requests. The endpoint service implements it.
type Sender interface {
	// SendRequest fragments and queues a request body to dest with a
	// freshly owned tag, and returns that tag for reply matching.
	SendRequest(ctx context.Context, dest mctp.EID, body []byte) (mctp.Tag, error)

	// ForgetRequest withdraws reply matching for an exchange the
	// requester has given up on, so a late reply is dropped instead of
	// delivered against a reused tag.
	ForgetRequest(dest mctp.EID, tag mctp.Tag)
}

// replyKey identifies an awaited reply: the peer it will come from and
// the tag we own on the exchange.
type replyKey struct {
	peer mctp.EID
	tag  mctp.Tag
}

// Dispatcher is the message-type registry and reply matcher. Handlers
// are registered before the service starts; the awaited-reply table is
// mutated from handler goroutines and read from the I/O actor, so it
// is mutex guarded.
type Dispatcher struct {
	handlers map[mctp.MsgType]Handler
	logger   log.Logger

	mu      sync.Mutex
	awaited map[replyKey]Requester
}

// New creates an empty dispatcher. logger may be nil.
func New(logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Dispatcher{
		handlers: make(map[mctp.MsgType]Handler),
		logger:   logger,
		awaited:  make(map[replyKey]Requester),
	}
}

// Register adds a handler for its message type. The control type is
// rejected, as is a duplicate registration.
func (d *Dispatcher) Register(h Handler) error {
	t := h.Type()
	if t == mctp.TypeControl {
		return fmt.Errorf("%w: %s", ErrReservedType, t)
	}
	if _, exists := d.handlers[t]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, t)
	}
	d.handlers[t] = h
	return nil
}

// Types returns the message types with a registered handler.
func (d *Dispatcher) Types() []mctp.MsgType {
	types := make([]mctp.MsgType, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	return types
}

// ExpectReply records that requester awaits a reply from peer on tag.
// The service calls this after queueing an outbound request.
func (d *Dispatcher) ExpectReply(peer mctp.EID, tag mctp.Tag, r Requester) {
	d.mu.Lock()
	d.awaited[replyKey{peer: peer, tag: tag}] = r
	d.mu.Unlock()
}

// ForgetReply drops an awaited-reply entry, used when a requester gives
// up on an exchange.
func (d *Dispatcher) ForgetReply(peer mctp.EID, tag mctp.Tag) {
	d.mu.Lock()
	delete(d.awaited, replyKey{peer: peer, tag: tag})
	d.mu.Unlock()
}

// Dispatch routes one complete non-control message and returns the
// reply body to send back, or nil when the message produced none.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *mctp.Message) []byte {
	if msg.TagOwner {
		return d.dispatchRequest(ctx, msg)
	}
	d.dispatchReply(ctx, msg)
	return nil
}

func (d *Dispatcher) dispatchRequest(ctx context.Context, msg *mctp.Message) []byte {
	h, ok := d.handlers[msg.Type()]
	if !ok {
		d.drop(msg, "no handler for message type")
		return nil
	}

	reply, err := h.Handle(ctx, msg)
	if err != nil {
		d.logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerMessage,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerMessage,
				Message: err.Error(),
				Context: fmt.Sprintf("handler for type %s", msg.Type()),
			},
		})
		return nil
	}
	return reply
}

func (d *Dispatcher) dispatchReply(ctx context.Context, msg *mctp.Message) {
	key := replyKey{peer: msg.Source, tag: msg.Tag}
	d.mu.Lock()
	r, ok := d.awaited[key]
	if ok {
		delete(d.awaited, key)
	}
	d.mu.Unlock()

	if !ok {
		d.drop(msg, "reply matches no outstanding request")
		return
	}
	r.HandleReply(ctx, msg)
}

func (d *Dispatcher) drop(msg *mctp.Message, reason string) {
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerMessage,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerMessage,
			Message: reason,
			Context: fmt.Sprintf("type 0x%02x from %s tag %d", uint8(msg.Type()), msg.Source, msg.Tag),
		},
	})
}
