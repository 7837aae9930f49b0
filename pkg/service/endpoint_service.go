package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/assembly"
	"github.com/mctp-emu/mctp-go/pkg/control"
	"github.com/mctp-emu/mctp-go/pkg/dispatch"
	"github.com/mctp-emu/mctp-go/pkg/endpoint"
	"github.com/mctp-emu/mctp-go/pkg/log"
	"github.com/mctp-emu/mctp-go/pkg/mctp"
	"github.com/mctp-emu/mctp-go/pkg/packet"
	"github.com/mctp-emu/mctp-go/pkg/transport"
)

// EndpointService runs one emulated MCTP endpoint over one transport.
type EndpointService struct {
	mu sync.RWMutex

	config EndpointConfig
	state  ServiceState

	tr         transport.Transport
	epState    *endpoint.State
	responder  *control.Responder
	dispatcher *dispatch.Dispatcher
	tracker    *control.Tracker

	// asm is owned by the I/O actor except for Expire, which the
	// maintenance timer drives under asmMu.
	asmMu sync.Mutex
	asm   *assembly.Reassembler

	// outbound carries encoded packets to the writer goroutine. One
	// queue keeps per-peer packet order. outMu serializes producers so
	// a multi-packet message enqueues entirely or not at all.
	outMu    sync.Mutex
	outbound chan []byte

	// inbound feeds non-control messages to the dispatch goroutine.
	inbound chan *mctp.Message

	// nextTag allocates tags for non-control outbound requests.
	tagMu   sync.Mutex
	nextTag mctp.Tag

	eventHandlers []EventHandler

	logger   *slog.Logger
	protocol log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	done    chan struct{}
	doneErr error
	endOnce sync.Once
}

// NewEndpointService creates a service over an established transport.
func NewEndpointService(state *endpoint.State, tr transport.Transport, config EndpointConfig) *EndpointService {
	protocol := config.ProtocolLogger
	if protocol == nil {
		protocol = log.NoopLogger{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	svc := &EndpointService{
		config:     config,
		state:      StateIdle,
		tr:         tr,
		epState:    state,
		dispatcher: dispatch.New(protocol),
		tracker:    control.NewTracker(config.RetryAttempts, config.RetryTimeout),
		asm:        assembly.NewReassembler(config.MaxMessageSize, config.ReassemblyTimeout),
		outbound:   make(chan []byte, max(config.OutboundQueue, 1)),
		inbound:    make(chan *mctp.Message, max(config.HandlerQueue, 1)),
		logger:     logger,
		protocol:   protocol,
		done:       make(chan struct{}),
	}

	svc.responder = control.NewResponder(state, protocol)
	svc.responder.OnEvent(func(ev control.Event) {
		typ := EventAssigned
		if !ev.Assigned {
			typ = EventReset
		}
		svc.emit(Event{Type: typ, BusOwner: ev.BusOwner, EID: ev.EID})
	})
	return svc
}

// State returns the endpoint state the service runs.
func (s *EndpointService) State() *endpoint.State {
	return s.epState
}

// ServiceState returns the current lifecycle state.
func (s *EndpointService) ServiceState() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnEvent registers an event handler. Register before Start.
func (s *EndpointService) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

// Register adds an upper-layer handler. Register before Start.
func (s *EndpointService) Register(h dispatch.Handler) error {
	return s.dispatcher.Register(h)
}

// SenderFor returns the outbound request capability for a requester.
// Requests sent through it have their replies matched back to r.
func (s *EndpointService) SenderFor(r dispatch.Requester) dispatch.Sender {
	return &requesterSender{svc: s, r: r}
}

// Start launches the service goroutines.
func (s *EndpointService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(4)
	go s.readLoop()
	go s.writeLoop()
	go s.maintenanceLoop()
	go s.dispatchLoop()

	if s.config.DiscoveryNotify && !s.epState.Assigned() {
		s.NotifyDiscovery()
	}

	s.logger.Info("endpoint service started",
		slog.String("eid", s.epState.EID().String()),
		slog.Int("mtu", s.epState.MTU()))
	return nil
}

// Stop shuts the service down and waits for its goroutines.
func (s *EndpointService) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.end(ErrStopped)
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
}

// Done is closed when the service has ended, whether by Stop or by a
// transport failure.
func (s *EndpointService) Done() <-chan struct{} {
	return s.done
}

// Err reports what ended the service: nil before it ends, ErrStopped
// after a clean Stop, the transport error otherwise.
func (s *EndpointService) Err() error {
	select {
	case <-s.done:
		return s.doneErr
	default:
		return nil
	}
}

// end records the terminal error once and tears everything down.
func (s *EndpointService) end(err error) {
	s.endOnce.Do(func() {
		s.doneErr = err
		s.cancel()
		_ = s.tr.Close()
		s.tracker.CancelAll()

		s.asmMu.Lock()
		s.asm.Clear()
		s.asmMu.Unlock()

		if !errors.Is(err, ErrStopped) {
			s.emit(Event{Type: EventTransportDown, EID: s.epState.EID(), Err: err})
		}
		close(s.done)
	})
}

// readLoop is the I/O actor: read, decode, reassemble, route.
func (s *EndpointService) readLoop() {
	defer s.wg.Done()

	for {
		frame, err := s.tr.ReadPacket(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("transport read failed", slog.Any("error", err))
			} else {
				err = ErrStopped
			}
			s.end(err)
			return
		}

		p, err := packet.Decode(frame)
		if err != nil {
			s.logDropped("packet decode", err)
			continue
		}
		if !s.forUs(p.Dest) {
			continue
		}

		s.asmMu.Lock()
		msg, err := s.asm.Ingest(p, time.Now())
		s.asmMu.Unlock()
		if err != nil {
			s.logDropped("reassembly", err)
			continue
		}
		if msg == nil {
			continue
		}
		s.route(msg)
	}
}

// forUs applies the packet-level destination filter.
func (s *EndpointService) forUs(dest mctp.EID) bool {
	return dest == mctp.EIDBroadcast || dest == s.epState.EID()
}

// route hands one complete message to the control responder or the
// dispatcher. Control runs inline; it owns the endpoint state and is
// cheap. Everything else crosses the bounded handler queue.
func (s *EndpointService) route(msg *mctp.Message) {
	s.logMessage(msg)

	if msg.Type() == mctp.TypeControl {
		s.routeControl(msg)
		return
	}

	select {
	case s.inbound <- msg:
	default:
		s.logDropped("dispatch", fmt.Errorf("handler queue full, type %s from %s", msg.Type(), msg.Source))
	}
}

func (s *EndpointService) routeControl(msg *mctp.Message) {
	if !msg.TagOwner {
		// A response to a transaction we originated.
		resp, err := control.ParseResponse(msg.Body)
		if err != nil {
			s.logDropped("control response", err)
			return
		}
		if !s.tracker.HandleResponse(msg.Tag, resp) {
			s.logDropped("control response", fmt.Errorf("no transaction for tag %d", msg.Tag))
		}
		return
	}

	reply := s.responder.Handle(msg)
	if reply == nil {
		return
	}
	// Reply goes back on the peer's tag with the owner bit cleared.
	if err := s.sendMessage(msg.Source, reply, msg.Tag, false); err != nil {
		s.logDropped("control reply", err)
	}
}

// dispatchLoop runs registered handlers off the I/O actor.
func (s *EndpointService) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbound:
			reply := s.dispatcher.Dispatch(s.ctx, msg)
			if reply == nil {
				continue
			}
			if err := s.sendMessage(msg.Source, reply, msg.Tag, false); err != nil {
				s.logDropped("handler reply", err)
			}
		}
	}
}

// writeLoop drains the outbound queue to the transport.
func (s *EndpointService) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.outbound:
			if err := s.tr.WritePacket(s.ctx, frame); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("transport write failed", slog.Any("error", err))
					s.end(err)
				}
				return
			}
		}
	}
}

// maintenanceLoop expires reassembly contexts and drives retries.
func (s *EndpointService) maintenanceLoop() {
	defer s.wg.Done()

	interval := s.config.MaintenanceInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.asmMu.Lock()
			dropped := s.asm.Expire(now)
			s.asmMu.Unlock()
			for _, key := range dropped {
				s.logDropped("reassembly", fmt.Errorf("context expired (%s)", key))
			}

			for _, re := range s.tracker.Expired(now) {
				if err := s.sendMessage(re.Dest, re.Body, re.Tag, true); err != nil {
					s.logDropped("control retry", err)
				}
			}
		}
	}
}

// sendMessage fragments one message body and queues its packets. The
// whole packet run is queued or none of it; a fragment run truncated
// mid-message would poison the peer's reassembly for the tag.
func (s *EndpointService) sendMessage(dest mctp.EID, body []byte, tag mctp.Tag, owner bool) error {
	pkts, err := assembly.Fragment(body, dest, s.epState.EID(), tag, owner, s.epState.MTU())
	if err != nil {
		return err
	}

	s.outMu.Lock()
	defer s.outMu.Unlock()
	// The writer only drains, so the free space seen here cannot shrink
	// before the sends below.
	if cap(s.outbound)-len(s.outbound) < len(pkts) {
		return fmt.Errorf("%w: dropping message to %s", ErrQueueFull, dest)
	}
	for _, p := range pkts {
		s.outbound <- packet.Encode(p)
	}
	return nil
}

// Send queues one request message to dest on a freshly owned tag. Any
// reply is dropped unless a requester registered for it; this is the
// raw path used by the interactive console.
func (s *EndpointService) Send(ctx context.Context, dest mctp.EID, body []byte) (mctp.Tag, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tag := s.allocTag()
	if err := s.sendMessage(dest, body, tag, true); err != nil {
		return 0, err
	}
	return tag, nil
}

// NotifyDiscovery announces the endpoint to the bus owner and leaves
// retries to the maintenance timer.
func (s *EndpointService) NotifyDiscovery() {
	tag, body, err := s.tracker.Begin(control.CmdDiscoveryNotify, mctp.EIDNull, nil, time.Now(), func(o control.Outcome) {
		switch {
		case o.Err != nil:
			s.logger.Debug("discovery notify gave up", slog.Any("error", o.Err))
		case o.Response.Completion != control.CompletionSuccess:
			s.logger.Debug("discovery notify refused",
				slog.String("completion", o.Response.Completion.String()))
		default:
			s.logger.Debug("discovery notify acknowledged")
		}
	})
	if err != nil {
		s.logger.Debug("discovery notify not sent", slog.Any("error", err))
		return
	}
	if err := s.sendMessage(mctp.EIDNull, body, tag, true); err != nil {
		s.logDropped("discovery notify", err)
	}
}

// allocTag hands out tags for non-control requests. Control tags live
// in the tracker; sharing the space is harmless because replies are
// matched per protocol.
func (s *EndpointService) allocTag() mctp.Tag {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	tag := s.nextTag
	s.nextTag = (s.nextTag + 1) & mctp.TagMax
	return tag
}

func (s *EndpointService) emit(ev Event) {
	s.mu.RLock()
	handlers := s.eventHandlers
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (s *EndpointService) logMessage(msg *mctp.Message) {
	s.protocol.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerMessage,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			MsgType:  uint8(msg.Type()),
			Src:      uint8(msg.Source),
			Dst:      uint8(msg.Dest),
			Tag:      uint8(msg.Tag),
			TagOwner: msg.TagOwner,
			Size:     len(msg.Body),
		},
	})
}

func (s *EndpointService) logDropped(context string, err error) {
	s.logger.Debug("dropped", slog.String("context", context), slog.Any("error", err))
	s.protocol.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerMessage,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerMessage,
			Message: err.Error(),
			Context: context,
		},
	})
}

// requesterSender queues requests for one requester and registers the
// reply expectation with the dispatcher.
type requesterSender struct {
	svc *EndpointService
	r   dispatch.Requester
}

func (rs *requesterSender) SendRequest(ctx context.Context, dest mctp.EID, body []byte) (mctp.Tag, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tag := rs.svc.allocTag()
	rs.svc.dispatcher.ExpectReply(dest, tag, rs.r)
	if err := rs.svc.sendMessage(dest, body, tag, true); err != nil {
		rs.svc.dispatcher.ForgetReply(dest, tag)
		return 0, err
	}
	return tag, nil
}

func (rs *requesterSender) ForgetRequest(dest mctp.EID, tag mctp.Tag) {
	rs.svc.dispatcher.ForgetReply(dest, tag)
}

var _ dispatch.Sender = (*requesterSender)(nil)
