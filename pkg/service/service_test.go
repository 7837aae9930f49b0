package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mctp-emu/mctp-go/pkg/assembly"
	"github.com/mctp-emu/mctp-go/pkg/control"
	"github.com/mctp-emu/mctp-go/pkg/dispatch"
	"github.com/mctp-emu/mctp-go/pkg/endpoint"
	"github.com/mctp-emu/mctp-go/pkg/mctp"
	"github.com/mctp-emu/mctp-go/pkg/packet"
)

const busEID = mctp.EID(0x08)

// memTransport is one end of an in-memory packet pipe.
type memTransport struct {
	rd <-chan []byte
	wr chan<- []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newPipe() (*memTransport, *memTransport) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	a := &memTransport{rd: b2a, wr: a2b, closed: make(chan struct{})}
	b := &memTransport{rd: a2b, wr: b2a, closed: make(chan struct{})}
	return a, b
}

func (m *memTransport) ReadPacket(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, io.EOF
	case frame := <-m.rd:
		return frame, nil
	}
}

func (m *memTransport) WritePacket(ctx context.Context, pkt []byte) error {
	frame := append([]byte(nil), pkt...)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return io.ErrClosedPipe
	case m.wr <- frame:
		return nil
	}
}

func (m *memTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// busOwner drives the device under test from the far end of the pipe.
type busOwner struct {
	t   *testing.T
	tr  *memTransport
	asm *assembly.Reassembler
}

func newBusOwner(t *testing.T, tr *memTransport) *busOwner {
	return &busOwner{t: t, tr: tr, asm: assembly.NewReassembler(0, 0)}
}

func (b *busOwner) sendMessage(dest mctp.EID, body []byte, tag mctp.Tag, owner bool, mtu int) {
	b.t.Helper()
	pkts, err := assembly.Fragment(body, dest, busEID, tag, owner, mtu)
	require.NoError(b.t, err)
	for _, p := range pkts {
		require.NoError(b.t, b.tr.WritePacket(context.Background(), packet.Encode(p)))
	}
}

// readMessage reassembles the next complete message from the device.
func (b *busOwner) readMessage(timeout time.Duration) *mctp.Message {
	b.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		frame, err := b.tr.ReadPacket(ctx)
		require.NoError(b.t, err, "waiting for a message from the device")
		p, err := packet.Decode(frame)
		require.NoError(b.t, err)
		msg, err := b.asm.Ingest(p, time.Now())
		require.NoError(b.t, err)
		if msg != nil {
			return msg
		}
	}
}

// expectSilence asserts the device sends nothing for the window.
func (b *busOwner) expectSilence(window time.Duration) {
	b.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	frame, err := b.tr.ReadPacket(ctx)
	assert.Error(b.t, err, "device answered: %x", frame)
}

func (b *busOwner) setEndpointID(dest, eid mctp.EID, mtu int) *mctp.Message {
	b.t.Helper()
	body := control.EncodeRequest(1, control.CmdSetEndpointID, []byte{0, uint8(eid)})
	b.sendMessage(dest, body, 2, true, mtu)
	return b.readMessage(time.Second)
}

func startService(t *testing.T, types []mctp.MsgType, mutate func(*EndpointConfig), handlers ...dispatch.Handler) (*EndpointService, *busOwner) {
	t.Helper()
	devEnd, busEnd := newPipe()

	cfg := DefaultEndpointConfig()
	cfg.DiscoveryNotify = false
	if mutate != nil {
		mutate(&cfg)
	}

	state := endpoint.New(types, 0)
	svc := NewEndpointService(state, devEnd, cfg)
	for _, h := range handlers {
		require.NoError(t, svc.Register(h))
	}
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	return svc, newBusOwner(t, busEnd)
}

func TestAssignEndpointID(t *testing.T) {
	svc, bus := startService(t, nil, nil)

	var events []Event
	var eventMu sync.Mutex
	svc.OnEvent(func(ev Event) {
		eventMu.Lock()
		events = append(events, ev)
		eventMu.Unlock()
	})

	msg := bus.setEndpointID(mctp.EIDNull, 9, 64)

	resp, err := control.ParseResponse(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, control.CompletionSuccess, resp.Completion)
	assert.Equal(t, []byte{0x00, 9, 0}, resp.Data)
	assert.Equal(t, mctp.Tag(2), msg.Tag)
	assert.False(t, msg.TagOwner, "reply must clear the tag owner bit")
	assert.Equal(t, mctp.EID(9), svc.State().EID())

	eventMu.Lock()
	defer eventMu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, EventAssigned, events[0].Type)
	assert.Equal(t, busEID, events[0].BusOwner)
	assert.Equal(t, mctp.EID(9), events[0].EID)
}

func TestWrongDestinationSilentlyIgnored(t *testing.T) {
	_, bus := startService(t, nil, nil)

	body := control.EncodeRequest(1, control.CmdGetEndpointID, nil)
	bus.sendMessage(33, body, 0, true, 64)
	bus.expectSilence(300 * time.Millisecond)
}

func TestMultiPacketRequestAndReply(t *testing.T) {
	h := &recordingHandler{typ: mctp.TypeVendorPCI}
	_, bus := startService(t, []mctp.MsgType{mctp.TypeVendorPCI}, nil, h)

	// Assign an EID first so the request can address it.
	bus.setEndpointID(mctp.EIDNull, 9, 64)

	// 150-byte body fragments into three packets at the baseline MTU.
	body := make([]byte, 150)
	body[0] = uint8(mctp.TypeVendorPCI)
	for i := 1; i < len(body); i++ {
		body[i] = byte(i)
	}
	bus.sendMessage(9, body, 5, true, 64)

	reply := bus.readMessage(time.Second)
	assert.Equal(t, body, reply.Body, "echo reply")
	assert.Equal(t, mctp.Tag(5), reply.Tag)
	assert.False(t, reply.TagOwner)
	assert.Equal(t, mctp.EID(9), reply.Source)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.handled, 1)
	assert.Equal(t, busEID, h.handled[0].Source)
}

func TestUnregisteredTypeDropped(t *testing.T) {
	_, bus := startService(t, nil, nil)
	bus.setEndpointID(mctp.EIDNull, 9, 64)

	bus.sendMessage(9, []byte{uint8(mctp.TypeNVMeMI), 1, 2, 3}, 4, true, 64)
	bus.expectSilence(300 * time.Millisecond)
}

func TestDiscoveryNotifyOnStartup(t *testing.T) {
	svc, bus := startService(t, nil, func(cfg *EndpointConfig) {
		cfg.DiscoveryNotify = true
	})

	msg := bus.readMessage(time.Second)
	require.True(t, msg.TagOwner)
	assert.Equal(t, mctp.EIDNull, msg.Dest)

	req, err := control.ParseRequest(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, control.CmdDiscoveryNotify, req.Command)
	assert.True(t, req.Request)

	// Acknowledge; the pending transaction drains.
	resp := control.EncodeResponse(req.Header, control.CompletionSuccess, nil)
	bus.sendMessage(mctp.EIDNull, resp, msg.Tag, false, 64)

	require.Eventually(t, func() bool {
		return svc.tracker.PendingCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestDiscoveryNotifyRetriesThenGivesUp(t *testing.T) {
	svc, bus := startService(t, nil, func(cfg *EndpointConfig) {
		cfg.DiscoveryNotify = true
		cfg.RetryAttempts = 2
		cfg.RetryTimeout = 50 * time.Millisecond
		cfg.MaintenanceInterval = 10 * time.Millisecond
	})

	// Initial send plus one retransmission, no answer to either.
	first := bus.readMessage(time.Second)
	second := bus.readMessage(time.Second)
	assert.Equal(t, first.Body, second.Body, "retransmission repeats the request")

	require.Eventually(t, func() bool {
		return svc.tracker.PendingCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "transaction should fail terminally")

	// Endpoint still serves commands afterwards.
	msg := bus.setEndpointID(mctp.EIDNull, 9, 64)
	resp, err := control.ParseResponse(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, control.CompletionSuccess, resp.Completion)
}

func TestRequesterReplyMatching(t *testing.T) {
	r := &recordingHandler{typ: mctp.TypeVendorPCI}
	svc, bus := startService(t, []mctp.MsgType{mctp.TypeVendorPCI}, nil, r)

	bus.setEndpointID(mctp.EIDNull, 9, 64)

	sender := svc.SenderFor(r)
	body := []byte{uint8(mctp.TypeVendorPCI), 0xAA}
	tag, err := sender.SendRequest(context.Background(), busEID, body)
	require.NoError(t, err)

	// The request arrives at the bus owner carrying the allocated tag.
	req := bus.readMessage(time.Second)
	assert.Equal(t, body, req.Body)
	assert.Equal(t, tag, req.Tag)
	require.True(t, req.TagOwner)

	// Reply on the same tag reaches the requester.
	bus.sendMessage(9, []byte{uint8(mctp.TypeVendorPCI), 0xBB}, tag, false, 64)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.replies) == 1
	}, time.Second, 10*time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []byte{uint8(mctp.TypeVendorPCI), 0xBB}, r.replies[0].Body)
}

func TestTransportEOFStopsService(t *testing.T) {
	devEnd, busEnd := newPipe()

	cfg := DefaultEndpointConfig()
	cfg.DiscoveryNotify = false
	svc := NewEndpointService(endpoint.New(nil, 0), devEnd, cfg)
	require.NoError(t, svc.Start(context.Background()))

	var events []Event
	var eventMu sync.Mutex
	svc.OnEvent(func(ev Event) {
		eventMu.Lock()
		events = append(events, ev)
		eventMu.Unlock()
	})

	busEnd.Close()
	devEnd.Close()

	select {
	case <-svc.Done():
	case <-time.After(time.Second):
		t.Fatal("service did not stop on transport EOF")
	}
	assert.ErrorIs(t, svc.Err(), io.EOF)

	eventMu.Lock()
	defer eventMu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, EventTransportDown, events[0].Type)
}

func TestSendMessageQueuesAllFragmentsOrNone(t *testing.T) {
	devEnd, _ := newPipe()

	// No Start: nothing drains the queue, so capacity is exact.
	cfg := DefaultEndpointConfig()
	cfg.OutboundQueue = 2
	svc := NewEndpointService(endpoint.New(nil, 0), devEnd, cfg)

	// 150 bytes fragment into three packets at the baseline MTU; only
	// two fit, so nothing may be committed.
	body := make([]byte, 150)
	body[0] = uint8(mctp.TypeVendorPCI)
	err := svc.sendMessage(busEID, body, 1, true)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Zero(t, len(svc.outbound), "rejected message left fragments queued")

	// A two-packet message fills the queue completely.
	require.NoError(t, svc.sendMessage(busEID, body[:100], 2, true))
	assert.Equal(t, 2, len(svc.outbound))

	// Full queue rejects the next message without partial enqueue.
	err = svc.sendMessage(busEID, body[:100], 3, true)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, len(svc.outbound))
}

func TestStartTwice(t *testing.T) {
	devEnd, _ := newPipe()
	svc := NewEndpointService(endpoint.New(nil, 0), devEnd, DefaultEndpointConfig())
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	assert.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)
}

// recordingHandler echoes requests and records replies.
type recordingHandler struct {
	typ mctp.MsgType

	mu      sync.Mutex
	handled []*mctp.Message
	replies []*mctp.Message
}

func (h *recordingHandler) Type() mctp.MsgType { return h.typ }

func (h *recordingHandler) Handle(_ context.Context, msg *mctp.Message) ([]byte, error) {
	h.mu.Lock()
	h.handled = append(h.handled, msg)
	h.mu.Unlock()
	return append([]byte(nil), msg.Body...), nil
}

func (h *recordingHandler) HandleReply(_ context.Context, msg *mctp.Message) {
	h.mu.Lock()
	h.replies = append(h.replies, msg)
	h.mu.Unlock()
}
