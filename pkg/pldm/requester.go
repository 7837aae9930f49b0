package pldm

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/dispatch"
	"github.com/mctp-emu/mctp-go/pkg/log"
	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// File transfer session defaults.
const (
	// DefaultPartSize is the part size offered during negotiation.
	DefaultPartSize = 512

	// DefaultFileID is the file pulled from the bus owner. A real
	// device would discover this through the PDR repository.
	DefaultFileID = 0

	// DefaultFileSize bounds the transfer.
	DefaultFileSize = 4096

	// replyTimeout bounds one request/reply exchange.
	replyTimeout = 5 * time.Second
)

// FileRequester pulls a file from the bus owner after every endpoint
// assignment. It satisfies dispatch.Requester; replies reach it
// through HandleReply and requests leave through the Sender the
// service binds.
type FileRequester struct {
	logger log.Logger

	sender dispatch.Sender

	// assignments wakes the session loop; replies feeds the exchange
	// in flight. Both are bounded and drop on overflow, a stalled
	// session must never back up the I/O actor.
	assignments chan mctp.EID
	replies     chan *mctp.Message

	nextIID uint8

	// replyTimeout bounds each request/reply exchange.
	replyTimeout time.Duration

	// OnFile receives the transferred file content, for tests and the
	// interactive console. May be nil.
	OnFile func(data []byte)
}

// NewFileRequester creates the requester. logger may be nil.
func NewFileRequester(logger log.Logger) *FileRequester {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &FileRequester{
		logger:       logger,
		assignments:  make(chan mctp.EID, 1),
		replies:      make(chan *mctp.Message, 1),
		replyTimeout: replyTimeout,
	}
}

// Bind attaches the outbound request capability. The service calls
// this once before starting the session loop.
func (f *FileRequester) Bind(sender dispatch.Sender) {
	f.sender = sender
}

// Type returns the PLDM message type.
func (f *FileRequester) Type() mctp.MsgType { return mctp.TypePLDM }

// Handle answers inbound PLDM requests. The device originates PLDM
// traffic but serves none, so every command is unsupported.
func (f *FileRequester) Handle(_ context.Context, msg *mctp.Message) ([]byte, error) {
	req, err := Parse(msg.Body)
	if err != nil {
		return nil, err
	}
	if !req.Request || req.Datagram {
		return nil, nil
	}
	return EncodeResponse(req.Header, CompletionUnsupportedCmd, nil), nil
}

// HandleReply feeds a matched reply to the exchange in flight.
func (f *FileRequester) HandleReply(_ context.Context, msg *mctp.Message) {
	select {
	case f.replies <- msg:
	default:
		f.logError("reply dropped, no exchange waiting")
	}
}

// OnAssigned notes a new bus owner; the session loop picks it up. An
// assignment arriving mid-session replaces any queued one.
func (f *FileRequester) OnAssigned(busOwner mctp.EID) {
	select {
	case f.assignments <- busOwner:
	default:
	}
}

// Run drives the session loop until the context ends. Each assignment
// starts one file transfer session against its bus owner; failures log
// and the loop waits for the next assignment.
func (f *FileRequester) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case peer := <-f.assignments:
			f.logState("session started", peer)
			if err := f.session(ctx, peer); err != nil {
				f.logError(fmt.Sprintf("session with %s: %v", peer, err))
				f.logState("waiting for assignment", peer)
				continue
			}
			f.logState("session complete", peer)
		}
	}
}

// session runs negotiation, then the open/read/close sequence.
func (f *FileRequester) session(ctx context.Context, peer mctp.EID) error {
	partSize, err := f.negotiate(ctx, peer)
	if err != nil {
		return fmt.Errorf("negotiate transfer parameters: %w", err)
	}

	fd, err := f.dfOpen(ctx, peer, DefaultFileID)
	if err != nil {
		return fmt.Errorf("DfOpen: %w", err)
	}

	data, readErr := f.readAll(ctx, peer, fd, partSize)

	// Close regardless of how the read went.
	if err := f.dfClose(ctx, peer, fd); err != nil && readErr == nil {
		readErr = fmt.Errorf("DfClose: %w", err)
	}
	if readErr != nil {
		return readErr
	}

	if f.OnFile != nil {
		f.OnFile(data)
	}
	return nil
}

// negotiate runs NegotiateTransferParameters and returns the agreed
// part size.
func (f *FileRequester) negotiate(ctx context.Context, peer mctp.EID) (int, error) {
	// Part size, then the 8-byte protocol support bitmask.
	payload := make([]byte, 10)
	binary.LittleEndian.PutUint16(payload[0:2], DefaultPartSize)
	payload[2+TypeFileTransfer/8] |= 1 << (TypeFileTransfer % 8)

	resp, err := f.exchange(ctx, peer, TypeControl, CmdNegotiateTransferParams, payload)
	if err != nil {
		return 0, err
	}
	data := resp.Data()
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: negotiate response of %d bytes", ErrShortMessage, len(data))
	}
	size := int(binary.LittleEndian.Uint16(data[0:2]))
	if size < 1 || size > DefaultPartSize {
		size = DefaultPartSize
	}
	return size, nil
}

func (f *FileRequester) dfOpen(ctx context.Context, peer mctp.EID, fileID uint16) (uint16, error) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], fileID)
	// attributes stay zero

	resp, err := f.exchange(ctx, peer, TypeFileTransfer, CmdDfOpen, payload)
	if err != nil {
		return 0, err
	}
	data := resp.Data()
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: DfOpen response of %d bytes", ErrShortMessage, len(data))
	}
	return binary.LittleEndian.Uint16(data[0:2]), nil
}

// readAll pulls the file in part-size chunks until the requested size
// is reached or the responder returns a short chunk.
func (f *FileRequester) readAll(ctx context.Context, peer mctp.EID, fd uint16, partSize int) ([]byte, error) {
	var buf []byte
	for len(buf) < DefaultFileSize {
		want := DefaultFileSize - len(buf)
		if want > partSize {
			want = partSize
		}

		payload := make([]byte, 10)
		binary.LittleEndian.PutUint16(payload[0:2], fd)
		binary.LittleEndian.PutUint32(payload[2:6], uint32(len(buf)))
		binary.LittleEndian.PutUint32(payload[6:10], uint32(want))

		resp, err := f.exchange(ctx, peer, TypeFileTransfer, CmdDfRead, payload)
		if err != nil {
			return buf, fmt.Errorf("DfRead at offset %d: %w", len(buf), err)
		}
		chunk := resp.Data()
		if len(chunk) > want {
			return buf, fmt.Errorf("pldm: DfRead returned %d bytes, asked %d", len(chunk), want)
		}
		buf = append(buf, chunk...)
		if len(chunk) < want {
			break // end of file
		}
	}
	return buf, nil
}

func (f *FileRequester) dfClose(ctx context.Context, peer mctp.EID, fd uint16) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], fd)

	_, err := f.exchange(ctx, peer, TypeFileTransfer, CmdDfClose, payload)
	return err
}

// exchange sends one request and waits for its reply, validating the
// instance ID, type and command echo and the completion code.
func (f *FileRequester) exchange(ctx context.Context, peer mctp.EID, typ, cmd uint8, payload []byte) (Message, error) {
	iid := f.nextIID
	f.nextIID = (f.nextIID + 1) & iidMask

	body := EncodeRequest(iid, typ, cmd, payload)
	tag, err := f.sender.SendRequest(ctx, peer, body)
	if err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(f.replyTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			f.sender.ForgetRequest(peer, tag)
			return Message{}, ctx.Err()
		case <-timer.C:
			// Withdraw the reply expectation so the tag's next owner
			// does not receive this exchange's late reply.
			f.sender.ForgetRequest(peer, tag)
			return Message{}, fmt.Errorf("pldm: no reply to command 0x%02x from %s", cmd, peer)
		case msg := <-f.replies:
			resp, err := Parse(msg.Body)
			if err != nil {
				f.logError(fmt.Sprintf("bad reply: %v", err))
				continue
			}
			if resp.Request || resp.InstanceID != iid || resp.Type != typ || resp.Command != cmd {
				// Stale reply from an earlier exchange.
				continue
			}
			cc, err := resp.Completion()
			if err != nil {
				return Message{}, err
			}
			if cc != CompletionSuccess {
				return Message{}, &ErrCompletion{Command: cmd, Completion: cc}
			}
			return resp, nil
		}
	}
}

func (f *FileRequester) logState(state string, peer mctp.EID) {
	f.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerMessage,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityHandler,
			NewState: state,
			EID:      uint8(peer),
		},
	})
}

func (f *FileRequester) logError(msg string) {
	f.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerMessage,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerMessage,
			Message: msg,
			Context: "pldm file requester",
		},
	})
}

var _ dispatch.Requester = (*FileRequester)(nil)
