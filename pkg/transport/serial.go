package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/log"
	"github.com/mctp-emu/mctp-go/pkg/packet"
)

// Serial binding framing constants (DSP0253).
const (
	serialFlag     = 0x7E
	serialEscape   = 0x7D
	serialXOR      = 0x20
	serialRevision = 0x01

	// serialMaxPacket bounds the byte-count field, which is one byte.
	serialMaxPacket = 0xFF
)

// Serial is the MCTP serial binding over a byte stream: each packet is
// wrapped in flag bytes with an escape mechanism and a PPP FCS.
//
// Reads and writes are independently serialized; ReadPacket resyncs on
// framing errors and only returns errors from the stream itself.
type Serial struct {
	stream io.ReadWriteCloser
	r      *bufio.Reader
	logger log.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewSerial wraps an established byte stream in the serial binding.
// logger may be nil.
func NewSerial(stream io.ReadWriteCloser, logger log.Logger) *Serial {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Serial{
		stream: stream,
		r:      bufio.NewReader(stream),
		logger: logger,
	}
}

// ReadPacket returns the next packet on the stream. Frames with a bad
// FCS or malformed escape are dropped with a capture event and the
// read continues. Cancellation takes effect between frames; Close
// unblocks a read in progress.
func (s *Serial) ReadPacket(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkt, err := s.readFrame()
		if err == nil {
			s.logPacket(log.DirectionIn, pkt)
			return pkt, nil
		}
		if ferr, ok := err.(*framingError); ok {
			s.logger.Log(log.Event{
				Timestamp: time.Now(),
				Direction: log.DirectionIn,
				Layer:     log.LayerTransport,
				Category:  log.CategoryError,
				Error: &log.ErrorEventData{
					Layer:   log.LayerTransport,
					Message: ferr.Error(),
					Context: "serial frame dropped",
				},
			})
			continue
		}
		return nil, err
	}
}

// WritePacket frames and sends one packet.
func (s *Serial) WritePacket(ctx context.Context, pkt []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(pkt) > serialMaxPacket {
		return fmt.Errorf("%w: packet of %d bytes exceeds serial byte count", ErrFraming, len(pkt))
	}

	frame := make([]byte, 0, len(pkt)+8)
	frame = append(frame, serialFlag, serialRevision)
	frame = appendEscaped(frame, byte(len(pkt)))
	for _, b := range pkt {
		frame = appendEscaped(frame, b)
	}
	fcs := fcs16(append([]byte{serialRevision, byte(len(pkt))}, pkt...))
	frame = appendEscaped(frame, byte(fcs>>8))
	frame = appendEscaped(frame, byte(fcs))
	frame = append(frame, serialFlag)

	s.writeMu.Lock()
	_, err := s.stream.Write(frame)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	s.logPacket(log.DirectionOut, pkt)
	return nil
}

// Close closes the underlying stream. Idempotent.
func (s *Serial) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

// framingError wraps recoverable frame damage; stream errors pass
// through unwrapped.
type framingError struct{ msg string }

func (e *framingError) Error() string { return "transport: framing error: " + e.msg }
func (e *framingError) Unwrap() error { return ErrFraming }

// readFrame consumes one complete frame from the stream.
func (s *Serial) readFrame() ([]byte, error) {
	// Skip to an opening flag; inter-frame noise is discarded.
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == serialFlag {
			break
		}
	}

	// Consume the frame body up to the closing flag, undoing escapes.
	// Back-to-back frames share a flag, so an immediately repeated flag
	// byte means the one we consumed was a closer; treat it as opening
	// the next frame.
	var body []byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == serialFlag {
			if len(body) == 0 {
				continue
			}
			break
		}
		if b == serialEscape {
			next, err := s.r.ReadByte()
			if err != nil {
				return nil, err
			}
			if next == serialFlag || next == serialEscape {
				return nil, &framingError{msg: "escape before flag byte"}
			}
			b = next ^ serialXOR
		}
		body = append(body, b)
		if len(body) > serialMaxPacket+4 {
			return nil, &framingError{msg: "frame exceeds maximum length"}
		}
	}

	// revision, byte count, packet, two FCS bytes
	if len(body) < 4 {
		return nil, &framingError{msg: fmt.Sprintf("frame body of %d bytes", len(body))}
	}
	if body[0] != serialRevision {
		return nil, &framingError{msg: fmt.Sprintf("unknown revision 0x%02x", body[0])}
	}
	count := int(body[1])
	if len(body) != 2+count+2 {
		return nil, &framingError{msg: fmt.Sprintf("byte count %d does not match body", count)}
	}
	want := uint16(body[len(body)-2])<<8 | uint16(body[len(body)-1])
	if got := fcs16(body[:len(body)-2]); got != want {
		return nil, &framingError{msg: fmt.Sprintf("FCS mismatch: 0x%04x != 0x%04x", got, want)}
	}

	pkt := make([]byte, count)
	copy(pkt, body[2:2+count])
	return pkt, nil
}

func appendEscaped(dst []byte, b byte) []byte {
	if b == serialFlag || b == serialEscape {
		return append(dst, serialEscape, b^serialXOR)
	}
	return append(dst, b)
}

// fcs16 is the PPP frame check sequence (RFC 1662).
func fcs16(data []byte) uint16 {
	fcs := uint16(0xFFFF)
	for _, b := range data {
		fcs ^= uint16(b)
		for i := 0; i < 8; i++ {
			if fcs&1 != 0 {
				fcs = (fcs >> 1) ^ 0x8408
			} else {
				fcs >>= 1
			}
		}
	}
	return ^fcs
}

func (s *Serial) logPacket(dir log.Direction, pkt []byte) {
	s.logger.Log(packetEvent(dir, pkt))
}

// packetEvent builds the capture event for one raw packet, decoding
// the header fields when present.
func packetEvent(dir log.Direction, pkt []byte) log.Event {
	ev := log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Packet:    &log.PacketEvent{Size: len(pkt)},
	}
	data := pkt
	if len(data) > log.MaxPacketDataSize {
		data = data[:log.MaxPacketDataSize]
		ev.Packet.Truncated = true
	}
	ev.Packet.Data = append([]byte(nil), data...)

	if p, err := packet.Decode(pkt); err == nil {
		ev.Packet.Src = uint8(p.Src)
		ev.Packet.Dst = uint8(p.Dest)
		ev.Packet.Tag = uint8(p.Tag)
		ev.Packet.SOM = p.SOM
		ev.Packet.EOM = p.EOM
	}
	return ev
}

var _ Transport = (*Serial)(nil)
