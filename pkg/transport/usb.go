package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/mctp-emu/mctp-go/pkg/log"
)

// USB binding constants (DSP0283).
const (
	// usbDMTFID is the DMTF constant opening every transfer header.
	usbDMTFID = 0x1AB4

	usbHeaderLen = 4

	// usbMaxTransfer bounds one transfer including the header; the
	// header's length field is a single byte.
	usbMaxTransfer = 0xFF
)

// USB is the MCTP over USB binding: each packet travels in one
// transfer prefixed by a 4-byte header carrying the DMTF ID and the
// total transfer length. Endpoint enumeration happens outside; the
// binding consumes an established byte stream.
type USB struct {
	stream io.ReadWriteCloser
	logger log.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewUSB wraps an established byte stream in the USB binding. logger
// may be nil.
func NewUSB(stream io.ReadWriteCloser, logger log.Logger) *USB {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &USB{stream: stream, logger: logger}
}

// ReadPacket returns the packet of the next transfer. A header that is
// not a valid transfer start is unrecoverable on a stream medium, so
// it fails the read rather than resyncing.
func (u *USB) ReadPacket(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hdr [usbHeaderLen]byte
	if _, err := io.ReadFull(u.stream, hdr[:]); err != nil {
		return nil, err
	}
	if id := binary.BigEndian.Uint16(hdr[0:2]); id != usbDMTFID {
		return nil, fmt.Errorf("%w: transfer header ID 0x%04x", ErrFraming, id)
	}
	total := int(hdr[3])
	if total < usbHeaderLen {
		return nil, fmt.Errorf("%w: transfer length %d", ErrFraming, total)
	}

	pkt := make([]byte, total-usbHeaderLen)
	if _, err := io.ReadFull(u.stream, pkt); err != nil {
		return nil, err
	}
	u.logger.Log(packetEvent(log.DirectionIn, pkt))
	return pkt, nil
}

// WritePacket sends one packet as a single transfer.
func (u *USB) WritePacket(ctx context.Context, pkt []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	total := usbHeaderLen + len(pkt)
	if total > usbMaxTransfer {
		return fmt.Errorf("%w: packet of %d bytes exceeds transfer size", ErrFraming, len(pkt))
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], usbDMTFID)
	buf[2] = 0 // reserved
	buf[3] = byte(total)
	copy(buf[usbHeaderLen:], pkt)

	u.writeMu.Lock()
	_, err := u.stream.Write(buf)
	u.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("usb write: %w", err)
	}
	u.logger.Log(packetEvent(log.DirectionOut, pkt))
	return nil
}

// Close closes the underlying stream. Idempotent.
func (u *USB) Close() error {
	u.closeOnce.Do(func() {
		u.closeErr = u.stream.Close()
	})
	return u.closeErr
}

var _ Transport = (*USB)(nil)
