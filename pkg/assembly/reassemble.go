package assembly

import (
	"errors"
	"fmt"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
	"github.com/mctp-emu/mctp-go/pkg/packet"
)

// Defaults for the reassembly policy limits. Both are overridable via
// the Reassembler constructor.
const (
	// DefaultMaxMessageSize caps the accumulated payload of one message.
	DefaultMaxMessageSize = 64 * 1024

	// DefaultContextTimeout is the inactivity timeout after which a
	// partial reassembly is dropped.
	DefaultContextTimeout = 6 * time.Second
)

// Reassembly errors. The context for the offending key is dropped and
// the packet discarded; none of these propagate past the caller.
var (
	// ErrDiscontinuity indicates a sequence number that is not the
	// expected next value for a live context.
	ErrDiscontinuity = errors.New("reassembly: sequence discontinuity")

	// ErrOversize indicates the accumulated payload would exceed the
	// maximum message size.
	ErrOversize = errors.New("reassembly: message exceeds maximum size")

	// ErrUnexpectedTag indicates a continuation packet for a key with
	// no live context.
	ErrUnexpectedTag = errors.New("reassembly: continuation without start of message")
)

// Key identifies one in-flight reassembly: the transport allows one
// live context per distinct key.
type Key struct {
	Src      mctp.EID
	Tag      mctp.Tag
	TagOwner bool
}

// String renders the key for diagnostics.
func (k Key) String() string {
	return fmt.Sprintf("src=%s tag=%d owner=%t", k.Src, k.Tag, k.TagOwner)
}

// context is one partially accumulated message.
type context struct {
	dest    mctp.EID
	buf     []byte
	nextSeq uint8
	touched time.Time
}

// Reassembler accumulates packets into messages. It is not safe for
// concurrent use; the I/O actor is its only caller.
type Reassembler struct {
	pending map[Key]*context
	maxSize int
	timeout time.Duration
}

// NewReassembler creates a Reassembler with the given policy limits.
// Zero values select the defaults.
func NewReassembler(maxSize int, timeout time.Duration) *Reassembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	if timeout <= 0 {
		timeout = DefaultContextTimeout
	}
	return &Reassembler{
		pending: make(map[Key]*context),
		maxSize: maxSize,
		timeout: timeout,
	}
}

// Ingest feeds one decoded packet to the engine. It returns a non-nil
// message when the packet completes one, nil when more packets are
// expected, or an error when the packet is inconsistent with the live
// context (which is dropped).
func (r *Reassembler) Ingest(p packet.Packet, now time.Time) (*mctp.Message, error) {
	key := Key{Src: p.Src, Tag: p.Tag, TagOwner: p.TagOwner}

	if p.SOM {
		// A new start for a live key means the peer restarted the
		// exchange: the old context is abandoned, never an error.
		ctx := &context{
			dest:    p.Dest,
			buf:     append([]byte(nil), p.Payload...),
			nextSeq: (p.Seq + 1) & 0x03,
			touched: now,
		}
		if len(ctx.buf) > r.maxSize {
			// The restart still aborts any prior context for the key.
			delete(r.pending, key)
			return nil, fmt.Errorf("%w (%s)", ErrOversize, key)
		}
		if p.EOM {
			return r.complete(key, ctx)
		}
		r.pending[key] = ctx
		return nil, nil
	}

	ctx, ok := r.pending[key]
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrUnexpectedTag, key)
	}
	if p.Seq != ctx.nextSeq {
		delete(r.pending, key)
		return nil, fmt.Errorf("%w (%s: got %d, want %d)", ErrDiscontinuity, key, p.Seq, ctx.nextSeq)
	}
	if len(ctx.buf)+len(p.Payload) > r.maxSize {
		delete(r.pending, key)
		return nil, fmt.Errorf("%w (%s)", ErrOversize, key)
	}

	ctx.buf = append(ctx.buf, p.Payload...)
	ctx.nextSeq = (ctx.nextSeq + 1) & 0x03
	ctx.touched = now

	if p.EOM {
		return r.complete(key, ctx)
	}
	return nil, nil
}

func (r *Reassembler) complete(key Key, ctx *context) (*mctp.Message, error) {
	delete(r.pending, key)
	return &mctp.Message{
		Source:   key.Src,
		Dest:     ctx.dest,
		Tag:      key.Tag,
		TagOwner: key.TagOwner,
		Body:     ctx.buf,
	}, nil
}

// Expire drops contexts that have seen no packet within the inactivity
// timeout and returns their keys. The owning task calls this from its
// maintenance timer; the engine does not self-schedule.
func (r *Reassembler) Expire(now time.Time) []Key {
	var dropped []Key
	for key, ctx := range r.pending {
		if now.Sub(ctx.touched) > r.timeout {
			delete(r.pending, key)
			dropped = append(dropped, key)
		}
	}
	return dropped
}

// PendingCount returns the number of in-progress reassemblies.
func (r *Reassembler) PendingCount() int {
	return len(r.pending)
}

// Clear discards all in-progress reassemblies, used on transport close.
func (r *Reassembler) Clear() {
	clear(r.pending)
}
