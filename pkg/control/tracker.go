package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// Tracker errors.
var (
	// ErrTimeout indicates a transaction exhausted its retry budget.
	ErrTimeout = errors.New("control: transaction timed out")

	// ErrNoFreeTag indicates all eight message tags are in flight.
	ErrNoFreeTag = errors.New("control: no free message tag")

	// ErrCancelled indicates the transport closed mid-transaction.
	ErrCancelled = errors.New("control: transaction cancelled")
)

// DefaultMaxAttempts bounds the retransmissions of one transaction.
const DefaultMaxAttempts = 3

// Outcome delivers the terminal result of a transaction: exactly one
// of Response or Err is set.
type Outcome struct {
	Response *Response
	Err      error
}

// pending is the tracker's record of one in-flight request: one
// outstanding requester-role exchange, keyed by the tag it owns.
type pending struct {
	tag      mctp.Tag
	iid      uint8
	cmd      CommandCode
	dest     mctp.EID
	body     []byte
	attempts int
	max      int
	deadline time.Time
	backoff  *Backoff
	done     func(Outcome)
}

// Resend describes a transaction the maintenance pass decided to
// retransmit: the service sends body to dest again.
type Resend struct {
	Tag  mctp.Tag
	Dest mctp.EID
	Body []byte
}

// Tracker matches requester-role control responses to their requests
// by message tag, and drives retry/timeout from the maintenance timer.
type Tracker struct {
	mu sync.Mutex

	nextIID  uint8
	pending  map[mctp.Tag]*pending
	maxTries int
	timeout  time.Duration
}

// NewTracker creates a tracker. maxAttempts and timeout bound each
// transaction; non-positive values select the defaults.
func NewTracker(maxAttempts int, timeout time.Duration) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if timeout <= 0 {
		timeout = InitialRetryDelay
	}
	return &Tracker{
		pending:  make(map[mctp.Tag]*pending),
		maxTries: maxAttempts,
		timeout:  timeout,
	}
}

// Begin registers a new transaction and returns the tag to own and the
// request body to send. done is invoked exactly once with the outcome.
func (t *Tracker) Begin(cmd CommandCode, dest mctp.EID, data []byte, now time.Time, done func(Outcome)) (mctp.Tag, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tag, ok := t.freeTag()
	if !ok {
		return 0, nil, ErrNoFreeTag
	}

	iid := t.nextIID
	t.nextIID = (t.nextIID + 1) & iidMask
	body := EncodeRequest(iid, cmd, data)

	p := &pending{
		tag:      tag,
		iid:      iid,
		cmd:      cmd,
		dest:     dest,
		body:     body,
		attempts: 1,
		max:      t.maxTries,
		backoff:  NewBackoff(t.timeout, 0),
		done:     done,
	}
	p.deadline = now.Add(p.backoff.Next())
	t.pending[tag] = p

	return tag, body, nil
}

// HandleResponse matches an inbound control response (tag owner bit
// clear, our tag echoed back) to its transaction. It reports whether
// the response was consumed; unmatched responses are dropped by the
// caller.
func (t *Tracker) HandleResponse(tag mctp.Tag, resp Response) bool {
	t.mu.Lock()
	p, ok := t.pending[tag]
	if ok && p.iid == resp.InstanceID && p.cmd == resp.Command {
		delete(t.pending, tag)
	} else {
		ok = false
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	p.done(Outcome{Response: &resp})
	return true
}

// Expired advances retry state at time now. Transactions past their
// deadline with attempts left are returned for retransmission;
// exhausted ones complete with ErrTimeout.
func (t *Tracker) Expired(now time.Time) []Resend {
	t.mu.Lock()
	var resend []Resend
	var failed []*pending
	for tag, p := range t.pending {
		if now.Before(p.deadline) {
			continue
		}
		if p.attempts >= p.max {
			delete(t.pending, tag)
			failed = append(failed, p)
			continue
		}
		p.attempts++
		p.deadline = now.Add(p.backoff.Next())
		resend = append(resend, Resend{Tag: p.tag, Dest: p.dest, Body: p.body})
	}
	t.mu.Unlock()

	for _, p := range failed {
		p.done(Outcome{Err: fmt.Errorf("%w: %s after %d attempts", ErrTimeout, p.cmd, p.attempts)})
	}
	return resend
}

// CancelAll fails every in-flight transaction, used when the transport
// closes.
func (t *Tracker) CancelAll() {
	t.mu.Lock()
	cancelled := make([]*pending, 0, len(t.pending))
	for tag, p := range t.pending {
		delete(t.pending, tag)
		cancelled = append(cancelled, p)
	}
	t.mu.Unlock()

	for _, p := range cancelled {
		p.done(Outcome{Err: ErrCancelled})
	}
}

// PendingCount returns the number of in-flight transactions.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) freeTag() (mctp.Tag, bool) {
	for tag := mctp.Tag(0); tag <= mctp.TagMax; tag++ {
		if _, used := t.pending[tag]; !used {
			return tag, true
		}
	}
	return 0, false
}
