package control

import (
	"errors"
	"testing"
	"time"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

func TestTrackerMatchesResponse(t *testing.T) {
	tr := NewTracker(3, time.Second)
	now := time.Now()

	var outcome *Outcome
	tag, body, err := tr.Begin(CmdDiscoveryNotify, 0x08, nil, now, func(o Outcome) { outcome = &o })
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if len(body) != headerLen {
		t.Errorf("body length = %d", len(body))
	}
	req, err := ParseRequest(body)
	if err != nil {
		t.Fatalf("parse own request: %v", err)
	}
	if !req.Request || req.Command != CmdDiscoveryNotify {
		t.Errorf("request = %+v", req)
	}

	resp := Response{
		Header:     Header{InstanceID: req.InstanceID, Command: CmdDiscoveryNotify},
		Completion: CompletionSuccess,
	}
	if !tr.HandleResponse(tag, resp) {
		t.Fatal("response not consumed")
	}
	if outcome == nil || outcome.Err != nil || outcome.Response == nil {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Response.Completion != CompletionSuccess {
		t.Errorf("completion = %s", outcome.Response.Completion)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("pending = %d after match", tr.PendingCount())
	}
}

func TestTrackerRejectsMismatchedResponse(t *testing.T) {
	tr := NewTracker(3, time.Second)
	now := time.Now()

	called := false
	tag, body, err := tr.Begin(CmdDiscoveryNotify, 0x08, nil, now, func(Outcome) { called = true })
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	req, _ := ParseRequest(body)

	// Wrong command code.
	if tr.HandleResponse(tag, Response{Header: Header{InstanceID: req.InstanceID, Command: CmdGetEndpointID}}) {
		t.Error("consumed a response for the wrong command")
	}
	// Wrong instance ID.
	if tr.HandleResponse(tag, Response{Header: Header{InstanceID: req.InstanceID + 1, Command: CmdDiscoveryNotify}}) {
		t.Error("consumed a response with the wrong instance ID")
	}
	// Wrong tag.
	if tr.HandleResponse(tag+1, Response{Header: Header{InstanceID: req.InstanceID, Command: CmdDiscoveryNotify}}) {
		t.Error("consumed a response on the wrong tag")
	}
	if called {
		t.Error("outcome delivered for a mismatched response")
	}
	if tr.PendingCount() != 1 {
		t.Errorf("pending = %d", tr.PendingCount())
	}
}

func TestTrackerRetryThenTimeout(t *testing.T) {
	tr := NewTracker(3, time.Second)
	now := time.Now()

	var outcome *Outcome
	tag, _, err := tr.Begin(CmdDiscoveryNotify, 0x08, nil, now, func(o Outcome) { outcome = &o })
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Before the deadline nothing moves.
	if resend := tr.Expired(now.Add(100 * time.Millisecond)); len(resend) != 0 {
		t.Errorf("premature resend: %+v", resend)
	}

	// Two retransmissions, then failure. Jitter makes exact deadlines
	// fuzzy, so step well past each backoff interval.
	at := now.Add(time.Minute)
	resend := tr.Expired(at)
	if len(resend) != 1 || resend[0].Tag != tag || resend[0].Dest != 0x08 {
		t.Fatalf("first resend = %+v", resend)
	}

	at = at.Add(time.Minute)
	if resend := tr.Expired(at); len(resend) != 1 {
		t.Fatalf("second resend = %+v", resend)
	}

	at = at.Add(time.Minute)
	if resend := tr.Expired(at); len(resend) != 0 {
		t.Errorf("resend after budget exhausted: %+v", resend)
	}
	if outcome == nil || !errors.Is(outcome.Err, ErrTimeout) {
		t.Fatalf("outcome = %+v, want ErrTimeout", outcome)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("pending = %d after timeout", tr.PendingCount())
	}
}

func TestTrackerTagExhaustion(t *testing.T) {
	tr := NewTracker(3, time.Second)
	now := time.Now()

	seen := map[mctp.Tag]bool{}
	for i := 0; i <= int(mctp.TagMax); i++ {
		tag, _, err := tr.Begin(CmdDiscoveryNotify, 0x08, nil, now, func(Outcome) {})
		if err != nil {
			t.Fatalf("Begin %d: %v", i, err)
		}
		if seen[tag] {
			t.Fatalf("tag %d allocated twice", tag)
		}
		seen[tag] = true
	}

	if _, _, err := tr.Begin(CmdDiscoveryNotify, 0x08, nil, now, func(Outcome) {}); !errors.Is(err, ErrNoFreeTag) {
		t.Errorf("err = %v, want ErrNoFreeTag", err)
	}
}

func TestTrackerCancelAll(t *testing.T) {
	tr := NewTracker(3, time.Second)
	now := time.Now()

	var errs []error
	for i := 0; i < 3; i++ {
		if _, _, err := tr.Begin(CmdDiscoveryNotify, 0x08, nil, now, func(o Outcome) { errs = append(errs, o.Err) }); err != nil {
			t.Fatalf("Begin: %v", err)
		}
	}

	tr.CancelAll()
	if len(errs) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	}
	if tr.PendingCount() != 0 {
		t.Errorf("pending = %d", tr.PendingCount())
	}
}

func TestTrackerInstanceIDsAdvance(t *testing.T) {
	tr := NewTracker(3, time.Second)
	now := time.Now()

	_, first, err := tr.Begin(CmdDiscoveryNotify, 0x08, nil, now, func(Outcome) {})
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := tr.Begin(CmdDiscoveryNotify, 0x08, nil, now, func(Outcome) {})
	if err != nil {
		t.Fatal(err)
	}

	a, _ := ParseRequest(first)
	b, _ := ParseRequest(second)
	if a.InstanceID == b.InstanceID {
		t.Errorf("instance ID did not advance: %d", a.InstanceID)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 4*time.Second)

	prev := time.Duration(0)
	for i := 0; i < 5; i++ {
		d := b.Next()
		if d < prev {
			// Jitter only adds, so each base delay is monotone until
			// the cap; allow equality at the cap.
			if d < 4*time.Second {
				t.Errorf("delay %d shrank: %v after %v", i, d, prev)
			}
		}
		// initial*jitterMax bounds the first delay; the cap plus jitter
		// bounds the rest.
		if d > 5*time.Second {
			t.Errorf("delay %d = %v exceeds cap with jitter", i, d)
		}
		prev = d
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute)
	b.Next()
	b.Next()
	b.Reset()

	d := b.Next()
	if d < time.Second || d > time.Second+time.Second/4 {
		t.Errorf("delay after reset = %v", d)
	}
}
