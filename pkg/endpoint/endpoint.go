package endpoint

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
)

// ErrInvalidEID is returned by Assign for the null or broadcast EID.
var ErrInvalidEID = fmt.Errorf("endpoint: invalid EID")

// State is the endpoint's identity and assignment lifecycle. The UUID
// and supported-type set are fixed at construction; only the EID moves,
// and only through Assign and ResetToUnassigned.
type State struct {
	mu sync.RWMutex

	eid      mctp.EID
	uuid     uuid.UUID
	types    []mctp.MsgType
	mtu      int
	assigned bool
}

// New creates an unassigned endpoint with a freshly generated random
// UUID. The supported-type set always contains the control type and is
// reported sorted.
func New(types []mctp.MsgType, mtu int) *State {
	if mtu <= 0 {
		mtu = mctp.BaselineMTU
	}

	set := map[mctp.MsgType]bool{mctp.TypeControl: true}
	for _, t := range types {
		set[t] = true
	}
	sorted := make([]mctp.MsgType, 0, len(set))
	for t := range set {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return &State{
		eid:   mctp.EIDNull,
		uuid:  uuid.New(),
		types: sorted,
		mtu:   mtu,
	}
}

// EID returns the currently assigned endpoint ID, EIDNull if unassigned.
func (s *State) EID() mctp.EID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eid
}

// Assigned reports whether a bus owner has assigned an EID.
func (s *State) Assigned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assigned
}

// UUID returns the endpoint UUID generated at construction.
func (s *State) UUID() uuid.UUID {
	return s.uuid
}

// SupportedTypes returns the sorted supported message type set.
// The returned slice must not be modified.
func (s *State) SupportedTypes() []mctp.MsgType {
	return s.types
}

// Supports reports whether the endpoint handles the given message type.
func (s *State) Supports(t mctp.MsgType) bool {
	for _, st := range s.types {
		if st == t {
			return true
		}
	}
	return false
}

// MTU returns the per-packet payload capacity for this endpoint.
func (s *State) MTU() int {
	return s.mtu
}

// Assign sets the endpoint ID. Only the control protocol responder
// calls this, on a successful Set Endpoint ID command.
func (s *State) Assign(eid mctp.EID) error {
	if !eid.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidEID, eid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eid = eid
	s.assigned = true
	return nil
}

// ResetToUnassigned returns the endpoint to the unassigned state.
func (s *State) ResetToUnassigned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eid = mctp.EIDNull
	s.assigned = false
}

// Snapshot is a read-only copy of the endpoint identity, handed to
// upper-layer handlers so they never touch the live state.
type Snapshot struct {
	EID      mctp.EID
	Assigned bool
	UUID     uuid.UUID
	Types    []mctp.MsgType
	MTU      int
}

// Snapshot returns a consistent copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		EID:      s.eid,
		Assigned: s.assigned,
		UUID:     s.uuid,
		Types:    s.types,
		MTU:      s.mtu,
	}
}
