package vsm

import (
	"fmt"
	"sync"
)

type VTermState uint8

const (
	VTermFree VTermState = iota
	// VTermBound has a token from firmware but nobody asked to open it yet.
	VTermBound
	// VTermOpening waits for firmware to confirm an open request.
	VTermOpening
	VTermReady
	// VTermFailed is only left through a channel reset.
	VTermFailed
)

var vtermStateMap = map[VTermState]string{
	VTermFree:    "free",
	VTermBound:   "bound",
	VTermOpening: "opening",
	VTermReady:   "ready",
	VTermFailed:  "failed",
}

func (s VTermState) String() string {
	if n, ok := vtermStateMap[s]; ok {
		return n
	}
	return "unknown"
}

func (s VTermState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var vtermTransitions = map[VTermState][]VTermState{
	VTermFree:    {VTermBound},
	VTermBound:   {VTermOpening, VTermFree, VTermFailed},
	VTermOpening: {VTermReady, VTermFree, VTermFailed},
	VTermReady:   {VTermFree, VTermFailed},
	VTermFailed:  {},
}

// CanTransition reports whether a slot may move from one state to another.
func CanTransition(from, to VTermState) bool {
	for _, s := range vtermTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type vtermSlot struct {
	sync.Mutex
	index int
	token uint64
	state VTermState

	// session is the attached front end session, if any. The slot does not
	// own it, it only records which session the token is mapped to.
	session *Session
	rx      []byte
}

// transition moves the slot along the state table. Must be called with the
// slot locked.
func (s *vtermSlot) transition(to VTermState) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: slot %d %s to %s", ErrIllegalTransition, s.index, s.state, to)
	}

	s.state = to
	if to == VTermFree {
		s.release()
	}
	return nil
}

// release forgets the token and detaches any session. Must be called with the
// slot locked.
func (s *vtermSlot) release() {
	s.state = VTermFree
	s.token = 0
	s.session = nil
	s.rx = nil
}

// VTermInfo is a copy of a slot for display.
type VTermInfo struct {
	Index    int        `json:"index"`
	Token    uint64     `json:"token"`
	State    VTermState `json:"state"`
	Attached bool       `json:"attached"`
	Pending  int        `json:"pending"`
}

// VTermTable is the fixed set of vterm slots of one adapter. No operation
// ever holds more than one slot lock.
type VTermTable struct {
	slots []*vtermSlot
}

func newVTermTable(n int) *VTermTable {
	t := &VTermTable{slots: make([]*vtermSlot, n)}
	for i := range t.slots {
		t.slots[i] = &vtermSlot{index: i}
	}
	return t
}

func (t *VTermTable) Len() int {
	return len(t.slots)
}

// find returns the locked slot bound to token, or nil.
func (t *VTermTable) find(token uint64) *vtermSlot {
	for _, s := range t.slots {
		s.Lock()
		if s.state != VTermFree && s.token == token {
			return s
		}
		s.Unlock()
	}
	return nil
}

// bind assigns token to the first free slot.
func (t *VTermTable) bind(token uint64) (int, error) {
	if s := t.find(token); s != nil {
		idx := s.index
		s.Unlock()
		return idx, fmt.Errorf("%w: token %#x is already bound to slot %d", ErrUnexpectedMessage, token, idx)
	}

	for _, s := range t.slots {
		s.Lock()
		if s.state == VTermFree {
			err := s.transition(VTermBound)
			if err == nil {
				s.token = token
			}
			s.Unlock()
			return s.index, err
		}
		s.Unlock()
	}

	return -1, ErrNoFreeSlot
}

// Transition moves slot index to the given state, it is rejected if the state
// table does not allow it.
func (t *VTermTable) Transition(index int, to VTermState) error {
	if index < 0 || index >= len(t.slots) {
		return fmt.Errorf("%w: slot %d does not exist", ErrIllegalTransition, index)
	}

	s := t.slots[index]
	s.Lock()
	defer s.Unlock()
	return s.transition(to)
}

// reset forces every slot back to free. Tokens only live as long as one
// registration of the queue.
func (t *VTermTable) reset() {
	for _, s := range t.slots {
		s.Lock()
		s.release()
		s.Unlock()
	}
}

func (t *VTermTable) State(index int) (VTermState, error) {
	if index < 0 || index >= len(t.slots) {
		return VTermFree, fmt.Errorf("%w: %d", ErrNoSuchSlot, index)
	}

	s := t.slots[index]
	s.Lock()
	defer s.Unlock()
	return s.state, nil
}

func (t *VTermTable) List() []VTermInfo {
	out := make([]VTermInfo, len(t.slots))
	for i, s := range t.slots {
		s.Lock()
		out[i] = VTermInfo{
			Index:    s.index,
			Token:    s.token,
			State:    s.state,
			Attached: s.session != nil,
			Pending:  len(s.rx),
		}
		s.Unlock()
	}
	return out
}
