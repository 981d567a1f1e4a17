package vsm

import (
	"fmt"
	"sync/atomic"

	"github.com/bwarrum-ibm/ibmvsm/platform"
)

const (
	// IoctlOpen asks firmware to open the vterm.
	IoctlOpen = 1
	// IoctlState returns the VTermState of the session's slot.
	IoctlState = 2
)

type PollEvents uint8

const (
	PollIn PollEvents = 1 << iota
	PollOut
	PollErr
	PollHup
)

// Session is the character device side of one vterm. It refers to its slot by
// index and token only, once the slot is freed or rebound the session is
// closed.
type Session struct {
	adapter *Adapter
	index   int
	token   uint64
	closed  atomic.Bool
}

// Open attaches a new session to the vterm bound to token.
func (a *Adapter) Open(token uint64) (*Session, error) {
	if a.State() == StateFailed {
		return nil, ErrAdapterFailed
	}

	s := a.vterms.find(token)
	if s == nil {
		return nil, fmt.Errorf("%w: no vterm for token %#x", ErrSessionNotReady, token)
	}
	defer s.Unlock()

	if s.session != nil {
		return nil, fmt.Errorf("%w: vterm %#x is already open", ErrResourceBusy, token)
	}

	sess := &Session{adapter: a, index: s.index, token: token}
	s.session = sess
	return sess, nil
}

func (s *Session) Token() uint64 {
	return s.token
}

// lock returns the session's slot locked, or an error when the session can no
// longer use it.
func (s *Session) lock() (*vtermSlot, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if s.adapter.State() == StateFailed {
		return nil, ErrAdapterFailed
	}

	slot := s.adapter.vterms.slots[s.index]
	slot.Lock()
	if slot.session != s || slot.token != s.token {
		slot.Unlock()
		s.closed.Store(true)
		return nil, ErrSessionClosed
	}
	return slot, nil
}

// Ioctl implements the two vterm controls.
func (s *Session) Ioctl(cmd int) (int, error) {
	slot, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer slot.Unlock()

	switch cmd {
	case IoctlOpen:
		if slot.state != VTermBound {
			return 0, fmt.Errorf("%w: slot %d is %s", ErrIllegalTransition, slot.index, slot.state)
		}

		rc := s.adapter.hv.OpenVTerm(s.adapter.addr, s.token)
		switch rc {
		case platform.Success:
			return 0, slot.transition(VTermOpening)
		case platform.Busy, platform.PartnerNotReady:
			return 0, fmt.Errorf("%w: open vterm: %w", ErrResourceBusy, rc.Err())
		default:
			_ = slot.transition(VTermFailed)
			return 0, fmt.Errorf("%w: open vterm: %w", ErrSessionNotReady, rc.Err())
		}

	case IoctlState:
		return int(slot.state), nil

	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownIoctl, cmd)
	}
}

// Read copies buffered inbound characters into p. It never blocks, with
// nothing buffered it returns ErrWouldBlock.
func (s *Session) Read(p []byte) (int, error) {
	slot, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer slot.Unlock()

	if len(slot.rx) == 0 {
		if slot.state == VTermFailed {
			return 0, ErrSessionNotReady
		}
		return 0, ErrWouldBlock
	}

	n := copy(p, slot.rx)
	slot.rx = slot.rx[n:]
	if len(slot.rx) == 0 {
		slot.rx = nil
	}
	return n, nil
}

// Write sends p to the vterm in chunks the hypervisor accepts. On a busy
// hypervisor it stops and reports how much was written.
func (s *Session) Write(p []byte) (int, error) {
	slot, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer slot.Unlock()

	if slot.state != VTermReady {
		return 0, fmt.Errorf("%w: slot %d is %s", ErrSessionNotReady, slot.index, slot.state)
	}

	written := 0
	for written < len(p) {
		chunk := p[written:min(written+platform.MaxTermChars, len(p))]
		rc := s.adapter.hv.PutTermChar(s.adapter.addr, s.token, chunk)
		switch rc {
		case platform.Success:
		case platform.Busy:
			return written, fmt.Errorf("%w: put term char: %w", ErrResourceBusy, rc.Err())
		default:
			_ = slot.transition(VTermFailed)
			return written, fmt.Errorf("%w: put term char: %w", ErrSessionNotReady, rc.Err())
		}

		written += len(chunk)
		s.adapter.metrics.txBytes.Inc(int64(len(chunk)))
	}
	return written, nil
}

// Poll reports what the session can do right now.
func (s *Session) Poll() PollEvents {
	slot, err := s.lock()
	if err != nil {
		if err == ErrAdapterFailed {
			return PollErr
		}
		return PollHup
	}
	defer slot.Unlock()

	var ev PollEvents
	if len(slot.rx) > 0 {
		ev |= PollIn
	}
	switch slot.state {
	case VTermReady:
		ev |= PollOut
	case VTermFailed:
		ev |= PollErr
	}
	return ev
}

// Close detaches the session and frees its slot. A failed slot stays failed
// until the channel is reset.
func (s *Session) Close() error {
	slot, err := s.lock()
	if err != nil {
		if err == ErrSessionClosed {
			return nil
		}
		return err
	}
	defer slot.Unlock()
	s.closed.Store(true)

	switch slot.state {
	case VTermFailed:
		slot.session = nil
		return nil
	case VTermOpening, VTermReady:
		rc := s.adapter.hv.CloseVTerm(s.adapter.addr, s.token)
		if rc != platform.Success && rc != platform.Closed {
			s.adapter.logger().WithField("token", s.token).WithField("rc", rc).Warn("Failed to close vterm")
		}
	}

	return slot.transition(VTermFree)
}
