package vsm

import (
	"fmt"

	"github.com/bwarrum-ibm/ibmvsm/crq"
	"github.com/bwarrum-ibm/ibmvsm/platform"
)

// handleVTerm routes a payload message to the slot its token addresses.
func (a *Adapter) handleVTerm(msg crq.Message) error {
	if msg.Type == crq.VTermAvailable {
		idx, err := a.vterms.bind(msg.Token)
		if err != nil {
			return err
		}
		a.logger().WithField("token", msg.Token).WithField("slot", idx).Info("VTerm available")
		return nil
	}

	s := a.vterms.find(msg.Token)
	if s == nil {
		return fmt.Errorf("%w: %s for unknown token %#x", ErrUnexpectedMessage, msg.TypeName(), msg.Token)
	}
	defer s.Unlock()

	switch msg.Type {
	case crq.VTermOpenResponse:
		if s.state != VTermOpening {
			return fmt.Errorf("%w: %s: slot %d is %s", ErrIllegalTransition, msg.TypeName(), s.index, s.state)
		}
		_ = s.transition(VTermReady)
		a.logger().WithField("token", msg.Token).WithField("slot", s.index).Info("VTerm ready")
		return nil

	case crq.VTermDataReady:
		if s.state != VTermReady {
			return fmt.Errorf("%w: %s: slot %d is %s", ErrUnexpectedMessage, msg.TypeName(), s.index, s.state)
		}
		return a.pullChars(s)

	case crq.VTermClosed:
		a.logger().WithField("token", msg.Token).WithField("slot", s.index).Info("VTerm closed by partner")
		if s.state == VTermFailed {
			return nil
		}
		return s.transition(VTermFree)

	case crq.VTermError:
		a.logger().WithField("token", msg.Token).WithField("slot", s.index).Warn("VTerm failed")
		if s.state == VTermFailed {
			return nil
		}
		return s.transition(VTermFailed)

	default:
		return fmt.Errorf("%w: unknown command subtype %#x", ErrUnexpectedMessage, uint8(msg.Type))
	}
}

// pullChars reads everything pending on the slot's vterm into its buffer,
// at most MaxTermChars per hypercall. Characters beyond the buffer limit are
// dropped. Must be called with the slot locked.
func (a *Adapter) pullChars(s *vtermSlot) error {
	var buf [platform.MaxTermChars]byte
	for {
		n, rc := a.hv.GetTermChar(a.addr, s.token, buf[:])
		if rc != platform.Success {
			if rc == platform.Busy {
				return nil
			}
			_ = s.transition(VTermFailed)
			return fmt.Errorf("%w: get term char: %w", ErrSessionNotReady, rc.Err())
		}
		if n == 0 {
			return nil
		}

		a.metrics.rxBytes.Inc(int64(n))
		room := a.cfg.ReadBuffer - len(s.rx)
		if room < n {
			a.metrics.rxDropped.Inc(int64(n - max(room, 0)))
			n = max(room, 0)
		}
		s.rx = append(s.rx, buf[:n]...)
	}
}
