package vsm

import (
	"errors"
	"fmt"

	"github.com/bwarrum-ibm/ibmvsm/crq"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/queue"
	"github.com/sirupsen/logrus"
)

// handleInterrupt runs in the platform's interrupt context. It only stops
// further delivery and wakes the drain goroutine.
func (a *Adapter) handleInterrupt() {
	a.hv.DisableInterrupts(a.addr)
	a.metrics.interrupts.Inc(1)
	a.wake()
}

// wake raises the line. A lost wakeup leaves entries sitting in the queue
// until the next interrupt.
func (a *Adapter) wake() {
	if err := a.line.Raise(); err != nil {
		a.logger().WithError(err).Error("Failed to wake the drain loop")
	}
}

// run is the single consumer of the queue. Drain passes and resets never run
// concurrently for one adapter because both only happen here.
func (a *Adapter) run() {
	defer close(a.done)

	for a.line.Wait() {
		if a.resetRequested.Swap(false) {
			a.hv.DisableInterrupts(a.addr)
			a.scheduleReset("reset requested")
		}

		if a.State() != StateResetScheduled {
			a.drain()
		}

		if a.State() == StateResetScheduled {
			if err := a.reset(); err != nil {
				a.logger().WithError(err).Error("Adapter reset failed")
			}
		}
	}
}

// drain consumes every ready entry. Once the queue looks empty interrupts are
// enabled again and the queue is checked one more time, an entry that landed
// in between would otherwise wait for the next interrupt.
// It returns early, with interrupts still disabled, when a reset got
// scheduled.
func (a *Adapter) drain() {
	switch a.State() {
	case StateFailed, StateInitial:
		return
	}

	a.metrics.drainPasses.Inc(1)
	for {
		for {
			e, ok := a.queue.NextReady()
			if !ok {
				break
			}

			a.handleEntry(e)
			if a.State() == StateResetScheduled {
				return
			}
		}

		a.enableInterrupts()

		e, ok := a.queue.NextReady()
		if !ok {
			return
		}

		a.hv.DisableInterrupts(a.addr)
		a.handleEntry(e)
		if a.State() == StateResetScheduled {
			return
		}
	}
}

func (a *Adapter) handleEntry(e queue.Entry) {
	a.messageMetrics.Rx(e.Valid, e.Type, 1)
	if a.l.Level >= logrus.DebugLevel {
		a.logger().WithField("slot", e.Index).WithField("message", e.Message.String()).Debug("Dispatching message")
	}

	if a.onMessage != nil {
		a.onMessage(e.Message)
	}
	err := a.dispatch(e.Message)

	// Nothing may touch the entry after this point
	a.queue.Clear(e)

	if err != nil {
		switch {
		case errors.Is(err, ErrPartnerClosed):
			a.logger().WithError(err).Warn("Partner closed the channel, scheduling reset")
		default:
			a.metrics.discarded.Inc(1)
			a.logger().WithError(err).WithField("message", e.Message.String()).Warn("Discarded message")
		}
	}
}

// dispatch routes one message by its validity tag.
func (a *Adapter) dispatch(msg crq.Message) error {
	switch msg.Valid {
	case crq.Init:
		return a.handleInit(msg)

	case crq.Transport:
		a.scheduleReset(msg.TypeName())
		return fmt.Errorf("%w: %s", ErrPartnerClosed, msg.TypeName())

	case crq.Command:
		if s := a.State(); s != StateReady {
			return fmt.Errorf("%w: %s while %s", ErrUnexpectedMessage, msg.TypeName(), s)
		}
		return a.handleVTerm(msg)

	default:
		return fmt.Errorf("%w: unknown tag %#x", ErrUnexpectedMessage, uint8(msg.Valid))
	}
}

func (a *Adapter) enableInterrupts() {
	if rc := a.hv.EnableInterrupts(a.addr); rc != platform.Success {
		a.logger().WithField("rc", rc).Error("Failed to enable interrupts")
	}
}
