package vsm

import (
	"fmt"

	"github.com/bwarrum-ibm/ibmvsm/crq"
	"github.com/bwarrum-ibm/ibmvsm/platform"
)

// handleInit advances the handshake on an init control message.
//
//	queueRegistered + init         -> reply initComplete, stay queueRegistered
//	queueRegistered + initComplete -> negotiatingCapabilities -> ready
//	ready + init                   -> partner restarted: reply, back to queueRegistered
func (a *Adapter) handleInit(msg crq.Message) error {
	state := a.State()

	switch msg.Type {
	case crq.InitRequest:
		switch state {
		case StateQueueRegistered:
		case StateNegotiatingCapabilities, StateReady:
			a.logger().WithField("state", state).Info("Partner initialized again, dropping vterms")
			a.vterms.reset()
			a.setState(StateQueueRegistered)
		default:
			return fmt.Errorf("%w: %s while %s", ErrUnexpectedMessage, msg.TypeName(), state)
		}

		rc := a.send(crq.Init, crq.InitComplete, 0)
		switch {
		case rc == platform.Busy:
			a.logger().Warn("Partner queue is busy, init complete was not sent")
		case !rc.Soft():
			return a.transportError("init complete", rc)
		}
		return nil

	case crq.InitComplete:
		if state != StateQueueRegistered {
			return fmt.Errorf("%w: %s while %s", ErrUnexpectedMessage, msg.TypeName(), state)
		}

		a.setState(StateNegotiatingCapabilities)
		if err := a.negotiate(); err != nil {
			return err
		}
		a.setState(StateReady)
		a.logger().Info("Handshake complete")
		return nil

	default:
		return fmt.Errorf("%w: unknown init subtype %#x", ErrUnexpectedMessage, uint8(msg.Type))
	}
}

// negotiate is the capability and version exchange. The protocol defines no
// content for it yet, so it completes immediately.
func (a *Adapter) negotiate() error {
	return nil
}

// sendInit tells the partner we are here. Only needed when our registration
// found the partner already registered. After a busy or partner not ready
// registration the partner sends the init.
func (a *Adapter) sendInit() {
	rc := a.send(crq.Init, crq.InitRequest, 0)
	if rc != platform.Success {
		a.logger().WithField("rc", rc).Warn("Failed to send init request, waiting for the partner")
	}
}

// send puts one message on the partner's queue.
func (a *Adapter) send(v crq.Valid, t crq.MessageType, token uint64) platform.Status {
	msg := crq.Message{Valid: v, Type: t, Token: token}
	hi, lo := msg.Words()

	rc := a.hv.SendMessage(a.addr, hi, lo)
	if rc == platform.Success {
		a.messageMetrics.Tx(v, t, 1)
	}
	return rc
}

// transportError turns a hard hypercall failure mid drain into a reset.
func (a *Adapter) transportError(what string, rc platform.Status) error {
	a.scheduleReset(what + " failed")
	return fmt.Errorf("%w: %s: %w", ErrPartnerClosed, what, rc.Err())
}

// scheduleReset marks the channel unusable. The drain loop stops at the next
// entry and the reset procedure takes over.
func (a *Adapter) scheduleReset(reason string) {
	a.logger().WithField("reason", reason).Info("Scheduling adapter reset")
	a.setState(StateResetScheduled)
}
