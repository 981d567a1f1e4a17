package vsm

import (
	"fmt"

	"github.com/bwarrum-ibm/ibmvsm/platform"
)

// reset rebuilds the channel: deregister, wipe the queue, register again.
// Busy or partner not ready are as good as success, the partner then sends
// the init. A hard failure leaves the adapter failed until the next requested
// reset, nothing retries on its own.
// Interrupts are disabled on entry and enabled again only on success.
func (a *Adapter) reset() error {
	a.metrics.resets.Inc(1)
	a.vterms.reset()

	if rc := a.freeQueue(); rc != platform.Success {
		a.setState(StateFailed)
		a.metrics.resetFailures.Inc(1)
		return fmt.Errorf("%w: free queue: %w", ErrRegistrationFailed, rc.Err())
	}

	a.queue.Reinitialize()

	rc := a.hv.RegisterQueue(a.addr, a.queue.Address(), a.queue.Len())
	if !rc.Soft() {
		a.setState(StateFailed)
		a.metrics.resetFailures.Inc(1)
		return fmt.Errorf("%w: register queue: %w", ErrRegistrationFailed, rc.Err())
	}

	a.setState(StateQueueRegistered)
	a.logger().WithField("rc", rc).Info("Adapter reset complete")

	a.enableInterrupts()
	if rc == platform.Success {
		a.sendInit()
	}
	// The partner may have queued entries before interrupts came back
	a.wake()
	return nil
}

// freeQueue deregisters the queue, retrying a bounded number of times while
// the hypervisor reports busy.
func (a *Adapter) freeQueue() platform.Status {
	rc := a.hv.FreeQueue(a.addr)
	for i := 0; rc == platform.Busy && i < a.cfg.FreeRetries; i++ {
		rc = a.hv.FreeQueue(a.addr)
	}
	if rc != platform.Success {
		a.logger().WithField("rc", rc).Error("Failed to free the queue")
	}
	return rc
}
