package vsm

import "errors"

var (
	// ErrConfigurationMissing means a required addressing property of the
	// device is absent. Attach aborts.
	ErrConfigurationMissing = errors.New("required device property is missing")
	// ErrResourceBusy is a transient "try later" from the hypervisor.
	ErrResourceBusy = errors.New("resource busy")
	// ErrRegistrationFailed is a hard failure registering the queue.
	ErrRegistrationFailed = errors.New("queue registration failed")
	// ErrUnexpectedMessage is logged and the message discarded, it is never
	// fatal.
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrPartnerClosed means the hypervisor closed the channel. A reset
	// follows.
	ErrPartnerClosed = errors.New("partner closed the channel")
	// ErrAllocationFailed means the queue memory or the interrupt could not be
	// obtained.
	ErrAllocationFailed = errors.New("allocation failed")

	ErrIllegalTransition = errors.New("illegal vterm state transition")
	// ErrAdapterFailed is the I/O error every session operation reports while
	// its adapter is failed.
	ErrAdapterFailed   = errors.New("adapter failed")
	ErrSessionNotReady = errors.New("vterm is not ready")
	ErrSessionClosed   = errors.New("session closed")
	ErrNoFreeSlot      = errors.New("no free vterm slot")
	ErrNoSuchSlot      = errors.New("no such vterm slot")
	ErrWouldBlock      = errors.New("no data available")
	ErrUnknownIoctl    = errors.New("unknown ioctl")

	ErrUnknownDevice   = errors.New("unknown device")
	ErrAlreadyAttached = errors.New("device already attached")
)
