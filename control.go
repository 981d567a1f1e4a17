package vsm

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/sirupsen/logrus"
)

// Every interaction here returns copies, callers never get to touch adapter
// internals directly.

type Control struct {
	registry     *Registry
	l            *logrus.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	sshStart     func()
	statsStart   func(context.Context)
	buildVersion string
}

// Start runs the background services, this is a nonblocking call. To block use Control.ShutdownBlock()
func (c *Control) Start() {
	// Call all the delayed funcs that waited patiently for the adapters to attach.
	if c.sshStart != nil {
		go c.sshStart()
	}
	if c.statsStart != nil {
		go c.statsStart(c.ctx)
	}
}

func (c *Control) Context() context.Context {
	return c.ctx
}

// Stop detaches every adapter, returns after the shutdown is complete
func (c *Control) Stop() {
	c.cancel()

	if err := c.registry.RemoveAll(); err != nil {
		c.l.WithError(err).Error("Detaching adapters failed")
	}
	c.l.Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	sig := rawSig.String()
	c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	c.Stop()
}

func (c *Control) Registry() *Registry {
	return c.registry
}

// ListAdapters returns a copy of every attached adapter's state
func (c *Control) ListAdapters() []AdapterInfo {
	adapters := c.registry.List()
	out := make([]AdapterInfo, len(adapters))
	for i, a := range adapters {
		out[i] = a.Info()
	}
	return out
}

// GetAdapter returns a copy of a single adapter's state, or nil if not attached
func (c *Control) GetAdapter(h platform.DeviceHandle) *AdapterInfo {
	a, ok := c.registry.Get(h)
	if !ok {
		return nil
	}
	ai := a.Info()
	return &ai
}

// ResetAdapter schedules a reset of the adapter's channel
func (c *Control) ResetAdapter(h platform.DeviceHandle) error {
	a, ok := c.registry.Get(h)
	if !ok {
		return ErrUnknownDevice
	}
	a.RequestReset()
	return nil
}

// OpenSession attaches a session to the vterm with token on device h
func (c *Control) OpenSession(h platform.DeviceHandle, token uint64) (*Session, error) {
	a, ok := c.registry.Get(h)
	if !ok {
		return nil, ErrUnknownDevice
	}
	return a.Open(token)
}
