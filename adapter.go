package vsm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwarrum-ibm/ibmvsm/config"
	"github.com/bwarrum-ibm/ibmvsm/crq"
	"github.com/bwarrum-ibm/ibmvsm/irq"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/queue"
	"github.com/bwarrum-ibm/ibmvsm/util"
	"github.com/sirupsen/logrus"
)

const (
	defaultVTermSlots  = 2
	defaultReadBuffer  = 4096
	defaultFreeRetries = 16
)

type AdapterConfig struct {
	// VTermSlots is the capacity of the vterm table.
	VTermSlots int
	// ReadBuffer is how many inbound characters a slot buffers before it
	// starts dropping them.
	ReadBuffer int
	LockMemory bool
	// FreeRetries bounds how often a busy queue deregistration is retried.
	FreeRetries int
}

func NewAdapterConfigFromConfig(c *config.C) AdapterConfig {
	ac := AdapterConfig{
		VTermSlots:  c.GetInt("vterm.slots", defaultVTermSlots),
		ReadBuffer:  c.GetInt("vterm.read_buffer", defaultReadBuffer),
		LockMemory:  c.GetBool("queue.lock_memory", false),
		FreeRetries: c.GetInt("reset.free_retries", defaultFreeRetries),
	}
	return ac.withDefaults()
}

func (ac AdapterConfig) withDefaults() AdapterConfig {
	if ac.VTermSlots < 1 {
		ac.VTermSlots = defaultVTermSlots
	}
	if ac.ReadBuffer < 1 {
		ac.ReadBuffer = defaultReadBuffer
	}
	if ac.FreeRetries < 0 {
		ac.FreeRetries = 0
	}
	return ac
}

// interruptLine is the wakeup the drain goroutine sleeps on, an *irq.Line
// outside of tests.
type interruptLine interface {
	Raise() error
	Wait() bool
	Stop() error
	Close() error
}

// Adapter is one channel to one firmware partner: the queue, the addressing
// needed to route hypercalls and the vterms multiplexed over it.
type Adapter struct {
	device platform.Device
	addr   platform.Addressing
	hv     platform.Platform
	cfg    AdapterConfig

	queue  *queue.Queue
	line   interruptLine
	vterms *VTermTable

	// state is written by the drain goroutine and the reset procedure only,
	// sessions read it.
	state          atomic.Uint32
	resetRequested atomic.Bool
	// attached is set once the drain goroutine runs, only then is there
	// anything for Close to tear down.
	attached       bool
	done           chan struct{}
	closeOnce      sync.Once

	messageMetrics *MessageMetrics
	metrics        *adapterMetrics
	l              *logrus.Logger

	// onMessage, if set, sees every entry in the order it is dispatched.
	onMessage func(crq.Message)
}

// AdapterInfo is a copy of the adapter state for display.
type AdapterInfo struct {
	Device      platform.DeviceHandle `json:"device"`
	UnitAddress uint32                `json:"unitAddress"`
	LIOBN       uint32                `json:"liobn"`
	RIOBN       uint32                `json:"riobn"`
	State       HandshakeState        `json:"state"`
	QueueSize   int                   `json:"queueSize"`
	Cursor      int                   `json:"cursor"`
	VTerms      []VTermInfo           `json:"vterms"`
}

func newAdapter(l *logrus.Logger, hv platform.Platform, dev platform.Device, cfg AdapterConfig, mm *MessageMetrics) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{
		device:         dev,
		addr:           platform.Addressing{UnitAddress: dev.UnitAddress()},
		hv:             hv,
		cfg:            cfg,
		vterms:         newVTermTable(cfg.VTermSlots),
		done:           make(chan struct{}),
		messageMetrics: mm,
		metrics:        newAdapterMetrics(),
		l:              l,
	}
}

// probe brings the adapter up: addressing, queue memory, registration with
// the partner, interrupt and the drain goroutine, in that order. Any failure
// unwinds what was set up before it.
func (a *Adapter) probe() (err error) {
	fields := map[string]any{"device": a.device.Handle()}

	a.addr, err = readAddressing(a.device, a.logger())
	if err != nil {
		a.setState(StateFailed)
		return util.NewContextualError("Failed to read adapter addressing", fields, err)
	}
	fields["unitAddress"] = a.addr.UnitAddress

	a.queue, err = queue.New(queue.Options{LockMemory: a.cfg.LockMemory})
	if err != nil {
		a.setState(StateFailed)
		return util.NewContextualError("Failed to allocate the queue", fields, fmt.Errorf("%w: %w", ErrAllocationFailed, err))
	}

	line, err := irq.New()
	if err != nil {
		a.setState(StateFailed)
		_ = a.queue.Close()
		return util.NewContextualError("Failed to create the interrupt line", fields, fmt.Errorf("%w: %w", ErrAllocationFailed, err))
	}
	a.line = line

	rc := a.hv.RegisterQueue(a.addr, a.queue.Address(), a.queue.Len())
	a.logger().WithField("rc", rc).Debug("Registered queue")
	if !rc.Soft() {
		a.setState(StateFailed)
		_ = a.line.Close()
		_ = a.queue.Close()
		fields["rc"] = rc
		return util.NewContextualError("Failed to register the queue", fields, fmt.Errorf("%w: %w", ErrRegistrationFailed, rc.Err()))
	}
	a.setState(StateQueueRegistered)

	if irc := a.hv.RequestIRQ(a.addr, a.handleInterrupt); irc != platform.Success {
		a.setState(StateFailed)
		a.freeQueue()
		_ = a.line.Close()
		_ = a.queue.Close()
		fields["rc"] = irc
		return util.NewContextualError("Failed to request the interrupt", fields, fmt.Errorf("%w: %w", ErrAllocationFailed, irc.Err()))
	}

	a.attached = true
	go a.run()

	a.enableInterrupts()
	// Anything the partner queued before interrupts were enabled would not
	// raise the line on its own.
	a.wake()

	if rc == platform.Success {
		a.sendInit()
	}

	a.logger().WithField("state", a.State()).Info("Adapter attached")
	return nil
}

// Close detaches the adapter. The drain goroutine has returned once Close
// returns.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if !a.attached {
			return
		}

		a.hv.DisableInterrupts(a.addr)
		a.hv.FreeIRQ(a.addr)

		_ = a.line.Stop()
		<-a.done

		var errs []error
		if rc := a.freeQueue(); rc != platform.Success {
			errs = append(errs, fmt.Errorf("free queue: %w", rc.Err()))
		}
		a.vterms.reset()
		if cerr := a.line.Close(); cerr != nil {
			errs = append(errs, cerr)
		}
		if cerr := a.queue.Close(); cerr != nil {
			errs = append(errs, cerr)
		}

		err = errors.Join(errs...)
		a.logger().Info("Adapter detached")
	})
	return err
}

func (a *Adapter) Handle() platform.DeviceHandle {
	return a.device.Handle()
}

func (a *Adapter) Addressing() platform.Addressing {
	return a.addr
}

func (a *Adapter) State() HandshakeState {
	return HandshakeState(a.state.Load())
}

func (a *Adapter) setState(s HandshakeState) {
	old := HandshakeState(a.state.Swap(uint32(s)))
	if old != s {
		a.logger().WithField("from", old).WithField("to", s).Debug("Adapter state changed")
	}
}

func (a *Adapter) VTerms() *VTermTable {
	return a.vterms
}

// RequestReset asks the drain goroutine to rebuild the channel. It returns
// right away, the reset runs asynchronously.
func (a *Adapter) RequestReset() {
	a.resetRequested.Store(true)
	if a.line != nil {
		a.wake()
	}
}

func (a *Adapter) Info() AdapterInfo {
	ai := AdapterInfo{
		Device:      a.device.Handle(),
		UnitAddress: a.addr.UnitAddress,
		LIOBN:       a.addr.LIOBN,
		RIOBN:       a.addr.RIOBN,
		State:       a.State(),
		VTerms:      a.vterms.List(),
	}
	if a.queue != nil {
		ai.QueueSize = a.queue.Size()
		ai.Cursor = a.queue.Cursor()
	}
	return ai
}

func (a *Adapter) logger() *logrus.Entry {
	return a.l.WithField("device", a.device.Handle()).
		WithField("unitAddress", fmt.Sprintf("%#x", a.addr.UnitAddress)).
		WithField("liobn", fmt.Sprintf("%#x", a.addr.LIOBN)).
		WithField("riobn", fmt.Sprintf("%#x", a.addr.RIOBN))
}
