package vsm

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwarrum-ibm/ibmvsm/crq"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/platform/sim"
	"github.com/bwarrum-ibm/ibmvsm/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testUnit = 0x30000000

func newTestAdapter(t *testing.T, fw *sim.Firmware, cfg AdapterConfig) *Adapter {
	t.Helper()
	dev := sim.NewDevice("vsm0", testUnit, 0x10000000, 0x10000001)
	a := newAdapter(test.NewLogger(), fw, dev, cfg, newMessageMetrics())
	t.Cleanup(func() {
		_ = a.Close()
	})
	return a
}

// newReadyAdapter attaches an adapter to a partner that answers the handshake.
func newReadyAdapter(t *testing.T, cfg AdapterConfig) (*sim.Firmware, *Adapter) {
	t.Helper()
	fw := sim.New(test.NewLogger())
	fw.AutoHandshake = true
	fw.AutoOpen = true

	a := newTestAdapter(t, fw, cfg)
	require.NoError(t, a.probe())
	waitState(t, a, StateReady)
	return fw, a
}

func waitState(t *testing.T, a *Adapter, s HandshakeState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return a.State() == s
	}, time.Second, time.Millisecond, "adapter never reached %s, it is %s", s, a.State())
}

// messageLog records what the adapter dispatched, in order.
type messageLog struct {
	sync.Mutex
	msgs []crq.Message
}

func (ml *messageLog) add(m crq.Message) {
	ml.Lock()
	ml.msgs = append(ml.msgs, m)
	ml.Unlock()
}

func (ml *messageLog) get() []crq.Message {
	ml.Lock()
	defer ml.Unlock()
	return append([]crq.Message(nil), ml.msgs...)
}

func TestAdapter_Probe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fw := sim.New(test.NewLogger())
	a := newTestAdapter(t, fw, AdapterConfig{})
	require.NoError(t, a.probe())

	assert.Equal(t, platform.Addressing{UnitAddress: testUnit, LIOBN: 0x10000000, RIOBN: 0x10000001}, a.Addressing())
	assert.Equal(t, StateQueueRegistered, a.State())
	assert.True(t, fw.Registered(testUnit))
	assert.True(t, fw.HasIRQ(testUnit))
	assert.Equal(t, 2, a.VTerms().Len())

	// Registration found the partner waiting, so we sent the init
	assert.Equal(t, []crq.Message{{Valid: crq.Init, Type: crq.InitRequest}}, fw.Sent(testUnit))

	ai := a.Info()
	assert.Equal(t, platform.DeviceHandle("vsm0"), ai.Device)
	assert.Equal(t, StateQueueRegistered, ai.State)
	assert.Equal(t, a.queue.Size(), ai.QueueSize)
	assert.Len(t, ai.VTerms, 2)

	require.NoError(t, a.Close())
	assert.False(t, fw.Registered(testUnit))
	assert.False(t, fw.HasIRQ(testUnit))
	assert.Equal(t, 1, fw.Frees(testUnit))

	// Closing twice is harmless
	require.NoError(t, a.Close())
	assert.Equal(t, 1, fw.Frees(testUnit))
}

func TestAdapter_HandshakePartnerNotReady(t *testing.T) {
	fw := sim.New(test.NewLogger())
	fw.SetRegisterStatus(testUnit, platform.PartnerNotReady)

	a := newTestAdapter(t, fw, AdapterConfig{})
	require.NoError(t, a.probe())
	assert.Equal(t, StateQueueRegistered, a.State())
	assert.Empty(t, fw.Sent(testUnit), "nothing is sent while the partner is not there")

	// The partner shows up and initializes
	require.NoError(t, fw.Enqueue(testUnit, crq.Message{Valid: crq.Init, Type: crq.InitRequest}))
	require.Eventually(t, func() bool {
		return len(fw.Sent(testUnit)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []crq.Message{{Valid: crq.Init, Type: crq.InitComplete}}, fw.Sent(testUnit))
	assert.Equal(t, StateQueueRegistered, a.State())

	require.NoError(t, fw.Enqueue(testUnit, crq.Message{Valid: crq.Init, Type: crq.InitComplete}))
	waitState(t, a, StateReady)
}

func TestAdapter_HandshakeBusyRegistration(t *testing.T) {
	fw := sim.New(test.NewLogger())
	fw.SetRegisterStatus(testUnit, platform.Busy)

	a := newTestAdapter(t, fw, AdapterConfig{})
	require.NoError(t, a.probe())
	assert.Equal(t, StateQueueRegistered, a.State())
	assert.True(t, fw.Registered(testUnit))
	assert.Equal(t, 1, fw.Registrations(testUnit))
	assert.Empty(t, fw.Sent(testUnit), "busy is not retried with an init request")

	require.NoError(t, fw.Enqueue(testUnit, crq.Message{Valid: crq.Init, Type: crq.InitRequest}))
	require.Eventually(t, func() bool {
		return len(fw.Sent(testUnit)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []crq.Message{{Valid: crq.Init, Type: crq.InitComplete}}, fw.Sent(testUnit))

	require.NoError(t, fw.Enqueue(testUnit, crq.Message{Valid: crq.Init, Type: crq.InitComplete}))
	waitState(t, a, StateReady)
}

func TestAdapter_HandshakeAuto(t *testing.T) {
	fw, a := newReadyAdapter(t, AdapterConfig{})
	assert.Equal(t, []crq.Message{{Valid: crq.Init, Type: crq.InitRequest}}, fw.Sent(testUnit))

	// A second init complete is out of order and discarded
	d0 := a.metrics.discarded.Count()
	require.NoError(t, fw.Enqueue(testUnit, crq.Message{Valid: crq.Init, Type: crq.InitComplete}))
	require.Eventually(t, func() bool {
		return a.metrics.discarded.Count() == d0+1
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateReady, a.State())
}

func TestAdapter_PartnerRestart(t *testing.T) {
	fw, a := newReadyAdapter(t, AdapterConfig{})
	require.NoError(t, fw.OfferVTerm(testUnit, 5))
	require.Eventually(t, func() bool {
		return slotState(t, a.VTerms(), 0) == VTermBound
	}, time.Second, time.Millisecond)

	// An init while ready means the partner started over
	fw.AutoHandshake = false
	require.NoError(t, fw.Enqueue(testUnit, crq.Message{Valid: crq.Init, Type: crq.InitRequest}))
	require.Eventually(t, func() bool {
		return len(fw.Sent(testUnit)) == 2
	}, time.Second, time.Millisecond)

	assert.Equal(t, crq.Message{Valid: crq.Init, Type: crq.InitComplete}, fw.Sent(testUnit)[1])
	assert.Equal(t, StateQueueRegistered, a.State())
	assert.Equal(t, VTermFree, slotState(t, a.VTerms(), 0))
}

func TestAdapter_RegistrationFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fw := sim.New(test.NewLogger())
	fw.SetRegisterStatus(testUnit, platform.Hardware)

	a := newTestAdapter(t, fw, AdapterConfig{})
	err := a.probe()
	require.ErrorIs(t, err, ErrRegistrationFailed)
	require.ErrorIs(t, err, platform.ErrHardware)

	assert.Equal(t, StateFailed, a.State())
	assert.False(t, fw.Registered(testUnit))
	assert.False(t, fw.HasIRQ(testUnit))
	assert.Empty(t, fw.Sent(testUnit))
	assert.NoError(t, a.Close())
}

func TestAdapter_IRQFailure(t *testing.T) {
	fw := sim.New(test.NewLogger())
	fw.SetIRQStatus(testUnit, platform.Busy)

	a := newTestAdapter(t, fw, AdapterConfig{})
	err := a.probe()
	require.ErrorIs(t, err, ErrAllocationFailed)

	assert.Equal(t, StateFailed, a.State())
	assert.False(t, fw.Registered(testUnit), "the queue must be deregistered again")
	assert.Equal(t, 1, fw.Frees(testUnit))
}

func TestAdapter_MissingAddressing(t *testing.T) {
	fw := sim.New(test.NewLogger())
	dev := &platform.Node{Name: "broken", Unit: testUnit, Properties: map[string][]byte{}}
	a := newAdapter(test.NewLogger(), fw, dev, AdapterConfig{}, newMessageMetrics())

	err := a.probe()
	require.ErrorIs(t, err, ErrConfigurationMissing)
	assert.Equal(t, StateFailed, a.State())
	assert.Zero(t, fw.Registrations(testUnit))
}

func TestAdapter_BatchDrainedInOnePass(t *testing.T) {
	fw := sim.New(test.NewLogger())
	fw.SetRegisterStatus(testUnit, platform.PartnerNotReady)

	a := newTestAdapter(t, fw, AdapterConfig{})
	passes := a.metrics.drainPasses.Count
	p0 := passes()
	require.NoError(t, a.probe())

	// The probe raises the line once to pick up anything queued early
	require.Eventually(t, func() bool {
		return passes() == p0+1 && fw.InterruptsEnabled(testUnit)
	}, time.Second, time.Millisecond)

	batch := make([]crq.Message, 17)
	for i := range batch {
		batch[i] = crq.Message{Valid: crq.Init, Type: crq.InitRequest}
	}
	require.NoError(t, fw.Publish(testUnit, batch...))

	i0 := fw.Interrupts(testUnit)
	require.True(t, fw.Interrupt(testUnit))

	require.Eventually(t, func() bool {
		return len(fw.Sent(testUnit)) == 17 && fw.InterruptsEnabled(testUnit) && passes() == p0+2
	}, time.Second, time.Millisecond)

	assert.Equal(t, i0+1, fw.Interrupts(testUnit))
	assert.Equal(t, a.queue.Size(), fw.FreeSlots(testUnit), "every slot must be handed back")
	assert.Equal(t, 17, a.queue.Cursor())
	assert.Equal(t, StateQueueRegistered, a.State())
}

func TestAdapter_OrderAndNoDuplicates(t *testing.T) {
	fw := sim.New(test.NewLogger())
	fw.SetRegisterStatus(testUnit, platform.PartnerNotReady)

	var ml messageLog
	a := newTestAdapter(t, fw, AdapterConfig{})
	a.onMessage = ml.add
	require.NoError(t, a.probe())

	// More entries than the queue holds, so the producer laps the consumer
	const total = 1000
	for i := uint64(0); i < total; i++ {
		msg := crq.Message{Valid: crq.Command, Type: crq.VTermDataReady, Token: i}
		for {
			err := fw.Enqueue(testUnit, msg)
			if err == nil {
				break
			}
			time.Sleep(50 * time.Microsecond)
		}
	}

	require.Eventually(t, func() bool {
		return len(ml.get()) == total
	}, 5*time.Second, time.Millisecond)

	got := ml.get()
	for i, msg := range got {
		require.Equal(t, uint64(i), msg.Token, "entry %d out of order", i)
	}
}

func TestAdapter_RaisePicksUpSilentEntries(t *testing.T) {
	fw := sim.New(test.NewLogger())
	fw.SetRegisterStatus(testUnit, platform.PartnerNotReady)

	var ml messageLog
	a := newTestAdapter(t, fw, AdapterConfig{})
	a.onMessage = ml.add
	require.NoError(t, a.probe())

	// An entry that landed while interrupts were off never signals on its
	// own, any later wake up finds it.
	require.NoError(t, fw.Publish(testUnit, crq.Message{Valid: crq.Init, Type: crq.InitRequest}))
	require.NoError(t, a.line.Raise())
	require.Eventually(t, func() bool {
		return len(ml.get()) == 1
	}, time.Second, time.Millisecond)
	assert.True(t, fw.InterruptsEnabled(testUnit))
}

// deadLine is an interrupt line that can no longer be raised.
type deadLine struct{}

func (deadLine) Raise() error { return errors.New("eventfd counter overflow") }
func (deadLine) Wait() bool   { return false }
func (deadLine) Stop() error  { return nil }
func (deadLine) Close() error { return nil }

func TestAdapter_WakeFailureIsLogged(t *testing.T) {
	l, buf := test.NewBufferLogger()
	fw := sim.New(test.NewLogger())
	dev := sim.NewDevice("vsm0", testUnit, 0x10000000, 0x10000001)
	a := newAdapter(l, fw, dev, AdapterConfig{}, newMessageMetrics())
	a.line = deadLine{}

	irqs := a.metrics.interrupts.Count()
	a.handleInterrupt()
	assert.Equal(t, irqs+1, a.metrics.interrupts.Count())
	assert.False(t, fw.InterruptsEnabled(testUnit))
	assert.Contains(t, buf.String(), "Failed to wake the drain loop")
	assert.Contains(t, buf.String(), "eventfd counter overflow")

	buf.Reset()
	a.RequestReset()
	assert.True(t, a.resetRequested.Load())
	assert.Contains(t, buf.String(), "Failed to wake the drain loop")
}

func TestAdapter_UnexpectedMessages(t *testing.T) {
	fw := sim.New(test.NewLogger())
	fw.SetRegisterStatus(testUnit, platform.PartnerNotReady)

	a := newTestAdapter(t, fw, AdapterConfig{})
	require.NoError(t, a.probe())

	d0 := a.metrics.discarded.Count()
	require.NoError(t, fw.Enqueue(testUnit,
		// Payload before the handshake completed
		crq.Message{Valid: crq.Command, Type: crq.VTermAvailable, Token: 1},
		// Unknown init subtype
		crq.Message{Valid: crq.Init, Type: 0x7f},
		// Unknown tag
		crq.Message{Valid: 0x42, Type: 0x01},
	))

	require.Eventually(t, func() bool {
		return a.metrics.discarded.Count() == d0+3
	}, time.Second, time.Millisecond)

	assert.Equal(t, StateQueueRegistered, a.State())
	assert.Equal(t, VTermFree, slotState(t, a.VTerms(), 0))
	assert.Equal(t, a.queue.Size(), fw.FreeSlots(testUnit))
}

func TestAdapterConfig_Defaults(t *testing.T) {
	ac := AdapterConfig{FreeRetries: -1}.withDefaults()
	assert.Equal(t, AdapterConfig{
		VTermSlots:  defaultVTermSlots,
		ReadBuffer:  defaultReadBuffer,
		FreeRetries: 0,
	}, ac)

	ac = AdapterConfig{VTermSlots: 8, ReadBuffer: 16, FreeRetries: 3}.withDefaults()
	assert.Equal(t, 8, ac.VTermSlots)
	assert.Equal(t, 16, ac.ReadBuffer)
	assert.Equal(t, 3, ac.FreeRetries)
}
