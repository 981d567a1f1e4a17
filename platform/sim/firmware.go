// Package sim is an in-process firmware partner. It implements
// [platform.Platform] on top of the queue page the driver registers, so the
// whole transport can be exercised without a hypervisor.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bwarrum-ibm/ibmvsm/crq"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/queue"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownUnit   = errors.New("unknown unit address")
	ErrNotRegistered = errors.New("no queue registered for unit")
)

type vterm struct {
	open bool
	// rx holds characters the partner wants the driver to read.
	rx []byte
	// tx holds characters the driver wrote.
	tx []byte
}

type unit struct {
	addr     platform.Addressing
	producer *queue.Producer

	handler    func()
	irqEnabled bool

	registerStatus platform.Status
	freeBusy       int
	freeStatus     platform.Status
	sendStatus     platform.Status
	openStatus     platform.Status
	putStatus      platform.Status
	irqStatus      platform.Status

	registrations int
	frees         int
	interrupts    int
	sent          []crq.Message
	vterms        map[uint64]*vterm
}

// Firmware is the simulated partner. Every unit address is its own partner
// with its own queue.
type Firmware struct {
	sync.Mutex
	units map[uint32]*unit

	// AutoHandshake answers the driver's init request with init complete.
	AutoHandshake bool
	// AutoOpen confirms a vterm open request right away.
	AutoOpen bool

	l *logrus.Logger
}

func New(l *logrus.Logger) *Firmware {
	return &Firmware{
		units: make(map[uint32]*unit),
		l:     l,
	}
}

// NewDevice returns a device node the way firmware would describe a virtual
// serial multiplex adapter: a DMA window of liobn, a 2 cell address and a 2
// cell size, followed by the remote window.
func NewDevice(name string, unitAddress, liobn, riobn uint32) *platform.Node {
	return &platform.Node{
		Name: name,
		Unit: unitAddress,
		Properties: map[string][]byte{
			"ibm,my-dma-window":      platform.Cells(liobn, 0, 0, 0, 0x10000000, riobn, 0, 0, 0, 0x10000000),
			"ibm,#dma-address-cells": platform.Cells(2),
			"ibm,#dma-size-cells":    platform.Cells(2),
		},
	}
}

func (f *Firmware) unitLocked(ua uint32) *unit {
	u, ok := f.units[ua]
	if !ok {
		u = &unit{vterms: make(map[uint64]*vterm)}
		f.units[ua] = u
	}
	return u
}

func (f *Firmware) SetRegisterStatus(ua uint32, s platform.Status) {
	f.Lock()
	defer f.Unlock()
	f.unitLocked(ua).registerStatus = s
}

// SetFreeStatus makes the next busy calls to FreeQueue report busy before
// answering with s.
func (f *Firmware) SetFreeStatus(ua uint32, busy int, s platform.Status) {
	f.Lock()
	defer f.Unlock()
	u := f.unitLocked(ua)
	u.freeBusy = busy
	u.freeStatus = s
}

func (f *Firmware) SetSendStatus(ua uint32, s platform.Status) {
	f.Lock()
	defer f.Unlock()
	f.unitLocked(ua).sendStatus = s
}

func (f *Firmware) SetOpenStatus(ua uint32, s platform.Status) {
	f.Lock()
	defer f.Unlock()
	f.unitLocked(ua).openStatus = s
}

func (f *Firmware) SetPutStatus(ua uint32, s platform.Status) {
	f.Lock()
	defer f.Unlock()
	f.unitLocked(ua).putStatus = s
}

func (f *Firmware) SetIRQStatus(ua uint32, s platform.Status) {
	f.Lock()
	defer f.Unlock()
	f.unitLocked(ua).irqStatus = s
}

// Publish writes msg into the driver's queue without signalling it.
func (f *Firmware) Publish(ua uint32, msgs ...crq.Message) error {
	f.Lock()
	defer f.Unlock()

	u, ok := f.units[ua]
	if !ok {
		return ErrUnknownUnit
	}
	if u.producer == nil {
		return ErrNotRegistered
	}

	for _, msg := range msgs {
		if err := u.producer.Publish(msg); err != nil {
			return fmt.Errorf("publish %s: %w", msg.String(), err)
		}
	}
	return nil
}

// Interrupt fires the unit's interrupt if delivery is enabled. It reports
// whether the handler ran.
func (f *Firmware) Interrupt(ua uint32) bool {
	f.Lock()
	u, ok := f.units[ua]
	if !ok || u.handler == nil || !u.irqEnabled {
		f.Unlock()
		return false
	}
	u.interrupts++
	h := u.handler
	f.Unlock()

	// The handler calls back into the controller, never hold the lock here.
	h()
	return true
}

// Enqueue publishes all messages and then signals the driver once.
func (f *Firmware) Enqueue(ua uint32, msgs ...crq.Message) error {
	if err := f.Publish(ua, msgs...); err != nil {
		return err
	}
	f.Interrupt(ua)
	return nil
}

// OfferVTerm announces a vterm token to the driver.
func (f *Firmware) OfferVTerm(ua uint32, token uint64) error {
	f.Lock()
	u := f.unitLocked(ua)
	if _, ok := u.vterms[token]; !ok {
		u.vterms[token] = &vterm{}
	}
	f.Unlock()

	return f.Enqueue(ua, crq.Message{Valid: crq.Command, Type: crq.VTermAvailable, Token: token})
}

// Type queues characters for the driver to read and tells it about them.
func (f *Firmware) Type(ua uint32, token uint64, data []byte) error {
	f.Lock()
	u := f.unitLocked(ua)
	vt, ok := u.vterms[token]
	if !ok {
		vt = &vterm{}
		u.vterms[token] = vt
	}
	vt.rx = append(vt.rx, data...)
	f.Unlock()

	return f.Enqueue(ua, crq.Message{Valid: crq.Command, Type: crq.VTermDataReady, Token: token})
}

// Hangup tells the driver the partner is gone.
func (f *Firmware) Hangup(ua uint32) error {
	return f.Enqueue(ua, crq.Message{Valid: crq.Transport, Type: crq.PartnerFailed})
}

// Sent returns a copy of every message the driver sent to the unit.
func (f *Firmware) Sent(ua uint32) []crq.Message {
	f.Lock()
	defer f.Unlock()

	u, ok := f.units[ua]
	if !ok {
		return nil
	}
	out := make([]crq.Message, len(u.sent))
	copy(out, u.sent)
	return out
}

// Written returns a copy of the characters the driver put to a vterm.
func (f *Firmware) Written(ua uint32, token uint64) []byte {
	f.Lock()
	defer f.Unlock()

	u, ok := f.units[ua]
	if !ok {
		return nil
	}
	vt, ok := u.vterms[token]
	if !ok {
		return nil
	}
	out := make([]byte, len(vt.tx))
	copy(out, vt.tx)
	return out
}

func (f *Firmware) VTermOpen(ua uint32, token uint64) bool {
	f.Lock()
	defer f.Unlock()

	u, ok := f.units[ua]
	if !ok {
		return false
	}
	vt, ok := u.vterms[token]
	return ok && vt.open
}

// Registered reports whether the driver currently has a queue registered.
func (f *Firmware) Registered(ua uint32) bool {
	f.Lock()
	defer f.Unlock()
	u, ok := f.units[ua]
	return ok && u.producer != nil
}

func (f *Firmware) Registrations(ua uint32) int {
	f.Lock()
	defer f.Unlock()
	if u, ok := f.units[ua]; ok {
		return u.registrations
	}
	return 0
}

func (f *Firmware) Frees(ua uint32) int {
	f.Lock()
	defer f.Unlock()
	if u, ok := f.units[ua]; ok {
		return u.frees
	}
	return 0
}

func (f *Firmware) Interrupts(ua uint32) int {
	f.Lock()
	defer f.Unlock()
	if u, ok := f.units[ua]; ok {
		return u.interrupts
	}
	return 0
}

func (f *Firmware) HasIRQ(ua uint32) bool {
	f.Lock()
	defer f.Unlock()
	u, ok := f.units[ua]
	return ok && u.handler != nil
}

func (f *Firmware) InterruptsEnabled(ua uint32) bool {
	f.Lock()
	defer f.Unlock()
	u, ok := f.units[ua]
	return ok && u.irqEnabled
}

// FreeSlots returns how many entries the partner can still publish.
func (f *Firmware) FreeSlots(ua uint32) int {
	f.Lock()
	defer f.Unlock()
	u, ok := f.units[ua]
	if !ok || u.producer == nil {
		return 0
	}
	return u.producer.Free()
}
