package sim

import (
	"github.com/bwarrum-ibm/ibmvsm/crq"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/queue"
)

//********************************************************************************************************************//
// Below this is the hypercall and interrupt controller side the driver talks to
//********************************************************************************************************************//

func (f *Firmware) RegisterQueue(addr platform.Addressing, token uintptr, size int) platform.Status {
	f.Lock()
	defer f.Unlock()

	u := f.unitLocked(addr.UnitAddress)
	if u.producer != nil {
		return platform.Parameter
	}

	s := u.registerStatus
	f.l.WithField("unitAddress", addr.UnitAddress).WithField("rc", s).Debug("H_REG_CRQ")
	if !s.Soft() {
		return s
	}

	u.addr = addr
	u.producer = queue.ProducerAt(token, size)
	u.registrations++
	return s
}

func (f *Firmware) FreeQueue(addr platform.Addressing) platform.Status {
	f.Lock()
	defer f.Unlock()

	u := f.unitLocked(addr.UnitAddress)
	if u.freeBusy > 0 {
		u.freeBusy--
		return platform.Busy
	}

	s := u.freeStatus
	f.l.WithField("unitAddress", addr.UnitAddress).WithField("rc", s).Debug("H_FREE_CRQ")
	if s != platform.Success {
		return s
	}

	if u.producer != nil {
		u.frees++
	}
	u.producer = nil
	return platform.Success
}

func (f *Firmware) SendMessage(addr platform.Addressing, hi, lo uint64) platform.Status {
	msg := crq.FromWords(hi, lo)

	f.Lock()
	u := f.unitLocked(addr.UnitAddress)
	s := u.sendStatus
	if s == platform.Success && u.producer == nil {
		s = platform.Closed
	}
	f.l.WithField("unitAddress", addr.UnitAddress).WithField("message", msg.String()).WithField("rc", s).Debug("H_SEND_CRQ")
	if s != platform.Success {
		f.Unlock()
		return s
	}
	u.sent = append(u.sent, msg)
	autoReply := f.AutoHandshake && msg.Valid == crq.Init && msg.Type == crq.InitRequest
	f.Unlock()

	if autoReply {
		_ = f.Enqueue(addr.UnitAddress, crq.Message{Valid: crq.Init, Type: crq.InitComplete})
	}
	return platform.Success
}

func (f *Firmware) OpenVTerm(addr platform.Addressing, token uint64) platform.Status {
	f.Lock()
	u := f.unitLocked(addr.UnitAddress)
	if s := u.openStatus; s != platform.Success {
		f.Unlock()
		return s
	}
	vt, ok := u.vterms[token]
	if !ok {
		vt = &vterm{}
		u.vterms[token] = vt
	}
	vt.open = true
	autoOpen := f.AutoOpen
	f.Unlock()

	if autoOpen {
		_ = f.Enqueue(addr.UnitAddress, crq.Message{Valid: crq.Command, Type: crq.VTermOpenResponse, Token: token})
	}
	return platform.Success
}

func (f *Firmware) CloseVTerm(addr platform.Addressing, token uint64) platform.Status {
	f.Lock()
	defer f.Unlock()

	u := f.unitLocked(addr.UnitAddress)
	vt, ok := u.vterms[token]
	if !ok || !vt.open {
		return platform.Closed
	}
	vt.open = false
	return platform.Success
}

func (f *Firmware) PutTermChar(addr platform.Addressing, token uint64, data []byte) platform.Status {
	f.Lock()
	defer f.Unlock()

	if len(data) > platform.MaxTermChars {
		return platform.Parameter
	}

	u := f.unitLocked(addr.UnitAddress)
	if s := u.putStatus; s != platform.Success {
		return s
	}
	vt, ok := u.vterms[token]
	if !ok || !vt.open {
		return platform.Closed
	}
	vt.tx = append(vt.tx, data...)
	return platform.Success
}

func (f *Firmware) GetTermChar(addr platform.Addressing, token uint64, buf []byte) (int, platform.Status) {
	f.Lock()
	defer f.Unlock()

	u := f.unitLocked(addr.UnitAddress)
	vt, ok := u.vterms[token]
	if !ok {
		return 0, platform.Closed
	}

	n := min(len(buf), platform.MaxTermChars, len(vt.rx))
	copy(buf, vt.rx[:n])
	vt.rx = vt.rx[n:]
	return n, platform.Success
}

func (f *Firmware) RequestIRQ(addr platform.Addressing, handler func()) platform.Status {
	f.Lock()
	defer f.Unlock()

	u := f.unitLocked(addr.UnitAddress)
	if s := u.irqStatus; s != platform.Success {
		return s
	}
	if u.handler != nil {
		return platform.Busy
	}
	u.handler = handler
	return platform.Success
}

func (f *Firmware) FreeIRQ(addr platform.Addressing) {
	f.Lock()
	defer f.Unlock()

	u := f.unitLocked(addr.UnitAddress)
	u.handler = nil
	u.irqEnabled = false
}

func (f *Firmware) EnableInterrupts(addr platform.Addressing) platform.Status {
	f.Lock()
	defer f.Unlock()
	f.unitLocked(addr.UnitAddress).irqEnabled = true
	return platform.Success
}

func (f *Firmware) DisableInterrupts(addr platform.Addressing) platform.Status {
	f.Lock()
	defer f.Unlock()
	f.unitLocked(addr.UnitAddress).irqEnabled = false
	return platform.Success
}

var _ platform.Platform = (*Firmware)(nil)
