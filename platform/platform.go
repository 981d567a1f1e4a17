// Package platform describes what the driver consumes from the machine it runs
// on: hypercalls to the firmware partner, an interrupt controller and the
// device nodes handed over at attach time.
package platform

// Hypercall opcodes, as defined by the platform architecture.
const (
	HRegCRQ        = 0xFC
	HFreeCRQ       = 0x100
	HVioSignal     = 0x104
	HSendCRQ       = 0x108
	HOpenVTermLP   = 0x3D4
	HGetTermCharLP = 0x3D8
	HPutTermCharLP = 0x3DC
	HCloseVTermLP  = 0x3E0
)

// MaxTermChars is the number of characters a single get or put term char
// hypercall can move: two doublewords.
const MaxTermChars = 16

// Addressing routes a hypercall to one partner: the unit address of the
// virtual device and the local and remote I/O bus numbers of its DMA window.
type Addressing struct {
	UnitAddress uint32
	LIOBN       uint32
	RIOBN       uint32
}

// Hypervisor is the hypercall interface used to talk to the firmware partner.
type Hypervisor interface {
	// RegisterQueue hands the queue page at token to the partner.
	RegisterQueue(addr Addressing, token uintptr, size int) Status
	// FreeQueue takes the queue page back.
	FreeQueue(addr Addressing) Status
	// SendMessage puts one 16 byte message, split in two doublewords, on the
	// partner's queue.
	SendMessage(addr Addressing, hi, lo uint64) Status

	OpenVTerm(addr Addressing, token uint64) Status
	CloseVTerm(addr Addressing, token uint64) Status
	// PutTermChar sends at most MaxTermChars bytes to the vterm.
	PutTermChar(addr Addressing, token uint64, data []byte) Status
	// GetTermChar reads at most MaxTermChars pending bytes from the vterm.
	GetTermChar(addr Addressing, token uint64, buf []byte) (int, Status)
}

// InterruptController delivers the partner's "queue has entries" signal.
// The handler runs in interrupt context and must not do more than disable
// further delivery and wake someone up.
type InterruptController interface {
	RequestIRQ(addr Addressing, handler func()) Status
	FreeIRQ(addr Addressing)
	EnableInterrupts(addr Addressing) Status
	DisableInterrupts(addr Addressing) Status
}

type Platform interface {
	Hypervisor
	InterruptController
}
