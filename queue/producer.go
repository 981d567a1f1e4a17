package queue

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/bwarrum-ibm/ibmvsm/crq"
)

var ErrQueueFull = errors.New("queue is full")

// Producer is the partner side of a queue page. Real firmware does not need
// it, it exists for partners that live in this process.
type Producer struct {
	sync.Mutex
	mem  []byte
	size int
	next int
}

// ProducerAt attaches a producer to a page previously returned by
// [Queue.Address]. The page has to stay mapped while the producer is used.
func ProducerAt(address uintptr, length int) *Producer {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(address)), length)
	return newProducer(mem)
}

func newProducer(mem []byte) *Producer {
	return &Producer{mem: mem, size: len(mem) / crq.Len}
}

// Publish writes msg into the next slot. The payload is written first and the
// tag word last, so a consumer that observes the tag also observes the payload.
func (p *Producer) Publish(msg crq.Message) error {
	p.Lock()
	defer p.Unlock()

	if _, tag := loadTagWord(p.mem, p.next); tag != crq.Free {
		return ErrQueueFull
	}

	var raw [crq.Len]byte
	_, _ = msg.Encode(raw[:])

	off := p.next * crq.Len
	copy(p.mem[off+4:off+crq.Len], raw[4:])
	atomic.StoreUint32(tagWord(p.mem, p.next), binary.NativeEndian.Uint32(raw[0:4]))

	p.next = (p.next + 1) % p.size
	return nil
}

// Free returns how many slots, starting at the producer cursor, are free.
func (p *Producer) Free() int {
	p.Lock()
	defer p.Unlock()

	n := 0
	for i := 0; i < p.size; i++ {
		if _, tag := loadTagWord(p.mem, (p.next+i)%p.size); tag != crq.Free {
			break
		}
		n++
	}
	return n
}

// Rewind moves the producer cursor back to the first slot, matching a
// consumer that reinitialized its queue.
func (p *Producer) Rewind() {
	p.Lock()
	defer p.Unlock()
	p.next = 0
}
