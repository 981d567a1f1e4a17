package queue

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/bwarrum-ibm/ibmvsm/crq"
	"golang.org/x/sys/unix"
)

// Entry is a message taken off the queue together with the slot it came from.
// The slot stays owned by the consumer until it is passed to [Queue.Clear].
type Entry struct {
	Index int
	crq.Message
}

type Options struct {
	// LockMemory pins the page with mlock so it is never paged out while the
	// partner holds its address.
	LockMemory bool
}

// Queue is one page of entries and the consumer cursor into it. Only the
// consumer moves the cursor, the partner only ever writes entries.
type Queue struct {
	// buf is the page shared with the partner.
	buf  []byte
	size int

	// mu is held only while inspecting the slot at the cursor.
	mu     sync.Mutex
	cur    int
	mapped bool
	locked bool
}

// New maps a single page for the queue. The page address is stable for the
// lifetime of the Queue, which is what the partner is given at registration.
func New(opts Options) (_ *Queue, err error) {
	pageSize := os.Getpagesize()
	size, err := entriesFor(pageSize)
	if err != nil {
		return nil, err
	}

	q := Queue{size: size}

	// Clean up a partially initialized queue when something fails.
	defer func() {
		if err != nil {
			_ = q.Close()
		}
	}()

	// The page is allocated outside of the Go heap so the garbage collector
	// never moves or frees memory the partner is still writing to.
	q.buf, err = unix.Mmap(-1, 0, pageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("allocate queue page: %w", err)
	}
	q.mapped = true

	if opts.LockMemory {
		if err = unix.Mlock(q.buf); err != nil {
			return nil, fmt.Errorf("lock queue page: %w", err)
		}
		q.locked = true
	}

	return &q, nil
}

// newQueue builds a queue over caller owned memory, for tests.
func newQueue(mem []byte) *Queue {
	size, err := entriesFor(len(mem))
	if err != nil {
		panic(err)
	}
	return &Queue{buf: mem, size: size}
}

// Size returns the number of entries in the queue.
func (q *Queue) Size() int {
	return q.size
}

// Len returns the number of bytes backing the queue.
func (q *Queue) Len() int {
	return len(q.buf)
}

// Address returns the pointer to the beginning of the page.
// Do not modify the memory directly to not interfere with this implementation.
func (q *Queue) Address() uintptr {
	if q.buf == nil {
		panic("queue is not initialized")
	}
	return uintptr(unsafe.Pointer(&q.buf[0]))
}

// Cursor returns the index of the next slot to be inspected.
func (q *Queue) Cursor() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cur
}

// NextReady returns the entry at the cursor if the partner has handed it over
// and advances the cursor. The tag is loaded atomically before anything else
// in the slot is read, so the returned fields are the ones the partner wrote
// before it set the tag.
func (q *Queue) NextReady() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.buf == nil {
		return Entry{}, false
	}

	w, tag := loadTagWord(q.buf, q.cur)
	if tag == crq.Free {
		return Entry{}, false
	}

	e := Entry{Index: q.cur, Message: readEntry(q.buf, q.cur, w)}
	q.cur = (q.cur + 1) % q.size
	return e, true
}

// Clear hands the slot of e back to the partner. It must only be called once
// the caller no longer needs anything from the entry.
func (q *Queue) Clear(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.buf == nil || e.Index < 0 || e.Index >= q.size {
		return
	}

	p := tagWord(q.buf, e.Index)
	for {
		old := atomic.LoadUint32(p)
		if atomic.CompareAndSwapUint32(p, old, withTag(old, crq.Free)) {
			return
		}
	}
}

// Reinitialize zeroes every entry and rewinds the cursor. The partner must not
// be registered against the page while this runs.
func (q *Queue) Reinitialize() {
	q.mu.Lock()
	defer q.mu.Unlock()

	clear(q.buf)
	q.cur = 0
}

// Close releases the page. The implementation will try to release as many
// resources as possible and collect potential errors before returning them.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var errs []error
	if q.locked {
		if err := unix.Munlock(q.buf); err != nil {
			errs = append(errs, fmt.Errorf("unlock queue page: %w", err))
		}
		q.locked = false
	}

	if q.mapped {
		if err := unix.Munmap(q.buf); err != nil {
			errs = append(errs, fmt.Errorf("unmap queue page: %w", err))
		} else {
			q.mapped = false
		}
	}

	q.buf = nil
	return errors.Join(errs...)
}
