// Package irq models an interrupt line as an eventfd. The raising side does
// nothing but bump the counter, the waiting side drains it, so any number of
// raises between two waits collapse into a single wake up.
package irq

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/eventfd"
)

type Line struct {
	efd    eventfd.Eventfd
	closed atomic.Bool
	raised atomic.Uint64

	// mu keeps Close from releasing the eventfd under a concurrent Raise.
	mu       sync.RWMutex
	released bool
}

func New() (*Line, error) {
	efd, err := eventfd.Create()
	if err != nil {
		return nil, fmt.Errorf("create interrupt eventfd: %w", err)
	}
	return &Line{efd: efd}, nil
}

// Raise signals the waiter. It is safe to call from any goroutine and never
// blocks.
func (l *Line) Raise() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.released || l.closed.Load() {
		return nil
	}
	l.raised.Add(1)
	return l.efd.Notify()
}

// Raised returns how many times the line was raised.
func (l *Line) Raised() uint64 {
	return l.raised.Load()
}

// Wait blocks until the line was raised at least once since the last Wait. It
// returns false once Stop was called, the waiter should exit then.
func (l *Line) Wait() bool {
	if l.closed.Load() {
		return false
	}

	for {
		err := l.efd.Wait()
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			return false
		}
		pfd := []unix.PollFd{{Fd: int32(l.efd.FD()), Events: unix.POLLIN}}
		_, _ = unix.Poll(pfd, -1)
	}

	return !l.closed.Load()
}

// Stop wakes up the waiter and makes every further Wait return false.
// The goroutine blocked in Wait will never notice the flag on its own, so a
// fake raise is produced to wake it up.
func (l *Line) Stop() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := l.efd.Notify(); err != nil {
		return fmt.Errorf("wake up waiter: %w", err)
	}
	return nil
}

// Close releases the eventfd. The waiter must have returned before.
func (l *Line) Close() error {
	_ = l.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	return l.efd.Close()
}
