package queue

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/bwarrum-ibm/ibmvsm/crq"
)

// ErrQueueSizeInvalid means the queue memory does not hold a power of two
// number of whole entries.
var ErrQueueSizeInvalid = errors.New("queue size is invalid")

// entriesFor returns how many entries fit in n bytes of queue memory.
func entriesFor(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d bytes is too small", ErrQueueSizeInvalid, n)
	}

	if n%crq.Len != 0 {
		return 0, fmt.Errorf("%w: %d bytes is not a whole number of entries", ErrQueueSizeInvalid, n)
	}

	size := n / crq.Len
	if bits.OnesCount(uint(size)) != 1 {
		return 0, fmt.Errorf("%w: %d entries is not a power of 2", ErrQueueSizeInvalid, size)
	}
	return size, nil
}
