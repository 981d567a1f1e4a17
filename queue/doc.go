// Package queue implements the consumer side of a Command/Response Queue: one
// page of memory, shared with a firmware partner, holding a circular array of
// fixed-size [crq.Message] entries.
//
// The partner writes an entry's payload and then sets its validity tag. The
// consumer observes the tag first and only then reads the rest of the entry,
// and it hands the slot back by clearing the tag once it is done with it. Both
// tag accesses are atomic, which is the only ordering established between the
// two parties; a mutex is not possible across that boundary.
package queue
