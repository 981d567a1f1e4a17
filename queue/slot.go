package queue

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/bwarrum-ibm/ibmvsm/crq"
)

// The first 4 bytes of an entry hold the validity tag, the type and the first
// reserved field. They are accessed as one aligned word so the tag can be read
// and written atomically.

func tagWord(mem []byte, index int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[index*crq.Len]))
}

func loadTagWord(mem []byte, index int) (uint32, crq.Valid) {
	w := atomic.LoadUint32(tagWord(mem, index))
	return w, tagOf(w)
}

func tagOf(w uint32) crq.Valid {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], w)
	return crq.Valid(b[0])
}

func withTag(w uint32, v crq.Valid) uint32 {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], w)
	b[0] = byte(v)
	return binary.NativeEndian.Uint32(b[:])
}

// readEntry decodes the entry at index. w must be the tag word that was loaded
// for that slot.
func readEntry(mem []byte, index int, w uint32) crq.Message {
	var raw [crq.Len]byte
	binary.NativeEndian.PutUint32(raw[0:4], w)
	off := index * crq.Len
	copy(raw[4:], mem[off+4:off+crq.Len])

	var msg crq.Message
	_ = msg.Parse(raw[:])
	return msg
}
