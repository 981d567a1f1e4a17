package platform

import (
	"encoding/binary"
	"fmt"
)

// DeviceHandle identifies an attached device for the lifetime of the process.
type DeviceHandle string

// Device is a virtual device node as handed over by the device framework.
type Device interface {
	Handle() DeviceHandle
	UnitAddress() uint32
	// Property returns the raw, big endian encoded value of a node property.
	Property(name string) ([]byte, bool)
}

// Node is a static Device, as parsed from configuration or built by tests.
type Node struct {
	Name       string
	Unit       uint32
	Properties map[string][]byte
}

func (n *Node) Handle() DeviceHandle {
	if n.Name != "" {
		return DeviceHandle(n.Name)
	}
	return DeviceHandle(fmt.Sprintf("vsm@%x", n.Unit))
}

func (n *Node) UnitAddress() uint32 {
	return n.Unit
}

func (n *Node) Property(name string) ([]byte, bool) {
	v, ok := n.Properties[name]
	return v, ok
}

// Cells encodes 32 bit cells the way a device tree stores them.
func Cells(v ...uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, c := range v {
		binary.BigEndian.PutUint32(b[4*i:], c)
	}
	return b
}
