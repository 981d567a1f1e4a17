package vsm

import (
	"encoding/binary"
	"fmt"

	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/sirupsen/logrus"
)

const (
	propDMAWindow    = "ibm,my-dma-window"
	propAddressCells = "ibm,#dma-address-cells"
	propSizeCells    = "ibm,#dma-size-cells"
)

// readAddressing learns the local and remote I/O bus numbers from the
// device's DMA window. The window is the liobn, a bus address, a size and then
// the riobn. The width of address and size comes from two more properties, a
// missing one is taken as a single cell.
func readAddressing(dev platform.Device, l *logrus.Entry) (platform.Addressing, error) {
	addr := platform.Addressing{UnitAddress: dev.UnitAddress()}

	raw, ok := dev.Property(propDMAWindow)
	if !ok || len(raw) < 4 {
		return addr, fmt.Errorf("%w: %s", ErrConfigurationMissing, propDMAWindow)
	}
	window := cells(raw)
	addr.LIOBN = window[0]

	stride := 1
	stride += cellCount(dev, propAddressCells, l)
	stride += cellCount(dev, propSizeCells, l)

	if stride >= len(window) {
		return addr, fmt.Errorf("%w: %s has %d cells, riobn expected at cell %d",
			ErrConfigurationMissing, propDMAWindow, len(window), stride)
	}
	addr.RIOBN = window[stride]

	return addr, nil
}

func cellCount(dev platform.Device, name string, l *logrus.Entry) int {
	raw, ok := dev.Property(name)
	if !ok || len(raw) < 4 {
		l.WithField("property", name).Warn("Device property is missing, assuming 1 cell")
		return 1
	}
	return int(binary.BigEndian.Uint32(raw))
}

func cells(raw []byte) []uint32 {
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(raw[4*i:])
	}
	return out
}
