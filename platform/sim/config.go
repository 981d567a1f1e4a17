package sim

import (
	"fmt"

	"github.com/bwarrum-ibm/ibmvsm/config"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/sirupsen/logrus"
)

// NewFromConfig builds a firmware partner and the device nodes it serves from
// platform.devices:
//
//	platform:
//	  type: sim
//	  auto_handshake: true
//	  auto_open: true
//	  devices:
//	    - name: vsm0
//	      unit_address: 0x30000000
//	      dma_window: [0x10000000, 0, 0, 0, 0x10000000, 0x10000001, 0, 0, 0, 0x10000000]
//	      address_cells: 2
//	      size_cells: 2
//	      register_status: success
//	      irq: success
func NewFromConfig(l *logrus.Logger, c *config.C) (*Firmware, []platform.Device, error) {
	pType := c.GetString("platform.type", "sim")
	if pType != "sim" {
		return nil, nil, fmt.Errorf("platform.type was not understood: %s", pType)
	}

	f := New(l)
	f.AutoHandshake = c.GetBool("platform.auto_handshake", true)
	f.AutoOpen = c.GetBool("platform.auto_open", true)

	list, err := c.GetMapSlice("platform.devices")
	if err != nil {
		return nil, nil, err
	}

	var devices []platform.Device
	for i, d := range list {
		n, err := nodeFromConfig(d)
		if err != nil {
			return nil, nil, fmt.Errorf("platform.devices[%d]: %w", i, err)
		}

		if v, ok := d["register_status"]; ok {
			s, err := platform.ParseStatus(fmt.Sprint(v))
			if err != nil {
				return nil, nil, fmt.Errorf("platform.devices[%d].register_status: %w", i, err)
			}
			f.SetRegisterStatus(n.Unit, s)
		}

		if v, ok := d["irq"]; ok {
			s, err := platform.ParseStatus(fmt.Sprint(v))
			if err != nil {
				return nil, nil, fmt.Errorf("platform.devices[%d].irq: %w", i, err)
			}
			f.SetIRQStatus(n.Unit, s)
		}

		devices = append(devices, n)
	}

	return f, devices, nil
}

func nodeFromConfig(d map[string]any) (*platform.Node, error) {
	n := &platform.Node{Properties: make(map[string][]byte)}
	if v, ok := d["name"]; ok {
		n.Name = fmt.Sprint(v)
	}

	ua, ok := d["unit_address"]
	if !ok {
		return nil, fmt.Errorf("unit_address is required")
	}
	u, err := config.AsUint32(ua)
	if err != nil {
		return nil, fmt.Errorf("unit_address: %w", err)
	}
	n.Unit = u

	// A device without a window is still created, attaching it is what fails
	if rw, ok := d["dma_window"]; ok {
		cells, err := config.AsUint32Slice(rw)
		if err != nil {
			return nil, fmt.Errorf("dma_window: %w", err)
		}
		n.Properties["ibm,my-dma-window"] = platform.Cells(cells...)
	}

	for key, prop := range map[string]string{
		"address_cells": "ibm,#dma-address-cells",
		"size_cells":    "ibm,#dma-size-cells",
	} {
		if v, ok := d[key]; ok {
			c, err := config.AsUint32(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			n.Properties[prop] = platform.Cells(c)
		}
	}

	return n, nil
}
