package vsm

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/sirupsen/logrus"
)

// Registry holds one Adapter per attached device.
type Registry struct {
	sync.RWMutex
	adapters map[platform.DeviceHandle]*Adapter

	hv             platform.Platform
	cfg            AdapterConfig
	messageMetrics *MessageMetrics
	l              *logrus.Logger
}

func NewRegistry(l *logrus.Logger, hv platform.Platform, cfg AdapterConfig) *Registry {
	return &Registry{
		adapters:       make(map[platform.DeviceHandle]*Adapter),
		hv:             hv,
		cfg:            cfg,
		messageMetrics: newMessageMetrics(),
		l:              l,
	}
}

// Probe attaches dev. On failure nothing stays registered, neither here nor
// with the partner.
func (r *Registry) Probe(dev platform.Device) (*Adapter, error) {
	h := dev.Handle()

	r.Lock()
	if _, ok := r.adapters[h]; ok {
		r.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, h)
	}
	// Reserve the handle so a concurrent probe of the same device fails
	r.adapters[h] = nil
	r.Unlock()

	a := newAdapter(r.l, r.hv, dev, r.cfg, r.messageMetrics)
	err := a.probe()

	r.Lock()
	defer r.Unlock()
	if err != nil {
		delete(r.adapters, h)
		return nil, err
	}
	r.adapters[h] = a
	return a, nil
}

// Remove detaches the device with handle h.
func (r *Registry) Remove(h platform.DeviceHandle) error {
	r.Lock()
	a, ok := r.adapters[h]
	if !ok || a == nil {
		r.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, h)
	}
	delete(r.adapters, h)
	r.Unlock()

	return a.Close()
}

// RemoveAll detaches every device.
func (r *Registry) RemoveAll() error {
	var errs []error
	for _, a := range r.List() {
		if err := r.Remove(a.Handle()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Get(h platform.DeviceHandle) (*Adapter, bool) {
	r.RLock()
	defer r.RUnlock()
	a, ok := r.adapters[h]
	return a, ok && a != nil
}

// List returns the attached adapters ordered by handle.
func (r *Registry) List() []*Adapter {
	r.RLock()
	out := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a != nil {
			out = append(out, a)
		}
	}
	r.RUnlock()

	slices.SortFunc(out, func(a, b *Adapter) int {
		return strings.Compare(string(a.Handle()), string(b.Handle()))
	})
	return out
}
