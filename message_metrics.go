package vsm

import (
	"fmt"

	"github.com/bwarrum-ibm/ibmvsm/crq"
	"github.com/rcrowley/go-metrics"
)

type MessageMetrics struct {
	rx map[crq.Valid][]metrics.Counter
	tx map[crq.Valid][]metrics.Counter

	rxUnknown metrics.Counter
	txUnknown metrics.Counter
}

func (m *MessageMetrics) Rx(v crq.Valid, t crq.MessageType, i int64) {
	if m != nil {
		if c := lookupCounter(m.rx, v, t); c != nil {
			c.Inc(i)
		} else if m.rxUnknown != nil {
			m.rxUnknown.Inc(i)
		}
	}
}

func (m *MessageMetrics) Tx(v crq.Valid, t crq.MessageType, i int64) {
	if m != nil {
		if c := lookupCounter(m.tx, v, t); c != nil {
			c.Inc(i)
		} else if m.txUnknown != nil {
			m.txUnknown.Inc(i)
		}
	}
}

func lookupCounter(h map[crq.Valid][]metrics.Counter, v crq.Valid, t crq.MessageType) metrics.Counter {
	l, ok := h[v]
	if !ok || int(t) >= len(l) {
		return nil
	}
	return l[t]
}

func newMessageMetrics() *MessageMetrics {
	gen := func(dir string) map[crq.Valid][]metrics.Counter {
		h := make(map[crq.Valid][]metrics.Counter)
		for _, v := range []crq.Valid{crq.Command, crq.Init, crq.Transport} {
			var last crq.MessageType
			switch v {
			case crq.Command:
				last = crq.VTermError
			case crq.Init:
				last = crq.InitComplete
			case crq.Transport:
				last = crq.PartnerDeregistered
			}

			// Index 0 is not a message type under any tag
			l := make([]metrics.Counter, int(last)+1)
			for t := crq.MessageType(1); t <= last; t++ {
				l[t] = metrics.GetOrRegisterCounter(fmt.Sprintf("messages.%s.%s.%s", dir, crq.ValidName(v), crq.TypeName(v, t)), nil)
			}
			h[v] = l
		}
		return h
	}

	return &MessageMetrics{
		rx: gen("rx"),
		tx: gen("tx"),

		rxUnknown: metrics.GetOrRegisterCounter("messages.rx.other", nil),
		txUnknown: metrics.GetOrRegisterCounter("messages.tx.other", nil),
	}
}

type adapterMetrics struct {
	interrupts    metrics.Counter
	drainPasses   metrics.Counter
	resets        metrics.Counter
	resetFailures metrics.Counter
	discarded     metrics.Counter

	rxBytes   metrics.Counter
	txBytes   metrics.Counter
	rxDropped metrics.Counter
}

func newAdapterMetrics() *adapterMetrics {
	return &adapterMetrics{
		interrupts:    metrics.GetOrRegisterCounter("adapter.interrupts", nil),
		drainPasses:   metrics.GetOrRegisterCounter("adapter.drain_passes", nil),
		resets:        metrics.GetOrRegisterCounter("adapter.resets", nil),
		resetFailures: metrics.GetOrRegisterCounter("adapter.reset_failures", nil),
		discarded:     metrics.GetOrRegisterCounter("adapter.discarded", nil),

		rxBytes:   metrics.GetOrRegisterCounter("vterm.rx_bytes", nil),
		txBytes:   metrics.GetOrRegisterCounter("vterm.tx_bytes", nil),
		rxDropped: metrics.GetOrRegisterCounter("vterm.rx_dropped", nil),
	}
}
