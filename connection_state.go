package vsm

// HandshakeState is the connection lifecycle of an Adapter.
type HandshakeState uint32

const (
	StateInitial HandshakeState = iota
	StateQueueRegistered
	StateNegotiatingCapabilities
	StateReady
	StateFailed
	StateResetScheduled
)

var handshakeStateMap = map[HandshakeState]string{
	StateInitial:                 "initial",
	StateQueueRegistered:         "queueRegistered",
	StateNegotiatingCapabilities: "negotiatingCapabilities",
	StateReady:                   "ready",
	StateFailed:                  "failed",
	StateResetScheduled:          "resetScheduled",
}

func (s HandshakeState) String() string {
	if n, ok := handshakeStateMap[s]; ok {
		return n
	}
	return "unknown"
}

func (s HandshakeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
