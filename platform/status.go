package platform

import (
	"errors"
	"fmt"
)

// Status is the return code of a hypercall.
type Status int

const (
	Success Status = iota
	// Busy means the call should be made again later.
	Busy
	// PartnerNotReady means the local side succeeded but nobody is listening
	// on the other end yet.
	PartnerNotReady
	// Closed means the partner is gone.
	Closed
	Parameter
	Hardware
)

var (
	ErrBusy            = errors.New("hypervisor busy")
	ErrPartnerNotReady = errors.New("partner not ready")
	ErrClosed          = errors.New("partner closed")
	ErrParameter       = errors.New("invalid hypercall parameter")
	ErrHardware        = errors.New("hardware failure")
)

var statusMap = map[Status]string{
	Success:         "success",
	Busy:            "busy",
	PartnerNotReady: "partnerNotReady",
	Closed:          "closed",
	Parameter:       "parameter",
	Hardware:        "hardware",
}

func (s Status) String() string {
	if n, ok := statusMap[s]; ok {
		return n
	}
	return "unknown"
}

// Err converts the status into an error, nil on success.
func (s Status) Err() error {
	switch s {
	case Success:
		return nil
	case Busy:
		return ErrBusy
	case PartnerNotReady:
		return ErrPartnerNotReady
	case Closed:
		return ErrClosed
	case Parameter:
		return ErrParameter
	default:
		return ErrHardware
	}
}

// Soft reports whether the call counts as done for now. Busy is a try later
// that nothing in the transport retries right away, partner not ready means
// the local side succeeded and nobody is listening yet.
func (s Status) Soft() bool {
	return s == Success || s == Busy || s == PartnerNotReady
}

// ParseStatus returns the status named s, as printed by String.
func ParseStatus(s string) (Status, error) {
	for k, v := range statusMap {
		if v == s {
			return k, nil
		}
	}
	return Hardware, fmt.Errorf("unknown status %q", s)
}
