package transport

import "sync/atomic"

// NATType classifies the local network's address translation.
type NATType int32

const (
	// NATUnknown means the NAT type has not been determined yet.
	NATUnknown NATType = iota
	// NATSymmetric means the NAT maps each destination to a fresh external
	// port, so every distinct peer needs its own local transport.
	NATSymmetric
	// NATOtherCone covers cone-like NATs (and no NAT at all), where one
	// external mapping serves any destination.
	NATOtherCone
)

func (n NATType) String() string {
	switch n {
	case NATSymmetric:
		return "symmetric"
	case NATOtherCone:
		return "other_cone"
	default:
		return "unknown"
	}
}

// NATState is the process-wide NAT classification, shared between the
// connection manager and its transports. Transports write it during
// bootstrap; the manager reads it when deciding whether to start new
// transports.
type NATState struct {
	v atomic.Int32
}

// NewNATState returns a state initialized to NATUnknown.
func NewNATState() *NATState {
	return &NATState{}
}

// Get returns the current classification.
func (s *NATState) Get() NATType {
	return NATType(s.v.Load())
}

// Set records a new classification.
func (s *NATState) Set(t NATType) {
	s.v.Store(int32(t))
}
