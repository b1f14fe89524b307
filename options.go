package rudp

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

// TransportFactory builds the transport hosting a new bootstrap attempt.
// The NAT state is shared across all of a manager's transports.
type TransportFactory func(nat *transport.NATState, keys *crypto.KeyPair) transport.Transport

// Options configures a ManagedConnections instance.
type Options struct {
	// MaxTransports is the soft cap on transports under non-symmetric NAT.
	MaxTransports int
	// MaxConnectionsPerTransport caps connections hosted by one transport.
	MaxConnectionsPerTransport int
	// RendezvousConnectTimeout bounds how long a reserved endpoint waits
	// for its Add.
	RendezvousConnectTimeout time.Duration
	// ThreadCount sizes each transport's inbound dispatch pool.
	ThreadCount int
	// DisableEncryption skips sealed-box decryption of inbound messages.
	// Test hook.
	DisableEncryption bool
	// TransportFactory overrides transport construction. Nil means the
	// built-in UDP transport. Test seam.
	TransportFactory TransportFactory
	// Clock drives pending-connection timers. Nil means the wall clock.
	// Test seam.
	Clock clock.Clock
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		MaxTransports:              8,
		MaxConnectionsPerTransport: transport.DefaultMaxConnections,
		RendezvousConnectTimeout:   10 * time.Second,
		ThreadCount:                2,
	}
}

func (o *Options) newTransport(nat *transport.NATState, keys *crypto.KeyPair) transport.Transport {
	if o.TransportFactory != nil {
		return o.TransportFactory(nat, keys)
	}
	return transport.NewUDPTransport(nat, keys, o.MaxConnectionsPerTransport, o.ThreadCount)
}

func (o *Options) clock() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.New()
}

// SetDebugPacketLossRate configures inbound packet loss in the UDP
// multiplexer. Test hook; forwarded unchanged.
func SetDebugPacketLossRate(constant, bursty float64) {
	transport.SetDebugPacketLossRate(constant, bursty)
}
