package transport

import (
	"github.com/paul1989889/rudp/crypto"
)

// ConnectionState is the lifecycle state of a single peer connection.
type ConnectionState int

const (
	// StateBootstrapping marks a connection made through the bootstrap
	// handshake and not yet promoted by the application.
	StateBootstrapping ConnectionState = iota
	// StateUnvalidated marks an inbound connection whose peer has
	// completed the handshake but has not yet been accepted locally, or an
	// outbound connect whose handshake is still in flight.
	StateUnvalidated
	// StatePermanent marks a fully established managed connection.
	StatePermanent
	// StateTemporary marks a short-lived probe that never enters the
	// managed directory.
	StateTemporary
)

func (s ConnectionState) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateUnvalidated:
		return "unvalidated"
	case StatePermanent:
		return "permanent"
	case StateTemporary:
		return "temporary"
	default:
		return "invalid"
	}
}

// Connection is a read-only view of a transport's connection to one peer.
type Connection interface {
	State() ConnectionState
	PeerNodeID() crypto.NodeID
	PeerEndpoint() Endpoint
	PeerPublicKey() [32]byte
}

// MessageFunc delivers an application message received from a peer.
type MessageFunc func(peerID crypto.NodeID, message []byte)

// ConnectionAddedFunc announces a new connection. It returns true when the
// receiver already holds a normal connection to the peer elsewhere, in
// which case the caller should treat this one as redundant.
type ConnectionAddedFunc func(peerID crypto.NodeID, t Transport, temporary bool) (duplicate bool)

// ConnectionLostFunc announces a closed or failed connection.
type ConnectionLostFunc func(peerID crypto.NodeID, t Transport, temporary bool)

// NATDetectionFunc is queried while answering a bootstrap request. It
// returns the external port of another local transport that the requester
// can be probed from, or 0 when none applies.
type NATDetectionFunc func(thisLocalEndpoint Endpoint, peerID crypto.NodeID, peerEndpoint Endpoint) (anotherExternalPort uint16)

// BootstrapFunc receives the outcome of a bootstrap attempt.
type BootstrapFunc func(err error, chosen Contact)

// Handlers is the callback group a connection manager registers with every
// transport it starts.
type Handlers struct {
	OnMessage         MessageFunc
	OnConnectionAdded ConnectionAddedFunc
	OnConnectionLost  ConnectionLostFunc
	OnNATDetection    NATDetectionFunc
}

// Transport owns one UDP socket and a bounded set of peer connections.
// Implementations must be safe for concurrent use; all methods may be
// called from callback goroutines.
type Transport interface {
	// Bootstrap binds the socket and walks the candidate list until one
	// peer answers. The callback group stays registered for the life of
	// the transport; done fires exactly once.
	Bootstrap(candidates []Contact, thisNodeID crypto.NodeID, publicKey [32]byte,
		localEndpoint Endpoint, offExisting bool, handlers Handlers, done BootstrapFunc)

	// Connect performs the rendezvous handshake with a peer whose
	// endpoints were exchanged out of band.
	Connect(peerID crypto.NodeID, peerEndpoints EndpointPair, peerPublicKey [32]byte, done func(error))

	// CloseConnection tears down the connection to one peer.
	CloseConnection(peerID crypto.NodeID)

	// Send queues a message to a connected peer. It reports false when the
	// transport holds no usable connection to the peer, in which case done
	// is never invoked.
	Send(peerID crypto.NodeID, data []byte, done func(error)) bool

	// Ping sends a single probe datagram and reports the outcome.
	Ping(peerID crypto.NodeID, endpoint Endpoint, publicKey [32]byte, done func(error))

	// Close releases the socket. Idempotent.
	Close()

	IsIdle() bool
	IsAvailable() bool
	NormalConnectionsCount() int
	GetConnection(peerID crypto.NodeID) Connection

	LocalEndpoint() Endpoint
	ExternalEndpoint() Endpoint
	SetBestGuessExternalEndpoint(e Endpoint)
	ThisEndpointAsSeenByPeer(peerID crypto.NodeID) Endpoint

	DebugString() string
}
