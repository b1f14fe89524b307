package rudp

import "github.com/paul1989889/rudp/crypto"

// Listener receives application-level events from a ManagedConnections
// instance. The manager holds the listener non-owning; implementations
// must tolerate calls from multiple goroutines.
type Listener interface {
	// MessageReceived delivers a decrypted message from a peer.
	MessageReceived(peerID crypto.NodeID, message []byte)
	// ConnectionLost announces the loss of a managed connection.
	ConnectionLost(peerID crypto.NodeID)
}
