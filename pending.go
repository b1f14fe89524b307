package rudp

import (
	"github.com/benbjohnson/clock"

	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

// pendingConnection tracks one in-flight outbound attempt: a peer the
// application reserved an endpoint for but has not finished Add-ing.
type pendingConnection struct {
	nodeID           crypto.NodeID
	pendingTransport transport.Transport
	timer            *clock.Timer
	connecting       bool
}

// addPending records the attempt and starts its expiry timer. Caller holds
// the directory mutex.
func (m *ManagedConnections) addPending(nodeID crypto.NodeID, t transport.Transport) {
	pending := &pendingConnection{nodeID: nodeID, pendingTransport: t}
	pending.timer = m.clk.AfterFunc(m.opts.RendezvousConnectTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removePending(nodeID)
	})
	m.pendings = append(m.pendings, pending)
}

// removePending erases the attempt for nodeID, cancelling its timer.
// Caller holds the directory mutex.
func (m *ManagedConnections) removePending(nodeID crypto.NodeID) {
	idx := m.findPending(nodeID)
	if idx < 0 {
		return
	}
	m.pendings[idx].timer.Stop()
	m.pendings = append(m.pendings[:idx], m.pendings[idx+1:]...)
}

// findPending returns the index of the attempt for nodeID, or -1. Caller
// holds the directory mutex.
func (m *ManagedConnections) findPending(nodeID crypto.NodeID) int {
	for i, pending := range m.pendings {
		if pending.nodeID == nodeID {
			return i
		}
	}
	return -1
}
