package rudp

import (
	"github.com/sirupsen/logrus"

	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

// onMessage handles an inbound message from any of this node's
// transports. Messages are sealed to this node's public key; decryption
// failures are logged and dropped without reaching the listener.
func (m *ManagedConnections) onMessage(peerID crypto.NodeID, message []byte) {
	m.mu.Lock()
	listener := m.listener
	keys := m.keys
	m.mu.Unlock()
	if listener == nil {
		return
	}

	plaintext := message
	if !m.opts.DisableEncryption {
		var err error
		plaintext, err = crypto.Decrypt(message, keys)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onMessage",
				"peer":     peerID.ShortString(),
				"error":    err.Error(),
			}).Error("Failed to decrypt message")
			return
		}
	}

	listener.MessageReceived(peerID, plaintext)
}

// onConnectionAdded records a new connection in the directory. It returns
// true when an earlier transport already holds a normal connection to the
// peer, telling the caller its connection is redundant.
func (m *ManagedConnections) onConnectionAdded(peerID crypto.NodeID, t transport.Transport, temporary bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if temporary {
		m.updateIdleTransports(t)
		return false
	}

	if peerID == m.thisNodeID {
		logrus.WithFields(logrus.Fields{
			"function": "onConnectionAdded",
			"peer":     peerID.ShortString(),
		}).Error("Refusing connection keyed by this node's own ID")
		return true
	}

	m.removePending(peerID)

	if existing, ok := m.connections[peerID]; ok {
		m.updateIdleTransports(t)
		logrus.WithFields(logrus.Fields{
			"function": "onConnectionAdded",
			"peer":     peerID.ShortString(),
			"existing": existing.DebugString(),
		}).Error("Already connected to peer; won't make a duplicate normal connection")
		return true
	}

	m.connections[peerID] = t
	delete(m.idleTransports, t)
	return false
}

// onConnectionLost removes a lost connection and tells the listener.
func (m *ManagedConnections) onConnectionLost(peerID crypto.NodeID, t transport.Transport, temporary bool) {
	m.mu.Lock()
	m.updateIdleTransports(t)

	if temporary {
		m.mu.Unlock()
		return
	}

	// A bootstrap connection may have had GetAvailableEndpoint called on
	// it but not yet Add, in which case the peer is in pendings.
	m.removePending(peerID)

	existing, ok := m.connections[peerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if existing != t {
		// The directory points at a different transport than the one
		// reporting the loss. The directory is unrecoverable from here;
		// log loudly and drop the report.
		logrus.WithFields(logrus.Fields{
			"function": "onConnectionLost",
			"peer":     peerID.ShortString(),
			"expected": existing.DebugString(),
			"reported": t.DebugString(),
		}).Error("Connection lost on a transport the directory does not hold")
		m.mu.Unlock()
		return
	}

	delete(m.connections, peerID)
	if peerID == m.chosenBootstrapContact.ID {
		m.chosenBootstrapContact = transport.Contact{}
	}
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener.ConnectionLost(peerID)
	}
}

// onNATDetectionRequested answers a bootstrap peer asking which other
// external port this node can be probed from. Only meaningful for
// cone-like NATs.
func (m *ManagedConnections) onNATDetectionRequested(thisLocalEndpoint transport.Endpoint,
	peerID crypto.NodeID, peerEndpoint transport.Endpoint,
) uint16 {
	if nat := m.nat.Get(); nat == transport.NATUnknown || nat == transport.NATSymmetric {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.connections {
		if !t.LocalEndpoint().Equal(thisLocalEndpoint) {
			// The probing peer has no connection to us, so no public key
			// is on hand to ping it with; report the port only.
			return t.ExternalEndpoint().Port
		}
	}
	return 0
}

// updateIdleTransports inserts t when it is idle, else removes it. Caller
// holds the directory mutex.
func (m *ManagedConnections) updateIdleTransports(t transport.Transport) {
	if t.IsIdle() && t.IsAvailable() {
		m.idleTransports[t] = struct{}{}
	} else {
		delete(m.idleTransports, t)
	}
}
