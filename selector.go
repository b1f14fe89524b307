package rudp

import (
	"bytes"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

// existingConnectionAttempt returns the endpoints of an attempt already
// reserved for peerID. Caller holds the directory mutex.
func (m *ManagedConnections) existingConnectionAttempt(peerID crypto.NodeID) (transport.EndpointPair, bool) {
	idx := m.findPending(peerID)
	if idx < 0 {
		return transport.EndpointPair{}, false
	}
	t := m.pendings[idx].pendingTransport
	return transport.EndpointPair{
		Local:    t.LocalEndpoint(),
		External: t.ExternalEndpoint(),
	}, true
}

// existingConnection inspects a managed connection to peerID. found is
// true when one exists; connected is true when it is already established
// rather than re-reservable. A bootstrap connection gets shadowed by a
// fresh pending so a subsequent Add can complete. Caller holds the
// directory mutex.
func (m *ManagedConnections) existingConnection(peerID crypto.NodeID) (pair transport.EndpointPair, found, connected bool) {
	t, ok := m.connections[peerID]
	if !ok {
		return pair, false, false
	}

	conn := t.GetConnection(peerID)
	if conn == nil {
		logrus.WithFields(logrus.Fields{
			"function": "existingConnection",
			"peer":     peerID.ShortString(),
		}).Error("Mismatch between the directory and actual connections")
		delete(m.connections, peerID)
		return pair, false, false
	}

	state := conn.State()
	if state == transport.StateBootstrapping || state == transport.StateUnvalidated {
		pair = transport.EndpointPair{
			Local:    t.LocalEndpoint(),
			External: t.ExternalEndpoint(),
		}
		if state == transport.StateBootstrapping {
			m.addPending(peerID, t)
		}
		return pair, true, false
	}
	return pair, true, true
}

// selectIdleTransport binds a pending to an idle transport, discarding
// unavailable ones along the way. Caller holds the directory mutex.
func (m *ManagedConnections) selectIdleTransport(peerID crypto.NodeID) (transport.EndpointPair, bool) {
	var chosen transport.Transport
	for t := range m.idleTransports {
		if !t.IsAvailable() {
			delete(m.idleTransports, t)
			continue
		}
		if chosen == nil {
			chosen = t
		}
	}
	if chosen == nil {
		return transport.EndpointPair{}, false
	}
	pair := transport.EndpointPair{
		Local:    chosen.LocalEndpoint(),
		External: chosen.ExternalEndpoint(),
	}
	m.addPending(peerID, chosen)
	return pair, true
}

// selectAnyTransport prefers an idle transport (likely a just-started
// one), then falls back to the least-loaded connected transport. Caller
// holds the directory mutex.
func (m *ManagedConnections) selectAnyTransport(peerID crypto.NodeID) (transport.EndpointPair, bool) {
	if pair, ok := m.selectIdleTransport(peerID); ok {
		return pair, ok
	}

	selected := m.getAvailableTransport()
	if selected == nil {
		return transport.EndpointPair{}, false
	}
	pair := transport.EndpointPair{
		Local:    selected.LocalEndpoint(),
		External: selected.ExternalEndpoint(),
	}
	m.addPending(peerID, selected)
	return pair, true
}

// getAvailableTransport picks the transport with the fewest normal
// connections, strictly below its cap. Iteration is ordered by peer ID so
// ties break deterministically. Caller holds the directory mutex.
func (m *ManagedConnections) getAvailableTransport() transport.Transport {
	keys := make([]crypto.NodeID, 0, len(m.connections))
	for id := range m.connections {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	least := m.opts.MaxConnectionsPerTransport
	var selected transport.Transport
	for _, id := range keys {
		t := m.connections[id]
		if count := t.NormalConnectionsCount(); count < least {
			least = count
			selected = t
		}
	}
	return selected
}

// shouldStartNewTransport applies the NAT-aware transport policy. Under
// symmetric NAT each peer burns a fresh local port, so another transport
// is worthwhile only when the peer's external endpoint is reachable or
// the peer gave no directly usable local address. Caller holds the
// directory mutex.
func (m *ManagedConnections) shouldStartNewTransport(peerHint transport.EndpointPair) bool {
	if m.nat.Get() == transport.NATSymmetric &&
		len(m.connections) < m.opts.MaxTransports*m.opts.MaxConnectionsPerTransport {
		if peerHint.External.IsValid() {
			return true
		}
		return !peerHint.Local.IsValid()
	}
	return len(m.connections) < m.opts.MaxTransports
}
