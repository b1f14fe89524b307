package rudp

import (
	"math/rand"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/paul1989889/rudp/transport"
)

// startNewTransport constructs a transport and drives it through its
// bootstrap handshake. An empty candidate list means bootstrapping off
// this node's existing connections. handler fires exactly once.
func (m *ManagedConnections) startNewTransport(candidates []transport.Contact,
	localEndpoint transport.Endpoint,
	handler func(err error, t transport.Transport, chosen transport.Contact),
) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		handler(ErrOperationNotSupported, nil, transport.Contact{})
		return
	}
	thisNodeID := m.thisNodeID
	keys := m.keys
	nat := m.nat
	m.mu.Unlock()

	newTransport := m.opts.newTransport(nat, keys)

	offExisting := len(candidates) == 0
	var externalAddr net.IP
	if offExisting {
		candidates, externalAddr = m.getBootstrapEndpoints()
	}

	m.mu.Lock()
	// Never bootstrap off a transport belonging to this same node.
	for t := range m.idleTransports {
		local := t.LocalEndpoint()
		filtered := candidates[:0]
		for _, candidate := range candidates {
			if !candidate.EndpointPair.Local.Equal(local) {
				filtered = append(filtered, candidate)
			}
		}
		candidates = filtered
	}
	m.mu.Unlock()

	handlers := transport.Handlers{
		OnMessage:         m.onMessage,
		OnConnectionAdded: m.onConnectionAdded,
		OnConnectionLost:  m.onConnectionLost,
		OnNATDetection:    m.onNATDetectionRequested,
	}

	done := func(err error, chosen transport.Contact) {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "startNewTransport",
				"node":     thisNodeID.ShortString(),
				"error":    err.Error(),
			}).Warn("Transport failed to bootstrap")
			newTransport.Close()
			handler(ErrFailedToBootstrap, nil, chosen)
			return
		}

		m.mu.Lock()
		if !m.chosenBootstrapContact.ID.IsValid() {
			m.chosenBootstrapContact = chosen
		}
		m.mu.Unlock()

		if !newTransport.ExternalEndpoint().IsValid() && externalAddr != nil {
			// This node's NAT is symmetric or unknown; guess that the new
			// socket maps to the known external address on its local port.
			newTransport.SetBestGuessExternalEndpoint(transport.Endpoint{
				IP:   externalAddr,
				Port: newTransport.LocalEndpoint().Port,
			})
		}

		handler(nil, newTransport, chosen)
	}

	newTransport.Bootstrap(candidates, thisNodeID, keys.Public, localEndpoint, offExisting, handlers, done)
}

// getBootstrapEndpoints builds a candidate list from existing connections.
// Peers on public networks come first so the new transport's external
// endpoint can be calculated; both partitions are shuffled. The second
// return is this node's external address as agreed by every public peer,
// or nil when observations disagree.
func (m *ManagedConnections) getBootstrapEndpoints() ([]transport.Contact, net.IP) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var primary, secondary []transport.Contact
	var externalAddr net.IP
	consistent := true
	seen := make(map[string]struct{})

	for peerID, t := range m.connections {
		conn := t.GetConnection(peerID)
		if conn == nil {
			continue
		}
		peerEndpoint := conn.PeerEndpoint()
		if _, dup := seen[peerEndpoint.String()]; dup {
			continue
		}
		seen[peerEndpoint.String()] = struct{}{}

		contact := transport.Contact{
			ID:           conn.PeerNodeID(),
			EndpointPair: transport.EndpointPair{Local: peerEndpoint},
			PublicKey:    conn.PeerPublicKey(),
		}
		if transport.OnPrivateNetwork(peerEndpoint) {
			secondary = append(secondary, contact)
			continue
		}
		primary = append(primary, contact)

		seenBy := t.ThisEndpointAsSeenByPeer(peerID)
		if externalAddr == nil {
			externalAddr = seenBy.IP
		} else if !externalAddr.Equal(seenBy.IP) {
			consistent = false
		}
	}
	if !consistent {
		externalAddr = nil
	}

	rand.Shuffle(len(primary), func(i, j int) {
		primary[i], primary[j] = primary[j], primary[i]
	})
	rand.Shuffle(len(secondary), func(i, j int) {
		secondary[i], secondary[j] = secondary[j], secondary[i]
	})
	return append(primary, secondary...), externalAddr
}
