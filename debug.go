package rudp

import (
	"fmt"

	"github.com/paul1989889/rudp/transport"
)

// DebugString describes this node's transports, idle transports, and
// pending connections. Returns "" once the node has accumulated enough
// connections that the log would be noise.
func (m *ManagedConnections) DebugString() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.connections) > 8 {
		return ""
	}

	transports := make(map[transport.Transport]struct{})
	for _, t := range m.connections {
		transports[t] = struct{}{}
	}

	s := "This node's own transports and their peer connections:\n"
	for t := range transports {
		s += t.DebugString()
	}

	s += "\nThis node's idle transports:\n"
	for t := range m.idleTransports {
		s += t.DebugString()
	}

	s += "\nThis node's pending connections:\n"
	for _, pending := range m.pendings {
		s += "\tPending to peer " + pending.nodeID.ShortString()
		s += " on this node's transport "
		s += fmt.Sprintf("%s / %s\n",
			pending.pendingTransport.ExternalEndpoint(),
			pending.pendingTransport.LocalEndpoint())
	}
	s += "\n\n"
	return s
}
