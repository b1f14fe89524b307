package rudp

import (
	"net"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

// ManagedConnections coordinates all of a node's transports and the
// connections they host. One mutex guards the whole directory; transport
// callbacks re-enter through it.
type ManagedConnections struct {
	opts *Options
	clk  clock.Clock

	mu                     sync.Mutex
	listener               Listener
	thisNodeID             crypto.NodeID
	keys                   *crypto.KeyPair
	chosenBootstrapContact transport.Contact
	connections            map[crypto.NodeID]transport.Transport
	pendings               []*pendingConnection
	idleTransports         map[transport.Transport]struct{}
	localIP                net.IP
	nat                    *transport.NATState
	closed                 bool
}

// NewManagedConnections creates an unbootstrapped manager.
func NewManagedConnections(opts *Options) *ManagedConnections {
	if opts == nil {
		opts = NewOptions()
	}
	return &ManagedConnections{
		opts:           opts,
		clk:            opts.clock(),
		connections:    make(map[crypto.NodeID]transport.Transport),
		idleTransports: make(map[transport.Transport]struct{}),
		nat:            transport.NewNATState(),
	}
}

// NATType returns the process-wide NAT classification.
func (m *ManagedConnections) NATType() transport.NATType {
	return m.nat.Get()
}

// Bootstrap starts the first transport against the candidate list and
// blocks until one candidate answers. It returns this node's own contact
// and the peer it bootstrapped off.
func (m *ManagedConnections) Bootstrap(candidates []transport.Contact, listener Listener,
	thisNodeID crypto.NodeID, keys *crypto.KeyPair, localEndpointHint transport.Endpoint,
) (own transport.Contact, chosen transport.Contact, err error) {
	if listener == nil || keys == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bootstrap",
		}).Error("A non-nil listener and key pair are required")
		return own, chosen, ErrInvalidParameter
	}
	if !thisNodeID.IsValid() {
		logrus.WithFields(logrus.Fields{
			"function": "Bootstrap",
		}).Error("A valid node ID is required")
		return own, chosen, ErrInvalidParameter
	}
	if len(candidates) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Bootstrap",
			"node":     thisNodeID.ShortString(),
		}).Error("At least one bootstrap contact is required")
		return own, chosen, ErrNoBootstrapEndpoints
	}

	localEndpoint := localEndpointHint
	localIP := localEndpointHint.IP
	if !localEndpointHint.IsValid() {
		localIP = transport.GetLocalIP()
		if localIP == nil {
			return own, chosen, ErrFailedToGetLocalAddress
		}
		localEndpoint = transport.Endpoint{IP: localIP}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return own, chosen, ErrOperationNotSupported
	}
	m.listener = listener
	m.thisNodeID = thisNodeID
	m.keys = keys
	m.localIP = localIP
	m.mu.Unlock()

	type outcome struct {
		err    error
		t      transport.Transport
		chosen transport.Contact
	}
	ch := make(chan outcome, 1)
	m.startNewTransport(candidates, localEndpoint, func(err error, t transport.Transport, chosen transport.Contact) {
		ch <- outcome{err: err, t: t, chosen: chosen}
	})
	result := <-ch
	if result.err != nil {
		return own, chosen, result.err
	}

	own = transport.Contact{
		ID: thisNodeID,
		EndpointPair: transport.EndpointPair{
			Local:    result.t.LocalEndpoint(),
			External: result.t.ExternalEndpoint(),
		},
		PublicKey: keys.Public,
	}
	return own, result.chosen, nil
}

// GetAvailableEndpoint reserves a local transport for an outbound attempt
// to peerID and returns its endpoint pair for out-of-band exchange.
// Calling it again for the same peer returns the same reservation.
func (m *ManagedConnections) GetAvailableEndpoint(peerID crypto.NodeID,
	peerHint transport.EndpointPair,
) (transport.EndpointPair, error) {
	m.mu.Lock()
	if m.closed || !m.thisNodeID.IsValid() {
		m.mu.Unlock()
		return transport.EndpointPair{}, ErrOperationNotSupported
	}
	if !peerID.IsValid() || peerID == m.thisNodeID {
		m.mu.Unlock()
		return transport.EndpointPair{}, ErrOperationNotSupported
	}

	if pair, ok := m.existingConnectionAttempt(peerID); ok {
		m.mu.Unlock()
		return pair, nil
	}
	if pair, found, connected := m.existingConnection(peerID); found {
		m.mu.Unlock()
		if connected {
			return transport.EndpointPair{}, ErrAlreadyConnected
		}
		return pair, nil
	}

	startNew := m.shouldStartNewTransport(peerHint)
	pair, got := m.selectAnyTransport(peerID)
	localIP := m.localIP
	m.mu.Unlock()

	if !startNew {
		if got {
			return pair, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "GetAvailableEndpoint",
			"peer":     peerID.ShortString(),
		}).Error("No available transport and the transport budget is exhausted")
		return transport.EndpointPair{}, ErrFailedToBootstrap
	}

	local := transport.Endpoint{IP: localIP}
	if got {
		// An existing transport serves this attempt; top up capacity in
		// the background.
		go m.startNewTransport(nil, local, func(error, transport.Transport, transport.Contact) {})
		return pair, nil
	}

	ch := make(chan error, 1)
	m.startNewTransport(nil, local, func(err error, _ transport.Transport, _ transport.Contact) {
		ch <- err
	})
	if err := <-ch; err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "GetAvailableEndpoint",
			"peer":     peerID.ShortString(),
			"error":    err.Error(),
		}).Error("Failed to start a new transport")
		return transport.EndpointPair{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pair, ok := m.existingConnectionAttempt(peerID); ok {
		return pair, nil
	}
	if pair, got := m.selectAnyTransport(peerID); got {
		return pair, nil
	}
	return transport.EndpointPair{}, ErrFailedToBootstrap
}

// Add completes a reserved attempt: it instructs the pending transport to
// connect to the peer whose contact was exchanged out of band. handler
// fires exactly once.
func (m *ManagedConnections) Add(peer transport.Contact, handler func(error)) {
	if handler == nil {
		handler = func(error) {}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		go handler(ErrOperationNotSupported)
		return
	}
	if peer.ID == m.thisNodeID {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Add",
			"peer":     peer.ID.ShortString(),
		}).Error("Can't use this node's own ID as the peer")
		go handler(ErrOperationNotSupported)
		return
	}
	if peer.ID == m.chosenBootstrapContact.ID && peer.PublicKey != m.chosenBootstrapContact.PublicKey {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Add",
			"peer":     peer.ID.ShortString(),
		}).Error("Contact key does not match the chosen bootstrap contact")
		go handler(ErrInvalidParameter)
		return
	}

	idx := m.findPending(peer.ID)
	if idx < 0 {
		_, connected := m.connections[peer.ID]
		m.mu.Unlock()
		if connected {
			logrus.WithFields(logrus.Fields{
				"function": "Add",
				"peer":     peer.ID.ShortString(),
			}).Warn("A managed connection to this peer already exists")
			go handler(ErrAlreadyConnected)
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "Add",
			"peer":     peer.ID.ShortString(),
		}).Error("No connection attempt found - call GetAvailableEndpoint first")
		go handler(ErrOperationNotSupported)
		return
	}

	pending := m.pendings[idx]
	if pending.connecting {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Add",
			"peer":     peer.ID.ShortString(),
		}).Warn("A connection attempt to this peer is already happening")
		go handler(ErrConnectionAlreadyInProgress)
		return
	}

	selected := pending.pendingTransport
	pending.connecting = true

	if conn := selected.GetConnection(peer.ID); conn != nil {
		// A connection can already exist when the peer bootstrapped off
		// this node (state bootstrapping), or when this node bootstrapped
		// off the peer and validation already promoted the connection.
		state := conn.State()
		if state == transport.StateBootstrapping ||
			(peer.ID == m.chosenBootstrapContact.ID && state == transport.StatePermanent) {
			m.mu.Unlock()
			go handler(nil)
			return
		}
		m.removePending(peer.ID)
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Add",
			"peer":     peer.ID.ShortString(),
			"state":    state.String(),
		}).Error("A managed connection to this peer already exists")
		go handler(ErrAlreadyConnected)
		return
	}
	m.mu.Unlock()

	selected.Connect(peer.ID, peer.EndpointPair, peer.PublicKey, handler)
}

// Remove closes the managed connection to peerID. Noop when absent.
func (m *ManagedConnections) Remove(peerID crypto.NodeID) {
	m.mu.Lock()
	if peerID == m.thisNodeID {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Remove",
			"peer":     peerID.ShortString(),
		}).Error("Can't use this node's own ID as the peer")
		return
	}
	t, ok := m.connections[peerID]
	m.mu.Unlock()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Remove",
			"peer":     peerID.ShortString(),
		}).Warn("Can't remove connection - peer not in map")
		return
	}

	// CloseConnection may re-enter through OnConnectionLost; call it
	// outside the mutex.
	t.CloseConnection(peerID)
}

// Send delivers a message over the managed connection to peerID. handler,
// when non-nil, receives the outcome.
func (m *ManagedConnections) Send(peerID crypto.NodeID, message []byte, handler func(error)) {
	m.mu.Lock()
	if peerID == m.thisNodeID {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"peer":     peerID.ShortString(),
		}).Error("Can't use this node's own ID as the peer")
		if handler != nil {
			go handler(ErrOperationNotSupported)
		}
		return
	}

	if t, ok := m.connections[peerID]; ok {
		if t.Send(peerID, message, handler) {
			m.mu.Unlock()
			return
		}
	}
	empty := len(m.connections) == 0 && len(m.idleTransports) == 0
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Send",
		"peer":     peerID.ShortString(),
	}).Error("Can't send - peer not in map")
	if handler == nil {
		return
	}
	if empty {
		// Probably not bootstrapped, so no transport goroutines exist to
		// deliver the handler.
		go handler(ErrNotConnected)
		return
	}
	handler(ErrNotConnected)
}

// Close shuts the manager down: every transport is closed and the
// directory cleared. Idempotent; late callbacks find empty maps and
// become noops.
func (m *ManagedConnections) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	transports := make(map[transport.Transport]struct{})
	for _, t := range m.connections {
		transports[t] = struct{}{}
	}
	m.connections = make(map[crypto.NodeID]transport.Transport)
	for _, pending := range m.pendings {
		pending.timer.Stop()
		transports[pending.pendingTransport] = struct{}{}
	}
	m.pendings = nil
	for t := range m.idleTransports {
		transports[t] = struct{}{}
	}
	m.idleTransports = make(map[transport.Transport]struct{})
	m.listener = nil
	m.mu.Unlock()

	for t := range transports {
		t.Close()
	}
}
