package rudp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

// mockConnection satisfies transport.Connection for directory tests.
type mockConnection struct {
	id       crypto.NodeID
	state    transport.ConnectionState
	endpoint transport.Endpoint
	key      [32]byte
	seenBy   transport.Endpoint
}

func (c *mockConnection) State() transport.ConnectionState { return c.state }
func (c *mockConnection) PeerNodeID() crypto.NodeID        { return c.id }
func (c *mockConnection) PeerEndpoint() transport.Endpoint { return c.endpoint }
func (c *mockConnection) PeerPublicKey() [32]byte          { return c.key }

// mockTransport scripts transport behavior for manager tests. Bootstrap
// succeeds against the first candidate unless bootstrapErr is set;
// Connect succeeds immediately unless connectFunc overrides it.
type mockTransport struct {
	mu       sync.Mutex
	name     string
	local    transport.Endpoint
	external transport.Endpoint
	maxConns int
	closed   bool
	conns    map[crypto.NodeID]*mockConnection
	handlers transport.Handlers

	bootstrapErr error
	connectFunc  func(peerID crypto.NodeID, eps transport.EndpointPair, key [32]byte, done func(error))

	sent        [][]byte
	closedPeers []crypto.NodeID
}

var mockPortCounter uint16 = 6000

func newMockTransport(name string) *mockTransport {
	mockPortCounter++
	return &mockTransport{
		name:     name,
		local:    transport.Endpoint{IP: net.IPv4(192, 168, 0, 9), Port: mockPortCounter},
		maxConns: transport.DefaultMaxConnections,
		conns:    make(map[crypto.NodeID]*mockConnection),
	}
}

func (mt *mockTransport) addConn(id crypto.NodeID, state transport.ConnectionState,
	endpoint transport.Endpoint, key [32]byte,
) *mockConnection {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	conn := &mockConnection{id: id, state: state, endpoint: endpoint, key: key}
	mt.conns[id] = conn
	return conn
}

func (mt *mockTransport) registeredHandlers() transport.Handlers {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.handlers
}

func (mt *mockTransport) Bootstrap(candidates []transport.Contact, thisNodeID crypto.NodeID,
	publicKey [32]byte, localEndpoint transport.Endpoint, offExisting bool,
	handlers transport.Handlers, done transport.BootstrapFunc,
) {
	mt.mu.Lock()
	mt.handlers = handlers
	err := mt.bootstrapErr
	mt.mu.Unlock()

	if err != nil {
		done(err, transport.Contact{})
		return
	}
	if len(candidates) == 0 {
		done(errors.New("no bootstrap candidate answered"), transport.Contact{})
		return
	}

	chosen := candidates[0]
	if offExisting {
		handlers.OnConnectionAdded(chosen.ID, mt, true)
		handlers.OnConnectionLost(chosen.ID, mt, true)
	} else {
		mt.addConn(chosen.ID, transport.StateBootstrapping, chosen.EndpointPair.Local, chosen.PublicKey)
		handlers.OnConnectionAdded(chosen.ID, mt, false)
	}
	done(nil, chosen)
}

func (mt *mockTransport) Connect(peerID crypto.NodeID, eps transport.EndpointPair,
	key [32]byte, done func(error),
) {
	mt.mu.Lock()
	connect := mt.connectFunc
	handlers := mt.handlers
	mt.mu.Unlock()

	if connect != nil {
		connect(peerID, eps, key, done)
		return
	}

	mt.addConn(peerID, transport.StatePermanent, eps.Local, key)
	if handlers.OnConnectionAdded != nil {
		handlers.OnConnectionAdded(peerID, mt, false)
	}
	done(nil)
}

func (mt *mockTransport) CloseConnection(peerID crypto.NodeID) {
	mt.mu.Lock()
	conn, ok := mt.conns[peerID]
	if ok {
		delete(mt.conns, peerID)
		mt.closedPeers = append(mt.closedPeers, peerID)
	}
	handlers := mt.handlers
	mt.mu.Unlock()
	if !ok {
		return
	}
	if handlers.OnConnectionLost != nil {
		handlers.OnConnectionLost(peerID, mt, conn.state == transport.StateTemporary)
	}
}

func (mt *mockTransport) Send(peerID crypto.NodeID, data []byte, done func(error)) bool {
	mt.mu.Lock()
	_, ok := mt.conns[peerID]
	if ok {
		mt.sent = append(mt.sent, data)
	}
	closed := mt.closed
	mt.mu.Unlock()
	if !ok || closed {
		return false
	}
	if done != nil {
		done(nil)
	}
	return true
}

func (mt *mockTransport) Ping(peerID crypto.NodeID, endpoint transport.Endpoint,
	key [32]byte, done func(error),
) {
	if done != nil {
		done(nil)
	}
}

func (mt *mockTransport) Close() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.closed = true
	mt.conns = make(map[crypto.NodeID]*mockConnection)
}

func (mt *mockTransport) isClosed() bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.closed
}

func (mt *mockTransport) IsIdle() bool {
	return mt.NormalConnectionsCount() == 0
}

func (mt *mockTransport) IsAvailable() bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return !mt.closed && len(mt.conns) < mt.maxConns
}

func (mt *mockTransport) NormalConnectionsCount() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	count := 0
	for _, conn := range mt.conns {
		if conn.state != transport.StateTemporary {
			count++
		}
	}
	return count
}

func (mt *mockTransport) GetConnection(peerID crypto.NodeID) transport.Connection {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if conn, ok := mt.conns[peerID]; ok {
		return conn
	}
	return nil
}

func (mt *mockTransport) LocalEndpoint() transport.Endpoint {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.local
}

func (mt *mockTransport) ExternalEndpoint() transport.Endpoint {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.external
}

func (mt *mockTransport) SetBestGuessExternalEndpoint(e transport.Endpoint) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if !mt.external.IsValid() {
		mt.external = e
	}
}

func (mt *mockTransport) ThisEndpointAsSeenByPeer(peerID crypto.NodeID) transport.Endpoint {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if conn, ok := mt.conns[peerID]; ok {
		return conn.seenBy
	}
	return transport.Endpoint{}
}

func (mt *mockTransport) DebugString() string {
	return fmt.Sprintf("mock transport %s at %s", mt.name, mt.local)
}

// mockFactory hands prepared transports to the manager, minting default
// ones when the queue runs dry.
type mockFactory struct {
	mu    sync.Mutex
	queue []*mockTransport
	made  []*mockTransport
	nat   *transport.NATState
}

func (f *mockFactory) push(mt *mockTransport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, mt)
}

func (f *mockFactory) factory(nat *transport.NATState, keys *crypto.KeyPair) transport.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nat = nat
	var mt *mockTransport
	if len(f.queue) > 0 {
		mt = f.queue[0]
		f.queue = f.queue[1:]
	} else {
		mt = newMockTransport(fmt.Sprintf("auto-%d", len(f.made)))
	}
	f.made = append(f.made, mt)
	return mt
}

// recordingListener collects listener events.
type recordingListener struct {
	mu       sync.Mutex
	messages []struct {
		peer crypto.NodeID
		data []byte
	}
	lost []crypto.NodeID
}

func (l *recordingListener) MessageReceived(peerID crypto.NodeID, message []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, struct {
		peer crypto.NodeID
		data []byte
	}{peerID, message})
}

func (l *recordingListener) ConnectionLost(peerID crypto.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = append(l.lost, peerID)
}

func (l *recordingListener) lostCount(peerID crypto.NodeID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, id := range l.lost {
		if id == peerID {
			count++
		}
	}
	return count
}

func (l *recordingListener) messageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
