package rudp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paul1989889/rudp/crypto"
	"github.com/paul1989889/rudp/transport"
)

func TestOnMessageDecrypts(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	ciphertext, err := crypto.Encrypt([]byte("hello"), node.keys.Public)
	require.NoError(t, err)

	handlers := first.registeredHandlers()
	handlers.OnMessage(peer.ID, ciphertext)

	require.Equal(t, 1, node.listener.messageCount())
	node.listener.mu.Lock()
	defer node.listener.mu.Unlock()
	assert.Equal(t, peer.ID, node.listener.messages[0].peer)
	assert.Equal(t, []byte("hello"), node.listener.messages[0].data)
}

func TestOnMessageDropsUndecryptable(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	first.registeredHandlers().OnMessage(peer.ID, []byte("not a sealed box"))
	assert.Equal(t, 0, node.listener.messageCount(),
		"undecryptable messages never reach the listener")
}

func TestOnMessagePlaintextWhenEncryptionDisabled(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	node.mc.opts.DisableEncryption = true
	first.registeredHandlers().OnMessage(peer.ID, []byte("plain"))

	require.Equal(t, 1, node.listener.messageCount())
	node.listener.mu.Lock()
	defer node.listener.mu.Unlock()
	assert.Equal(t, []byte("plain"), node.listener.messages[0].data)
}

func TestDuplicateNormalConnection(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	second := newMockTransport("second")
	handlers := first.registeredHandlers()

	target := testContact(t, 7100)
	dupFirst := handlers.OnConnectionAdded(target.ID, first, false)
	dupSecond := handlers.OnConnectionAdded(target.ID, second, false)

	assert.False(t, dupFirst, "the first transport wins")
	assert.True(t, dupSecond, "the second report is a duplicate")

	node.mc.mu.Lock()
	defer node.mc.mu.Unlock()
	assert.Same(t, first, node.mc.connections[target.ID].(*mockTransport))
}

func TestTemporaryConnectionOnlyRefreshesIdle(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	idle := newMockTransport("idle")
	target := testContact(t, 7100)
	dup := first.registeredHandlers().OnConnectionAdded(target.ID, idle, true)
	assert.False(t, dup)

	node.mc.mu.Lock()
	defer node.mc.mu.Unlock()
	_, inConnections := node.mc.connections[target.ID]
	assert.False(t, inConnections, "temporary connections never enter the directory")
	_, isIdle := node.mc.idleTransports[idle]
	assert.True(t, isIdle)
}

func TestConnectionLostForBootstrapPeer(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	first.mu.Lock()
	delete(first.conns, peer.ID)
	first.mu.Unlock()
	first.registeredHandlers().OnConnectionLost(peer.ID, first, false)

	assert.Equal(t, 1, node.listener.lostCount(peer.ID), "exactly one notification")
	node.mc.mu.Lock()
	defer node.mc.mu.Unlock()
	assert.False(t, node.mc.chosenBootstrapContact.ID.IsValid(),
		"losing the bootstrap peer clears the chosen contact")
	_, still := node.mc.connections[peer.ID]
	assert.False(t, still)
}

func TestConnectionLostTemporaryIsQuiet(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	first.registeredHandlers().OnConnectionLost(peer.ID, first, true)
	assert.Equal(t, 0, node.listener.lostCount(peer.ID))
	node.mc.mu.Lock()
	defer node.mc.mu.Unlock()
	_, still := node.mc.connections[peer.ID]
	assert.True(t, still, "a temporary loss leaves the managed connection alone")
}

func TestConnectionLostWrongTransportIsDropped(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	other := newMockTransport("other")
	first.registeredHandlers().OnConnectionLost(peer.ID, other, false)

	assert.Equal(t, 0, node.listener.lostCount(peer.ID),
		"a loss reported by a transport the directory does not hold is swallowed")
	node.mc.mu.Lock()
	defer node.mc.mu.Unlock()
	_, still := node.mc.connections[peer.ID]
	assert.True(t, still)
}

func TestConnectionLostRemovesPending(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	// Shadow the bootstrap connection with a pending, then lose the peer.
	_, err := node.mc.GetAvailableEndpoint(peer.ID, transport.EndpointPair{})
	require.NoError(t, err)

	first.mu.Lock()
	delete(first.conns, peer.ID)
	first.mu.Unlock()
	first.registeredHandlers().OnConnectionLost(peer.ID, first, false)

	node.mc.mu.Lock()
	defer node.mc.mu.Unlock()
	assert.Empty(t, node.mc.pendings)
}

func TestNATDetectionRequested(t *testing.T) {
	peer := testContact(t, 7000)
	node, first := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	asker := testContact(t, 7100)
	askerEndpoint := transport.Endpoint{IP: net.IPv4(198, 51, 100, 9), Port: 4000}

	// Unknown NAT type: no port to offer.
	port := node.mc.onNATDetectionRequested(first.LocalEndpoint(), asker.ID, askerEndpoint)
	assert.Equal(t, uint16(0), port)

	node.factory.nat.Set(transport.NATSymmetric)
	port = node.mc.onNATDetectionRequested(first.LocalEndpoint(), asker.ID, askerEndpoint)
	assert.Equal(t, uint16(0), port)

	// Cone NAT with a second connected transport on another endpoint.
	node.factory.nat.Set(transport.NATOtherCone)
	second := newMockTransport("second")
	second.external = transport.Endpoint{IP: net.IPv4(203, 0, 113, 200), Port: 9999}
	other := testContact(t, 7200)
	second.addConn(other.ID, transport.StatePermanent, other.EndpointPair.Local, other.PublicKey)
	first.registeredHandlers().OnConnectionAdded(other.ID, second, false)

	port = node.mc.onNATDetectionRequested(first.LocalEndpoint(), asker.ID, askerEndpoint)
	assert.Equal(t, uint16(9999), port)

	// Asked from the second transport itself, only the first qualifies.
	port = node.mc.onNATDetectionRequested(second.LocalEndpoint(), asker.ID, askerEndpoint)
	assert.Equal(t, first.ExternalEndpoint().Port, port)
}

func TestUpdateIdleTransports(t *testing.T) {
	peer := testContact(t, 7000)
	node, _ := newBootstrappedNode(t, peer)
	defer node.mc.Close()

	idle := newMockTransport("idle")
	node.mc.mu.Lock()
	node.mc.updateIdleTransports(idle)
	_, present := node.mc.idleTransports[idle]
	node.mc.mu.Unlock()
	assert.True(t, present)

	// A transport with a normal connection is no longer idle.
	busy := testContact(t, 7300)
	idle.addConn(busy.ID, transport.StatePermanent, busy.EndpointPair.Local, busy.PublicKey)
	node.mc.mu.Lock()
	node.mc.updateIdleTransports(idle)
	_, present = node.mc.idleTransports[idle]
	node.mc.mu.Unlock()
	assert.False(t, present)
}
