package transport

import (
	"fmt"
	"sync"

	"github.com/paul1989889/rudp/crypto"
)

// connection is one peer connection owned by a UDPTransport.
type connection struct {
	mu           sync.Mutex
	peerID       crypto.NodeID
	peerKey      [32]byte
	peerEndpoint Endpoint
	state        ConnectionState
	temporary    bool
	session      *crypto.Session
	// seenBy is this node's endpoint as observed by the peer, learned
	// from the bootstrap exchange. Zero when unknown.
	seenBy Endpoint
	// handshake is non-nil while a rendezvous connect is in flight.
	handshake   *crypto.Handshake
	connectDone func(error)
}

func (c *connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) PeerNodeID() crypto.NodeID {
	return c.peerID
}

func (c *connection) PeerEndpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerEndpoint
}

func (c *connection) PeerPublicKey() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerKey
}

func (c *connection) setState(s ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *connection) isTemporary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.temporary
}

// seal encrypts outbound payload with the connection's session cipher.
// Bootstrap connections have no session yet and send as-is.
func (c *connection) seal(payload []byte) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return payload, false, nil
	}
	out, err := c.session.SendCipher.Encrypt(nil, nil, payload)
	return out, true, err
}

// open decrypts inbound payload when a session exists.
func (c *connection) open(payload []byte, sealed bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !sealed {
		return payload, nil
	}
	if c.session == nil {
		return nil, fmt.Errorf("sealed message on %s connection without session", c.state)
	}
	return c.session.RecvCipher.Decrypt(nil, nil, payload)
}

func (c *connection) debugString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("\t%s [%s] at %s\n", c.peerID.ShortString(), c.state, c.peerEndpoint)
}
