package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paul1989889/rudp/crypto"
)

// DefaultMaxConnections caps the number of normal connections one
// transport hosts.
const DefaultMaxConnections = 50

const (
	bootstrapAttemptTimeout = 2 * time.Second
	connectTimeout          = 10 * time.Second
	pingTimeout             = 3 * time.Second
)

// UDPTransport hosts a bounded set of peer connections on one UDP socket.
// It implements Transport.
type UDPTransport struct {
	nat            *NATState
	keys           *crypto.KeyPair
	maxConnections int
	debugID        string

	mu         sync.Mutex
	mux        *multiplexer
	thisNodeID crypto.NodeID
	publicKey  [32]byte
	handlers   Handlers
	conns      map[crypto.NodeID]*connection
	external   Endpoint
	closed     bool

	bootstrapCh chan bootstrapReply

	pingSeq   uint64
	pings     map[uint64]*pendingPing
	dispatchN int
}

type bootstrapReply struct {
	resp *bootstrapResponse
	from Endpoint
}

type pendingPing struct {
	done  func(error)
	timer *time.Timer
}

// NewUDPTransport creates an unbound transport. The socket is bound when
// Bootstrap runs. The NAT state is shared with the connection manager;
// the key pair provides the Noise static key for rendezvous connects.
func NewUDPTransport(nat *NATState, keys *crypto.KeyPair, maxConnections, dispatchers int) *UDPTransport {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	if nat == nil {
		nat = NewNATState()
	}
	return &UDPTransport{
		nat:            nat,
		keys:           keys,
		maxConnections: maxConnections,
		dispatchN:      dispatchers,
		debugID:        uuid.NewString()[:8],
		conns:          make(map[crypto.NodeID]*connection),
		pings:          make(map[uint64]*pendingPing),
	}
}

// Bootstrap binds the socket and walks the candidate list until one peer
// answers. done fires exactly once, from a dedicated goroutine.
func (t *UDPTransport) Bootstrap(candidates []Contact, thisNodeID crypto.NodeID, publicKey [32]byte,
	localEndpoint Endpoint, offExisting bool, handlers Handlers, done BootstrapFunc,
) {
	go t.runBootstrap(candidates, thisNodeID, publicKey, localEndpoint, offExisting, handlers, done)
}

func (t *UDPTransport) runBootstrap(candidates []Contact, thisNodeID crypto.NodeID, publicKey [32]byte,
	localEndpoint Endpoint, offExisting bool, handlers Handlers, done BootstrapFunc,
) {
	mux, err := openMultiplexer(localEndpoint, t.dispatchN, t.handlePacket)
	if err != nil {
		done(fmt.Errorf("failed to bind %s: %w", localEndpoint, err), Contact{})
		return
	}

	replies := make(chan bootstrapReply, 8)
	t.mu.Lock()
	t.mux = mux
	t.thisNodeID = thisNodeID
	t.publicKey = publicKey
	t.handlers = handlers
	t.bootstrapCh = replies
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.bootstrapCh = nil
		t.mu.Unlock()
	}()

	request := &bootstrapRequest{NodeID: thisNodeID, PublicKey: publicKey, Temporary: offExisting}
	for _, candidate := range candidates {
		if !candidate.ID.IsValid() || candidate.ID == thisNodeID {
			continue
		}
		for _, target := range candidateEndpoints(candidate) {
			chosen, ok := t.tryCandidate(request, candidate, target, offExisting, replies)
			if !ok {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function":  "runBootstrap",
				"transport": t.debugID,
				"chosen":    chosen.ID.ShortString(),
				"endpoint":  target.String(),
			}).Info("Bootstrap succeeded")
			done(nil, chosen)
			return
		}
	}

	done(errors.New("no bootstrap candidate answered"), Contact{})
}

func candidateEndpoints(c Contact) []Endpoint {
	var out []Endpoint
	if c.EndpointPair.External.IsValid() {
		out = append(out, c.EndpointPair.External)
	}
	if c.EndpointPair.Local.IsValid() && !c.EndpointPair.Local.Equal(c.EndpointPair.External) {
		out = append(out, c.EndpointPair.Local)
	}
	return out
}

func (t *UDPTransport) tryCandidate(request *bootstrapRequest, candidate Contact, target Endpoint,
	offExisting bool, replies chan bootstrapReply,
) (Contact, bool) {
	pkt := &Packet{PacketType: PacketBootstrapRequest, Data: request.marshal()}
	if err := t.mux.send(pkt, target); err != nil {
		return Contact{}, false
	}

	deadline := time.NewTimer(bootstrapAttemptTimeout)
	defer deadline.Stop()
	// Datagrams get lost and rendezvous peers may bind late, so keep
	// re-sending the request until the attempt window closes.
	resend := time.NewTicker(bootstrapAttemptTimeout / 4)
	defer resend.Stop()
	for {
		select {
		case reply := <-replies:
			if reply.resp.NodeID != candidate.ID {
				continue
			}
			return t.acceptBootstrap(reply, target, offExisting), true
		case <-resend.C:
			_ = t.mux.send(pkt, target)
		case <-deadline.C:
			return Contact{}, false
		}
	}
}

// acceptBootstrap records the responder as a connection and learns this
// node's external endpoint from the responder's observation.
func (t *UDPTransport) acceptBootstrap(reply bootstrapReply, target Endpoint, offExisting bool) Contact {
	resp := reply.resp
	state := StateBootstrapping
	if offExisting {
		state = StateTemporary
	}
	t.mu.Lock()
	existing, known := t.conns[resp.NodeID]
	if known {
		// The peer's own bootstrap request crossed ours and already
		// registered the connection; just record its observation.
		existing.mu.Lock()
		existing.seenBy = resp.Observed
		existing.mu.Unlock()
	} else {
		t.conns[resp.NodeID] = &connection{
			peerID:       resp.NodeID,
			peerKey:      resp.PublicKey,
			peerEndpoint: target,
			state:        state,
			temporary:    offExisting,
			seenBy:       resp.Observed,
		}
	}
	if resp.Observed.IsValid() {
		t.external = resp.Observed
		if t.nat.Get() == NATUnknown {
			// A single observation cannot separate cone from symmetric;
			// assume cone-like. Later observations do not reclassify it.
			t.nat.Set(NATOtherCone)
		}
	}
	handlers := t.handlers
	t.mu.Unlock()

	if !known {
		if handlers.OnConnectionAdded != nil {
			if duplicate := handlers.OnConnectionAdded(resp.NodeID, t, offExisting); duplicate {
				t.closePeer(resp.NodeID, true)
			}
		}
		if offExisting {
			// The probe served its purpose once the external endpoint is
			// known.
			t.closePeer(resp.NodeID, true)
		}
	}

	return Contact{
		ID:           resp.NodeID,
		EndpointPair: EndpointPair{Local: target},
		PublicKey:    resp.PublicKey,
	}
}

// Connect performs the rendezvous handshake with a peer.
func (t *UDPTransport) Connect(peerID crypto.NodeID, peerEndpoints EndpointPair,
	peerPublicKey [32]byte, done func(error),
) {
	if done == nil {
		done = func(error) {}
	}

	t.mu.Lock()
	if t.closed || t.mux == nil {
		t.mu.Unlock()
		go done(errors.New("transport is closed"))
		return
	}
	if existing, ok := t.conns[peerID]; ok {
		t.mu.Unlock()
		if existing.State() == StateUnvalidated {
			existing.setState(StatePermanent)
		}
		go done(nil)
		return
	}
	if len(t.conns) >= t.maxConnections {
		t.mu.Unlock()
		go done(errors.New("transport is full"))
		return
	}

	hs, err := crypto.NewInitiatorHandshake(t.keys, peerPublicKey)
	if err != nil {
		t.mu.Unlock()
		go done(err)
		return
	}

	conn := &connection{
		peerID:      peerID,
		peerKey:     peerPublicKey,
		state:       StateUnvalidated,
		handshake:   hs,
		connectDone: done,
	}
	t.conns[peerID] = conn
	mux := t.mux
	thisID := t.thisNodeID
	t.mu.Unlock()

	msg1, _, err := hs.WriteMessage(nil)
	if err != nil {
		t.failConnect(peerID, err)
		return
	}

	payload := (&idPayload{NodeID: thisID, Rest: msg1}).marshal()
	pkt := &Packet{PacketType: PacketConnectRequest, Data: payload}
	sent := false
	for _, target := range []Endpoint{peerEndpoints.External, peerEndpoints.Local} {
		if !target.IsValid() {
			continue
		}
		if err := mux.send(pkt, target); err == nil {
			sent = true
		}
	}
	if !sent {
		t.failConnect(peerID, errors.New("no usable peer endpoint"))
		return
	}

	time.AfterFunc(connectTimeout, func() {
		t.failConnect(peerID, errors.New("rendezvous connect timed out"))
	})
}

// failConnect removes an in-flight connect attempt and reports err. Noop
// when the handshake already completed.
func (t *UDPTransport) failConnect(peerID crypto.NodeID, err error) {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	if !ok {
		t.mu.Unlock()
		return
	}
	conn.mu.Lock()
	inflight := conn.handshake != nil && conn.state == StateUnvalidated
	done := conn.connectDone
	if inflight {
		conn.connectDone = nil
	}
	conn.mu.Unlock()
	if !inflight {
		t.mu.Unlock()
		return
	}
	delete(t.conns, peerID)
	t.mu.Unlock()

	if done != nil {
		done(err)
	}
}

// CloseConnection tears down the connection to one peer.
func (t *UDPTransport) CloseConnection(peerID crypto.NodeID) {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	var mux *multiplexer
	if ok {
		delete(t.conns, peerID)
		mux = t.mux
	}
	handlers := t.handlers
	thisID := t.thisNodeID
	t.mu.Unlock()
	if !ok {
		return
	}

	if mux != nil {
		payload := (&idPayload{NodeID: thisID}).marshal()
		_ = mux.send(&Packet{PacketType: PacketClose, Data: payload}, conn.PeerEndpoint())
	}
	if handlers.OnConnectionLost != nil {
		handlers.OnConnectionLost(peerID, t, conn.isTemporary())
	}
}

// closePeer removes a connection, notifying the peer, and reports the loss
// as temporary when asTemporary is set.
func (t *UDPTransport) closePeer(peerID crypto.NodeID, asTemporary bool) {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	if ok {
		delete(t.conns, peerID)
	}
	mux := t.mux
	handlers := t.handlers
	thisID := t.thisNodeID
	t.mu.Unlock()
	if !ok {
		return
	}

	if asTemporary {
		conn.mu.Lock()
		conn.temporary = true
		conn.mu.Unlock()
	}
	if mux != nil && conn.PeerEndpoint().IsValid() {
		payload := (&idPayload{NodeID: thisID}).marshal()
		_ = mux.send(&Packet{PacketType: PacketClose, Data: payload}, conn.PeerEndpoint())
	}
	if handlers.OnConnectionLost != nil {
		handlers.OnConnectionLost(peerID, t, conn.isTemporary())
	}
}

// Send queues one message to a connected peer.
func (t *UDPTransport) Send(peerID crypto.NodeID, data []byte, done func(error)) bool {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	mux := t.mux
	thisID := t.thisNodeID
	t.mu.Unlock()
	if !ok || mux == nil || conn.State() == StateTemporary {
		return false
	}

	sealed, encrypted, err := conn.seal(data)
	if err != nil {
		if done != nil {
			go done(err)
		}
		return true
	}

	rest := make([]byte, 1+len(sealed))
	if encrypted {
		rest[0] = 1
	}
	copy(rest[1:], sealed)
	payload := (&idPayload{NodeID: thisID, Rest: rest}).marshal()
	err = mux.send(&Packet{PacketType: PacketMessage, Data: payload}, conn.PeerEndpoint())
	if done != nil {
		go done(err)
	}
	return true
}

// Ping sends a single probe datagram to an arbitrary endpoint.
func (t *UDPTransport) Ping(peerID crypto.NodeID, endpoint Endpoint, _ [32]byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}

	t.mu.Lock()
	if t.closed || t.mux == nil {
		t.mu.Unlock()
		go done(errors.New("transport is closed"))
		return
	}
	t.pingSeq++
	seq := t.pingSeq
	pp := &pendingPing{done: done}
	pp.timer = time.AfterFunc(pingTimeout, func() {
		t.mu.Lock()
		_, ok := t.pings[seq]
		delete(t.pings, seq)
		t.mu.Unlock()
		if ok {
			done(errors.New("ping timed out"))
		}
	})
	t.pings[seq] = pp
	mux := t.mux
	thisID := t.thisNodeID
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Ping",
		"peer":     peerID.ShortString(),
		"endpoint": endpoint.String(),
	}).Debug("Sending ping")

	rest := make([]byte, 8)
	binary.BigEndian.PutUint64(rest, seq)
	payload := (&idPayload{NodeID: thisID, Rest: rest}).marshal()
	if err := mux.send(&Packet{PacketType: PacketPing, Data: payload}, endpoint); err != nil {
		t.mu.Lock()
		if _, ok := t.pings[seq]; ok {
			delete(t.pings, seq)
			pp.timer.Stop()
			t.mu.Unlock()
			go done(err)
			return
		}
		t.mu.Unlock()
	}
}

// Close releases the socket. Idempotent; outstanding callbacks become
// noops.
func (t *UDPTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	mux := t.mux
	t.conns = make(map[crypto.NodeID]*connection)
	for _, pp := range t.pings {
		pp.timer.Stop()
	}
	t.pings = make(map[uint64]*pendingPing)
	t.mu.Unlock()

	if mux != nil {
		mux.close()
	}
}

// IsIdle reports whether the transport hosts no normal connections.
func (t *UDPTransport) IsIdle() bool {
	return t.NormalConnectionsCount() == 0
}

// IsAvailable reports whether the transport can host another connection.
func (t *UDPTransport) IsAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.mux != nil && len(t.conns) < t.maxConnections
}

// NormalConnectionsCount counts non-temporary connections.
func (t *UDPTransport) NormalConnectionsCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, conn := range t.conns {
		if !conn.isTemporary() {
			count++
		}
	}
	return count
}

// GetConnection returns the connection to peerID, or nil.
func (t *UDPTransport) GetConnection(peerID crypto.NodeID) Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peerID]; ok {
		return conn
	}
	return nil
}

// LocalEndpoint is the bound socket address, zero before Bootstrap.
func (t *UDPTransport) LocalEndpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mux == nil {
		return Endpoint{}
	}
	return t.mux.localEndpoint()
}

// ExternalEndpoint is this transport's NAT mapping as last observed.
func (t *UDPTransport) ExternalEndpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.external
}

// SetBestGuessExternalEndpoint records an inferred external endpoint when
// none was observed directly.
func (t *UDPTransport) SetBestGuessExternalEndpoint(e Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.external.IsValid() {
		t.external = e
	}
}

// ThisEndpointAsSeenByPeer returns this node's endpoint as the peer
// observed it during bootstrap, zero when unknown.
func (t *UDPTransport) ThisEndpointAsSeenByPeer(peerID crypto.NodeID) Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peerID]; ok {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.seenBy
	}
	return Endpoint{}
}

// DebugString describes the transport and its connections.
func (t *UDPTransport) DebugString() string {
	t.mu.Lock()
	conns := make([]*connection, 0, len(t.conns))
	for _, conn := range t.conns {
		conns = append(conns, conn)
	}
	local := Endpoint{}
	if t.mux != nil {
		local = t.mux.localEndpoint()
	}
	external := t.external
	t.mu.Unlock()

	s := fmt.Sprintf("transport %s at %s / %s:\n", t.debugID, external, local)
	for _, conn := range conns {
		s += conn.debugString()
	}
	return s
}

func (t *UDPTransport) handlePacket(pkt *Packet, from *net.UDPAddr) {
	fromEp := EndpointFromUDPAddr(from)
	switch pkt.PacketType {
	case PacketBootstrapRequest:
		t.handleBootstrapRequest(pkt.Data, fromEp)
	case PacketBootstrapResponse:
		t.handleBootstrapResponse(pkt.Data, fromEp)
	case PacketConnectRequest:
		t.handleConnectRequest(pkt.Data, fromEp)
	case PacketConnectResponse:
		t.handleConnectResponse(pkt.Data, fromEp)
	case PacketMessage:
		t.handleMessage(pkt.Data, fromEp)
	case PacketPing:
		t.handlePing(pkt.Data, fromEp)
	case PacketPong:
		t.handlePong(pkt.Data)
	case PacketClose:
		t.handleClose(pkt.Data)
	}
}

func (t *UDPTransport) handleBootstrapRequest(data []byte, from Endpoint) {
	req, err := parseBootstrapRequest(data)
	if err != nil {
		return
	}

	t.mu.Lock()
	if t.closed || t.mux == nil || req.NodeID == t.thisNodeID {
		t.mu.Unlock()
		return
	}
	_, known := t.conns[req.NodeID]
	full := len(t.conns) >= t.maxConnections
	mux := t.mux
	thisID := t.thisNodeID
	publicKey := t.publicKey
	handlers := t.handlers
	local := mux.localEndpoint()
	t.mu.Unlock()

	if !known && full {
		return
	}

	var probePort uint16
	if handlers.OnNATDetection != nil && !req.Temporary {
		probePort = handlers.OnNATDetection(local, req.NodeID, from)
	}

	if !known {
		state := StateBootstrapping
		if req.Temporary {
			state = StateTemporary
		}
		conn := &connection{
			peerID:       req.NodeID,
			peerKey:      req.PublicKey,
			peerEndpoint: from,
			state:        state,
			temporary:    req.Temporary,
		}
		t.mu.Lock()
		t.conns[req.NodeID] = conn
		t.mu.Unlock()

		if handlers.OnConnectionAdded != nil {
			if duplicate := handlers.OnConnectionAdded(req.NodeID, t, req.Temporary); duplicate {
				t.closePeer(req.NodeID, true)
				return
			}
		}
	}

	resp := &bootstrapResponse{
		NodeID:       thisID,
		PublicKey:    publicKey,
		Observed:     from,
		NATProbePort: probePort,
	}
	_ = mux.send(&Packet{PacketType: PacketBootstrapResponse, Data: resp.marshal()}, from)
}

func (t *UDPTransport) handleBootstrapResponse(data []byte, from Endpoint) {
	resp, err := parseBootstrapResponse(data)
	if err != nil {
		return
	}
	t.mu.Lock()
	ch := t.bootstrapCh
	t.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- bootstrapReply{resp: resp, from: from}:
	default:
	}
}

func (t *UDPTransport) handleConnectRequest(data []byte, from Endpoint) {
	payload, err := parseIDPayload(data)
	if err != nil {
		return
	}
	peerID := payload.NodeID

	t.mu.Lock()
	if t.closed || t.mux == nil || peerID == t.thisNodeID {
		t.mu.Unlock()
		return
	}
	var abandonedDone func(error)
	if existing, ok := t.conns[peerID]; ok {
		existing.mu.Lock()
		inflight := existing.handshake != nil
		established := existing.session != nil
		if inflight && t.thisNodeID.String() >= peerID.String() {
			abandonedDone = existing.connectDone
			existing.connectDone = nil
		}
		existing.mu.Unlock()
		if established || (inflight && t.thisNodeID.String() < peerID.String()) {
			// Either the session already completed (this is a duplicated
			// datagram), or this is a simultaneous rendezvous and the
			// smaller ID stays initiator; the peer answers our request.
			t.mu.Unlock()
			return
		}
		// Drop our attempt (or a stale bootstrap record) and answer as
		// responder.
		delete(t.conns, peerID)
	}
	full := len(t.conns) >= t.maxConnections
	mux := t.mux
	thisID := t.thisNodeID
	keys := t.keys
	handlers := t.handlers
	t.mu.Unlock()

	if full {
		return
	}

	hs, err := crypto.NewResponderHandshake(keys)
	if err != nil {
		return
	}
	if _, _, err = hs.ReadMessage(payload.Rest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleConnectRequest",
			"peer":     peerID.ShortString(),
			"error":    err.Error(),
		}).Warn("Rejecting connect request with bad handshake")
		return
	}
	peerKey, err := hs.PeerKey()
	if err != nil {
		return
	}
	msg2, session, err := hs.WriteMessage(nil)
	if err != nil || session == nil {
		return
	}

	state := StateUnvalidated
	if abandonedDone != nil {
		// We were connecting to this peer ourselves, so the connection is
		// wanted locally and is validated on both sides.
		state = StatePermanent
	}
	conn := &connection{
		peerID:       peerID,
		peerKey:      peerKey,
		peerEndpoint: from,
		state:        state,
		session:      session,
	}
	t.mu.Lock()
	t.conns[peerID] = conn
	t.mu.Unlock()

	out := (&idPayload{NodeID: thisID, Rest: msg2}).marshal()
	_ = mux.send(&Packet{PacketType: PacketConnectResponse, Data: out}, from)

	if handlers.OnConnectionAdded != nil {
		if duplicate := handlers.OnConnectionAdded(peerID, t, false); duplicate {
			t.closePeer(peerID, true)
			if abandonedDone != nil {
				abandonedDone(errors.New("already connected elsewhere"))
			}
			return
		}
	}
	if abandonedDone != nil {
		abandonedDone(nil)
	}
}

func (t *UDPTransport) handleConnectResponse(data []byte, from Endpoint) {
	payload, err := parseIDPayload(data)
	if err != nil {
		return
	}
	peerID := payload.NodeID

	t.mu.Lock()
	conn, ok := t.conns[peerID]
	handlers := t.handlers
	t.mu.Unlock()
	if !ok {
		return
	}

	conn.mu.Lock()
	hs := conn.handshake
	if hs == nil {
		conn.mu.Unlock()
		return
	}
	_, session, err := hs.ReadMessage(payload.Rest)
	if err != nil || session == nil {
		conn.mu.Unlock()
		if err != nil {
			t.failConnect(peerID, err)
		}
		return
	}
	conn.handshake = nil
	conn.session = session
	conn.state = StatePermanent
	conn.peerEndpoint = from
	done := conn.connectDone
	conn.connectDone = nil
	conn.mu.Unlock()

	if handlers.OnConnectionAdded != nil {
		if duplicate := handlers.OnConnectionAdded(peerID, t, false); duplicate {
			t.closePeer(peerID, true)
			if done != nil {
				done(errors.New("already connected elsewhere"))
			}
			return
		}
	}
	if done != nil {
		done(nil)
	}
}

func (t *UDPTransport) handleMessage(data []byte, from Endpoint) {
	payload, err := parseIDPayload(data)
	if err != nil || len(payload.Rest) < 1 {
		return
	}
	peerID := payload.NodeID

	t.mu.Lock()
	conn, ok := t.conns[peerID]
	handlers := t.handlers
	t.mu.Unlock()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "handleMessage",
			"peer":     peerID.ShortString(),
			"from":     from.String(),
		}).Debug("Dropping message from unknown peer")
		return
	}

	sealed := payload.Rest[0] == 1
	plaintext, err := conn.open(payload.Rest[1:], sealed)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleMessage",
			"peer":     peerID.ShortString(),
			"error":    err.Error(),
		}).Error("Failed to open message")
		return
	}

	// Traffic over an established session validates an inbound connection.
	if sealed && conn.State() == StateUnvalidated {
		conn.setState(StatePermanent)
	}

	if handlers.OnMessage != nil {
		handlers.OnMessage(peerID, plaintext)
	}
}

func (t *UDPTransport) handlePing(data []byte, from Endpoint) {
	payload, err := parseIDPayload(data)
	if err != nil || len(payload.Rest) != 8 {
		return
	}
	t.mu.Lock()
	mux := t.mux
	thisID := t.thisNodeID
	closed := t.closed
	t.mu.Unlock()
	if closed || mux == nil {
		return
	}
	out := (&idPayload{NodeID: thisID, Rest: payload.Rest}).marshal()
	_ = mux.send(&Packet{PacketType: PacketPong, Data: out}, from)
}

func (t *UDPTransport) handlePong(data []byte) {
	payload, err := parseIDPayload(data)
	if err != nil || len(payload.Rest) != 8 {
		return
	}
	seq := binary.BigEndian.Uint64(payload.Rest)

	t.mu.Lock()
	pp, ok := t.pings[seq]
	delete(t.pings, seq)
	t.mu.Unlock()
	if !ok {
		return
	}
	pp.timer.Stop()
	pp.done(nil)
}

func (t *UDPTransport) handleClose(data []byte) {
	payload, err := parseIDPayload(data)
	if err != nil {
		return
	}
	peerID := payload.NodeID

	t.mu.Lock()
	conn, ok := t.conns[peerID]
	if ok {
		delete(t.conns, peerID)
	}
	handlers := t.handlers
	t.mu.Unlock()
	if !ok {
		return
	}

	if handlers.OnConnectionLost != nil {
		handlers.OnConnectionLost(peerID, t, conn.isTemporary())
	}
}
