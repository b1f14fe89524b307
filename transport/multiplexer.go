package transport

import (
	"math/rand"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

const maxDatagramSize = 65507

var debugLoss struct {
	mu       sync.Mutex
	constant float64
	bursty   float64
	inBurst  int
}

// SetDebugPacketLossRate configures inbound packet loss for tests. The
// constant rate drops packets independently; the bursty rate starts short
// runs of consecutive drops. Both are fractions in [0, 1]; zero disables.
func SetDebugPacketLossRate(constant, bursty float64) {
	debugLoss.mu.Lock()
	defer debugLoss.mu.Unlock()
	debugLoss.constant = constant
	debugLoss.bursty = bursty
	debugLoss.inBurst = 0
}

func dropForDebugLoss() bool {
	debugLoss.mu.Lock()
	defer debugLoss.mu.Unlock()
	if debugLoss.constant == 0 && debugLoss.bursty == 0 {
		return false
	}
	if debugLoss.inBurst > 0 {
		debugLoss.inBurst--
		return true
	}
	if debugLoss.bursty > 0 && rand.Float64() < debugLoss.bursty {
		debugLoss.inBurst = 2 + rand.Intn(4)
		return true
	}
	return rand.Float64() < debugLoss.constant
}

// inboundPacket pairs a parsed packet with its sender.
type inboundPacket struct {
	packet *Packet
	from   *net.UDPAddr
}

// multiplexer owns the UDP socket. One reader goroutine feeds a pool of
// dispatcher goroutines that run the transport's packet handler.
type multiplexer struct {
	conn     net.PacketConn
	local    Endpoint
	inbound  chan inboundPacket
	handler  func(pkt *Packet, from *net.UDPAddr)
	wg       sync.WaitGroup
	closeOne sync.Once
}

// openMultiplexer binds a UDP socket at local (port 0 asks the kernel for
// one) and starts dispatchers dispatcher goroutines.
func openMultiplexer(local Endpoint, dispatchers int, handler func(pkt *Packet, from *net.UDPAddr)) (*multiplexer, error) {
	listenAddr := net.JoinHostPort("", "0")
	if len(local.IP) != 0 {
		listenAddr = local.UDPAddr().String()
	}
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	if dispatchers < 1 {
		dispatchers = 1
	}

	m := &multiplexer{
		conn:    conn,
		inbound: make(chan inboundPacket, 64),
		handler: handler,
	}

	bound := conn.LocalAddr().(*net.UDPAddr)
	m.local = EndpointFromUDPAddr(bound)
	if !m.local.IsValid() && local.IsValid() {
		m.local.IP = local.IP
	}

	m.wg.Add(1 + dispatchers)
	go m.readLoop()
	for i := 0; i < dispatchers; i++ {
		go m.dispatchLoop()
	}
	return m, nil
}

func (m *multiplexer) readLoop() {
	defer m.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := m.conn.ReadFrom(buf)
		if err != nil {
			close(m.inbound)
			return
		}
		if dropForDebugLoss() {
			continue
		}
		pkt, err := ParsePacket(buf[:n])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"from":     from.String(),
				"error":    err.Error(),
			}).Debug("Dropping malformed datagram")
			continue
		}
		udpFrom, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		m.inbound <- inboundPacket{packet: pkt, from: udpFrom}
	}
}

func (m *multiplexer) dispatchLoop() {
	defer m.wg.Done()
	for in := range m.inbound {
		m.handler(in.packet, in.from)
	}
}

// send serializes and transmits one packet.
func (m *multiplexer) send(pkt *Packet, to Endpoint) error {
	data, err := pkt.Serialize()
	if err != nil {
		return err
	}
	_, err = m.conn.WriteTo(data, to.UDPAddr())
	return err
}

// localEndpoint is the bound socket address.
func (m *multiplexer) localEndpoint() Endpoint {
	return m.local
}

// close releases the socket. Dispatchers drain and exit on their own;
// close must not wait for them because it may be called from a callback
// that is itself running on a dispatcher goroutine.
func (m *multiplexer) close() {
	m.closeOne.Do(func() {
		m.conn.Close()
	})
}

// wait blocks until the reader and all dispatchers have exited.
func (m *multiplexer) wait() {
	m.wg.Wait()
}
