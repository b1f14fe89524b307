package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/paul1989889/rudp/crypto"
)

// PacketType identifies the type of an RUDP datagram.
type PacketType byte

const (
	// Bootstrap handshake
	PacketBootstrapRequest PacketType = iota + 1
	PacketBootstrapResponse

	// Rendezvous connect (Noise-IK messages one and two)
	PacketConnectRequest
	PacketConnectResponse

	// Established-connection traffic
	PacketMessage
	PacketPing
	PacketPong
	PacketClose
)

// Packet represents one RUDP datagram.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
//
// Format: [packet type (1 byte)][data (variable length)]
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)
	return result, nil
}

// ParsePacket converts a received byte slice to a Packet.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	t := PacketType(data[0])
	if t < PacketBootstrapRequest || t > PacketClose {
		return nil, fmt.Errorf("unknown packet type %d", data[0])
	}

	payload := make([]byte, len(data)-1)
	copy(payload, data[1:])
	return &Packet{PacketType: t, Data: payload}, nil
}

const (
	endpointWireSize         = 18 // 16-byte IP + 2-byte port
	bootstrapRequestWireSize = crypto.NodeIDSize + 32 + 1
	bootstrapRespWireSize    = crypto.NodeIDSize + 32 + endpointWireSize + 2
)

// bootstrapRequest is the payload of PacketBootstrapRequest.
type bootstrapRequest struct {
	NodeID    crypto.NodeID
	PublicKey [32]byte
	Temporary bool
}

func (r *bootstrapRequest) marshal() []byte {
	out := make([]byte, bootstrapRequestWireSize)
	copy(out, r.NodeID[:])
	copy(out[crypto.NodeIDSize:], r.PublicKey[:])
	if r.Temporary {
		out[crypto.NodeIDSize+32] = 1
	}
	return out
}

func parseBootstrapRequest(data []byte) (*bootstrapRequest, error) {
	if len(data) != bootstrapRequestWireSize {
		return nil, fmt.Errorf("bootstrap request: bad length %d", len(data))
	}
	r := &bootstrapRequest{}
	copy(r.NodeID[:], data)
	copy(r.PublicKey[:], data[crypto.NodeIDSize:])
	r.Temporary = data[crypto.NodeIDSize+32] == 1
	return r, nil
}

// bootstrapResponse is the payload of PacketBootstrapResponse. Observed is
// the requester's endpoint as seen by the responder; NATProbePort is the
// external port of another transport on the responder's node, or 0.
type bootstrapResponse struct {
	NodeID       crypto.NodeID
	PublicKey    [32]byte
	Observed     Endpoint
	NATProbePort uint16
}

func (r *bootstrapResponse) marshal() []byte {
	out := make([]byte, bootstrapRespWireSize)
	copy(out, r.NodeID[:])
	copy(out[crypto.NodeIDSize:], r.PublicKey[:])
	marshalEndpoint(out[crypto.NodeIDSize+32:], r.Observed)
	binary.BigEndian.PutUint16(out[crypto.NodeIDSize+32+endpointWireSize:], r.NATProbePort)
	return out
}

func parseBootstrapResponse(data []byte) (*bootstrapResponse, error) {
	if len(data) != bootstrapRespWireSize {
		return nil, fmt.Errorf("bootstrap response: bad length %d", len(data))
	}
	r := &bootstrapResponse{}
	copy(r.NodeID[:], data)
	copy(r.PublicKey[:], data[crypto.NodeIDSize:])
	r.Observed = unmarshalEndpoint(data[crypto.NodeIDSize+32:])
	r.NATProbePort = binary.BigEndian.Uint16(data[crypto.NodeIDSize+32+endpointWireSize:])
	return r, nil
}

// idPayload is the common [node ID][rest] layout used by the connect,
// message, ping, pong, and close packets.
type idPayload struct {
	NodeID crypto.NodeID
	Rest   []byte
}

func (p *idPayload) marshal() []byte {
	out := make([]byte, crypto.NodeIDSize+len(p.Rest))
	copy(out, p.NodeID[:])
	copy(out[crypto.NodeIDSize:], p.Rest)
	return out
}

func parseIDPayload(data []byte) (*idPayload, error) {
	if len(data) < crypto.NodeIDSize {
		return nil, fmt.Errorf("payload too short: %d", len(data))
	}
	p := &idPayload{}
	copy(p.NodeID[:], data)
	p.Rest = data[crypto.NodeIDSize:]
	return p, nil
}

func marshalEndpoint(out []byte, e Endpoint) {
	ip := e.IP.To16()
	if ip != nil {
		copy(out, ip)
	}
	binary.BigEndian.PutUint16(out[16:], e.Port)
}

func unmarshalEndpoint(data []byte) Endpoint {
	ip := make(net.IP, 16)
	copy(ip, data[:16])
	e := Endpoint{IP: ip, Port: binary.BigEndian.Uint16(data[16:])}
	if ip4 := e.IP.To4(); ip4 != nil {
		e.IP = ip4
	}
	return e
}
