package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paul1989889/rudp/crypto"
)

func TestPacketSerializeParse(t *testing.T) {
	p := &Packet{PacketType: PacketMessage, Data: []byte{1, 2, 3}}
	data, err := p.Serialize()
	require.NoError(t, err)

	parsed, err := ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, p.PacketType, parsed.PacketType)
	assert.Equal(t, p.Data, parsed.Data)
}

func TestParsePacketRejectsGarbage(t *testing.T) {
	if _, err := ParsePacket(nil); err == nil {
		t.Error("Expected error for empty datagram")
	}
	if _, err := ParsePacket([]byte{0xEE, 1, 2}); err == nil {
		t.Error("Expected error for unknown packet type")
	}
}

func TestBootstrapRequestWireFormat(t *testing.T) {
	id, err := crypto.RandomNodeID()
	require.NoError(t, err)
	req := &bootstrapRequest{NodeID: id, Temporary: true}
	req.PublicKey[3] = 0x42

	parsed, err := parseBootstrapRequest(req.marshal())
	require.NoError(t, err)
	assert.Equal(t, req.NodeID, parsed.NodeID)
	assert.Equal(t, req.PublicKey, parsed.PublicKey)
	assert.True(t, parsed.Temporary)

	_, err = parseBootstrapRequest([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestBootstrapResponseWireFormat(t *testing.T) {
	id, err := crypto.RandomNodeID()
	require.NoError(t, err)
	resp := &bootstrapResponse{
		NodeID:       id,
		Observed:     Endpoint{IP: net.IPv4(203, 0, 113, 9), Port: 4567},
		NATProbePort: 9999,
	}

	parsed, err := parseBootstrapResponse(resp.marshal())
	require.NoError(t, err)
	assert.Equal(t, resp.NodeID, parsed.NodeID)
	assert.True(t, parsed.Observed.Equal(resp.Observed))
	assert.Equal(t, uint16(9999), parsed.NATProbePort)
}

func TestBootstrapResponseUnsetObserved(t *testing.T) {
	resp := &bootstrapResponse{}
	parsed, err := parseBootstrapResponse(resp.marshal())
	require.NoError(t, err)
	assert.False(t, parsed.Observed.IsValid(), "an unset endpoint stays invalid over the wire")
}

func TestIDPayloadWireFormat(t *testing.T) {
	id, err := crypto.RandomNodeID()
	require.NoError(t, err)
	p := &idPayload{NodeID: id, Rest: []byte("tail")}

	parsed, err := parseIDPayload(p.marshal())
	require.NoError(t, err)
	assert.Equal(t, id, parsed.NodeID)
	assert.Equal(t, []byte("tail"), parsed.Rest)

	_, err = parseIDPayload(make([]byte, crypto.NodeIDSize-1))
	assert.Error(t, err)
}
