package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyctern/kaddht/limits"
)

func TestPacketSerializeRoundTrip(t *testing.T) {
	original := &Packet{
		PacketType: PacketPing,
		Data:       PingPayload{Key: []byte("sender-key")}.Serialize(),
	}

	wire, err := original.Serialize()
	require.NoError(t, err)

	parsed, err := ParsePacket(wire)
	require.NoError(t, err)
	assert.Equal(t, original.PacketType, parsed.PacketType)
	assert.Equal(t, original.Data, parsed.Data)
}

func TestPacketSerializeRejectsNilData(t *testing.T) {
	p := &Packet{PacketType: PacketPing, Data: nil}
	_, err := p.Serialize()
	assert.Error(t, err)
}

func TestPacketSerializeRejectsOversizedPayload(t *testing.T) {
	p := &Packet{PacketType: PacketStore, Data: make([]byte, limits.MaxRPCPayload+1)}
	_, err := p.Serialize()
	require.Error(t, err)
}

func TestParsePacketRejectsEmptyInput(t *testing.T) {
	_, err := ParsePacket(nil)
	assert.Error(t, err)
}

func TestPacketTypeString(t *testing.T) {
	cases := map[PacketType]string{
		PacketPing:              "ping",
		PacketPong:              "pong",
		PacketStore:             "store",
		PacketStoreAck:          "store_ack",
		PacketFindNodes:         "find_nodes",
		PacketFindNodesResponse: "find_nodes_response",
		PacketFindValue:         "find_value",
		PacketFindValueResponse: "find_value_response",
		PacketType(255):         "unknown",
	}
	for pt, want := range cases {
		assert.Equal(t, want, pt.String())
	}
}

func TestPingPayloadRoundTrip(t *testing.T) {
	payload := PingPayload{Key: []byte{1, 2, 3, 4}}
	parsed, err := ParsePingPayload(payload.Serialize())
	require.NoError(t, err)
	assert.Equal(t, payload.Key, parsed.Key)
}

func TestStorePayloadRoundTrip(t *testing.T) {
	payload := StorePayload{Key: []byte("k"), Value: []byte("some stored value")}
	parsed, err := ParseStorePayload(payload.Serialize())
	require.NoError(t, err)
	assert.Equal(t, payload.Key, parsed.Key)
	assert.Equal(t, payload.Value, parsed.Value)
}

func TestStorePayloadRoundTripEmptyValue(t *testing.T) {
	payload := StorePayload{Key: []byte("k"), Value: []byte{}}
	parsed, err := ParseStorePayload(payload.Serialize())
	require.NoError(t, err)
	assert.Equal(t, payload.Key, parsed.Key)
	assert.Empty(t, parsed.Value)
}

func TestFindPayloadRoundTrip(t *testing.T) {
	payload := FindPayload{Key: []byte("target-key")}
	parsed, err := ParseFindPayload(payload.Serialize())
	require.NoError(t, err)
	assert.Equal(t, payload.Key, parsed.Key)
}

func TestNodesPayloadRoundTrip(t *testing.T) {
	payload := NodesPayload{Contacts: []ContactDescriptor{
		{Key: []byte("k1"), Name: "alice", Addr: "127.0.0.1:1111", Distance: []byte{0x01}},
		{Key: []byte("k2"), Name: "bob", Addr: "127.0.0.1:2222", Distance: []byte{0x02}},
	}}

	parsed, err := ParseNodesPayload(payload.Serialize())
	require.NoError(t, err)
	require.Len(t, parsed.Contacts, 2)
	assert.Equal(t, payload.Contacts[0].Name, parsed.Contacts[0].Name)
	assert.Equal(t, payload.Contacts[1].Addr, parsed.Contacts[1].Addr)
}

func TestNodesPayloadRoundTripEmpty(t *testing.T) {
	payload := NodesPayload{}
	parsed, err := ParseNodesPayload(payload.Serialize())
	require.NoError(t, err)
	assert.Empty(t, parsed.Contacts)
}

func TestValuePayloadRoundTrip(t *testing.T) {
	payload := ValuePayload{Value: []byte("hello world")}
	parsed, err := ParseValuePayload(payload.Serialize())
	require.NoError(t, err)
	assert.Equal(t, payload.Value, parsed.Value)
}

func TestParseNodesPayloadRejectsTruncatedInput(t *testing.T) {
	_, err := ParseNodesPayload([]byte{0x00})
	assert.Error(t, err)
}
