package transport

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransportPairDelivery(t *testing.T) {
	a, b := NewMemoryTransportPair("alice", "bob")
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var gotAddr net.Addr
	var gotPacket *Packet
	b.RegisterHandler(PacketPing, func(p *Packet, addr net.Addr) error {
		gotAddr = addr
		gotPacket = p
		wg.Done()
		return nil
	})

	pkt := &Packet{PacketType: PacketPing, Data: PingPayload{Key: []byte("k")}.Serialize()}
	require.NoError(t, a.Send(pkt, b.LocalAddr()))

	wg.Wait()
	assert.Equal(t, "alice", gotAddr.String())
	assert.Equal(t, PacketPing, gotPacket.PacketType)
}

func TestMemoryTransportSendToUnknownPeerFails(t *testing.T) {
	network := NewMemoryNetwork()
	a := NewMemoryTransport(network, "alice")
	defer a.Close()

	pkt := &Packet{PacketType: PacketPing, Data: PingPayload{Key: []byte("k")}.Serialize()}
	err := a.Send(pkt, MemoryAddr{name: "ghost"})
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestMemoryTransportSendAfterCloseFails(t *testing.T) {
	a, b := NewMemoryTransportPair("alice", "bob")
	defer b.Close()

	require.NoError(t, a.Close())

	pkt := &Packet{PacketType: PacketPing, Data: PingPayload{Key: []byte("k")}.Serialize()}
	err := a.Send(pkt, b.LocalAddr())
	assert.Error(t, err)
}

func TestMemoryTransportUnregistersOnClose(t *testing.T) {
	a, b := NewMemoryTransportPair("alice", "bob")
	defer a.Close()

	require.NoError(t, b.Close())

	pkt := &Packet{PacketType: PacketPing, Data: PingPayload{Key: []byte("k")}.Serialize()}
	err := a.Send(pkt, MemoryAddr{name: "bob"})
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestMemoryAddrNetwork(t *testing.T) {
	addr := MemoryAddr{name: "alice"}
	assert.Equal(t, "memory", addr.Network())
	assert.Equal(t, "alice", addr.String())
}
