// Package transport provides wire-level transports for the peer engine: a
// UDP socket transport for real networks and an in-process transport for
// deterministic tests, plus the packet codec both share.
//
// # Architecture
//
// The transport layer is deliberately thin: it moves bytes and dispatches
// them to a registered handler by packet type. It knows nothing about
// routing tables, lookups, or storage — those live in the dht package,
// which consumes transports only through its own Network interface. A
// separate adapter bridges dht.Network onto a Transport by encoding each
// RPC as a Packet and decoding the matching response.
//
// The core abstraction every implementation satisfies:
//
//	type Transport interface {
//	    Send(packet *Packet, addr net.Addr) error
//	    Close() error
//	    LocalAddr() net.Addr
//	    RegisterHandler(packetType PacketType, handler PacketHandler)
//	}
//
// # Implementations
//
// UDP transport:
//
//	transport, err := NewUDPTransport(":33445")
//	// connectionless, one socket, non-blocking read loop
//
// In-process transport, for tests that want many peers in one process
// without touching a real socket:
//
//	a, b := NewMemoryTransportPair("peer-a", "peer-b")
//	// a.Send addressed to b's MemoryAddr is delivered directly to b's
//	// registered handler, no network involved
//
// SecureTransport wraps either implementation and seals packet data with
// a NaCl box addressed to the recipient's public key, looked up through a
// caller-supplied PeerKeyResolver:
//
//	secure := NewSecureTransport(udpTransport, keys, resolver)
//	// Send/RegisterHandler calls on secure transparently encrypt/decrypt
//
// # Packet Types
//
// Packet types cover the four RPCs the engine issues and their responses:
//
//	const (
//	    PacketPing PacketType = iota + 1
//	    PacketPong
//	    PacketStore
//	    PacketStoreAck
//	    PacketFindNodes
//	    PacketFindNodesResponse
//	    PacketFindValue
//	    PacketFindValueResponse
//	)
//
// Each carries a length-prefixed payload (PingPayload, StorePayload,
// FindPayload, NodesPayload, ValuePayload) with its own Serialize/Parse
// pair in packet.go.
//
// # Handler Registration
//
// Handlers are registered per packet type and invoked concurrently, one
// goroutine per received packet:
//
//	transport.RegisterHandler(PacketPing, func(p *Packet, addr net.Addr) error {
//	    return nil
//	})
//
// # Thread Safety
//
// All implementations guard their handler maps with sync.RWMutex and are
// safe for concurrent Send/RegisterHandler calls.
package transport
