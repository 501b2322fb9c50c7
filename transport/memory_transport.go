package transport

import (
	"errors"
	"net"
	"sync"
)

// MemoryAddr is the net.Addr implementation used by MemoryTransport. Two
// transports are reachable from each other only if a MemoryNetwork routes
// between their names; a bare MemoryTransport with no peers registered
// accepts Send calls but they fail with ErrPeerNotFound.
type MemoryAddr struct {
	name string
}

func (a MemoryAddr) Network() string { return "memory" }
func (a MemoryAddr) String() string  { return a.name }

// ErrPeerNotFound is returned by Send when no transport is registered for
// the destination address's name.
var ErrPeerNotFound = errors.New("memory transport: peer not found")

// MemoryNetwork is a shared registry of MemoryTransport instances, letting
// many simulated peers exchange packets in one process with no sockets.
// It is the transport-level equivalent of the teacher's in-memory test
// doubles: deterministic, synchronous where it matters, and safe to run
// hundreds of peers against in a single test binary.
type MemoryNetwork struct {
	mu    sync.RWMutex
	peers map[string]*MemoryTransport
}

// NewMemoryNetwork creates an empty registry.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{peers: make(map[string]*MemoryTransport)}
}

func (n *MemoryNetwork) register(t *MemoryTransport) {
	n.mu.Lock()
	n.peers[t.addr.name] = t
	n.mu.Unlock()
}

func (n *MemoryNetwork) unregister(name string) {
	n.mu.Lock()
	delete(n.peers, name)
	n.mu.Unlock()
}

func (n *MemoryNetwork) lookup(name string) (*MemoryTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.peers[name]
	return t, ok
}

// MemoryTransport is an in-process Transport: Send hands the packet
// directly to the destination's registered handler on a new goroutine,
// matching the concurrency shape of UDPTransport's dispatch without any
// socket or serialization round trip.
type MemoryTransport struct {
	network *MemoryNetwork
	addr    MemoryAddr

	mu       sync.RWMutex
	handlers map[PacketType]PacketHandler
	closed   bool
}

// NewMemoryTransport creates a transport named name and registers it on
// network. Names must be unique within a network.
func NewMemoryTransport(network *MemoryNetwork, name string) *MemoryTransport {
	t := &MemoryTransport{
		network:  network,
		addr:     MemoryAddr{name: name},
		handlers: make(map[PacketType]PacketHandler),
	}
	network.register(t)
	return t
}

// NewMemoryTransportPair is a convenience for the common two-peer test
// setup: both transports share a fresh MemoryNetwork.
func NewMemoryTransportPair(nameA, nameB string) (*MemoryTransport, *MemoryTransport) {
	net := NewMemoryNetwork()
	return NewMemoryTransport(net, nameA), NewMemoryTransport(net, nameB)
}

// RegisterHandler associates handler with packetType.
func (t *MemoryTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[packetType] = handler
}

// Send delivers packet to the transport registered under addr's name. The
// destination handler runs on its own goroutine, same as a real socket's
// receive loop would dispatch it, so callers may not assume ordering or
// synchronous delivery.
func (t *MemoryTransport) Send(packet *Packet, addr net.Addr) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return errors.New("memory transport: closed")
	}

	name := addr.String()
	dest, ok := t.network.lookup(name)
	if !ok {
		return ErrPeerNotFound
	}

	dest.mu.RLock()
	handler, exists := dest.handlers[packet.PacketType]
	dest.mu.RUnlock()
	if !exists {
		return nil
	}

	go handler(packet, t.addr)
	return nil
}

// Close removes this transport from its network. Already-dispatched
// handler goroutines are not interrupted.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.network.unregister(t.addr.name)
	return nil
}

// LocalAddr returns this transport's MemoryAddr.
func (t *MemoryTransport) LocalAddr() net.Addr {
	return t.addr
}
