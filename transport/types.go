// Package transport implements network transport layers for the peer engine.
// This file defines core interfaces and types used throughout the transport
// layer, providing abstractions for different transport implementations and
// packet handling.
//
// Key interfaces and types:
//   - Transport: Core interface for network transport implementations
//   - PacketHandler: Function type for processing incoming packets
//
// Multiple transport implementations (UDP, in-process) satisfy the same
// interface, so the RPC adapter that bridges the engine's Network contract
// onto the wire never cares which one is in use.
package transport

import (
	"net"
)

// PacketHandler processes incoming packets. Handlers are invoked
// concurrently, one goroutine per received packet, and receive the parsed
// packet plus the sender's address.
type PacketHandler func(packet *Packet, addr net.Addr) error

// Transport is the interface every concrete transport (UDP, in-process)
// implements. It provides packet sending, handler registration by packet
// type, address information, and resource cleanup.
type Transport interface {
	// Send transmits a packet to the specified network address.
	Send(packet *Packet, addr net.Addr) error

	// Close shuts down the transport and releases all resources. The
	// transport must not be used afterward.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr

	// RegisterHandler associates a handler function with a packet type.
	RegisterHandler(packetType PacketType, handler PacketHandler)
}
