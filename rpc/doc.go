// Package rpc adapts package transport onto dht.Network: it is the only
// place in this module that knows both the engine's typed RPC contract and
// the wire encoding a Packet carries. Nothing in dht or transport imports
// the other directly; this package is the seam between them, built the way
// the teacher wires its own protocol layer on top of a bare transport.
//
// Wiring a peer over a real or in-process transport looks like:
//
//	tr, _ := transport.NewUDPTransport(":0")
//	adapter := rpc.NewAdapter(selfKey, "my-name", tr)
//	peer, _ := dht.NewPeer("my-name", adapter, dht.DefaultConfig())
//	adapter.SetDispatcher(peer.Dispatcher())
//
// Every outbound RPC is assigned a request ID and a response channel kept
// in a pending table; the matching response packet (matched by ID alone,
// since UDP is connectionless and a peer may have several RPCs in flight
// against the same contact) resolves it. Requests also carry the caller's
// own key so the far side's Dispatcher can identify the sender without a
// prior handshake.
package rpc
