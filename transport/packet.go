// Package transport implements wire-level transports for the peer engine.
// This file defines packet structures, types, and serialization functions
// for the four RPCs the engine issues: ping, store, find_nodes, find_value.
//
// The packet system provides:
//   - Strongly-typed packet identification using PacketType constants
//   - Binary serialization and parsing for network transmission
//   - Request/response payload codecs for each RPC method
//
// Packet format (outer envelope): [packet_type(1)][data(variable)]. The
// inner data layout is specific to each PacketType; see the Serialize/Parse
// pairs below. Encoding is deliberately simple (fixed-width length prefixes,
// no external schema) since the core's transport contract treats encoding
// as a transport concern, not a core one.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nyctern/kaddht/limits"
)

// PacketType identifies the type of a wire packet.
type PacketType byte

const (
	PacketPing PacketType = iota + 1
	PacketPong
	PacketStore
	PacketStoreAck
	PacketFindNodes
	PacketFindNodesResponse
	PacketFindValue
	PacketFindValueResponse
)

func (t PacketType) String() string {
	switch t {
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketStore:
		return "store"
	case PacketStoreAck:
		return "store_ack"
	case PacketFindNodes:
		return "find_nodes"
	case PacketFindNodesResponse:
		return "find_nodes_response"
	case PacketFindValue:
		return "find_value"
	case PacketFindValueResponse:
		return "find_value_response"
	default:
		return "unknown"
	}
}

// Packet is the outer envelope for every message exchanged between peers:
// a type tag plus an opaque, type-specific payload.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for network transmission.
// The payload is checked against limits.MaxRPCPayload so an oversized
// argument is rejected here rather than at the remote end.
//
// Packet format: [packet_type(1)][data(variable)]
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}
	if err := limits.ValidateRPCPayload(p.Data); err != nil {
		return nil, fmt.Errorf("transport: packet payload rejected: %w", err)
	}

	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}

// ContactDescriptor is the wire shape of a contact: at minimum a name and
// key, with an address string appended for transports that need one to
// dial. The core treats the sender's declared distance as authoritative
// for sort order but may re-verify by recomputing it locally.
type ContactDescriptor struct {
	Key      []byte
	Name     string
	Addr     string
	Distance []byte
}

func putLenPrefixed(buf []byte, off int, b []byte) int {
	binary.BigEndian.PutUint16(buf[off:], uint16(len(b)))
	off += 2
	copy(buf[off:], b)
	return off + len(b)
}

func getLenPrefixed(data []byte, off int) ([]byte, int, error) {
	if off+2 > len(data) {
		return nil, 0, errors.New("truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	if off+n > len(data) {
		return nil, 0, errors.New("truncated field")
	}
	return data[off : off+n], off + n, nil
}

func (c ContactDescriptor) encodedLen() int {
	return 2 + len(c.Key) + 2 + len(c.Name) + 2 + len(c.Addr) + 2 + len(c.Distance)
}

func (c ContactDescriptor) serializeInto(buf []byte, off int) int {
	off = putLenPrefixed(buf, off, c.Key)
	off = putLenPrefixed(buf, off, []byte(c.Name))
	off = putLenPrefixed(buf, off, []byte(c.Addr))
	off = putLenPrefixed(buf, off, c.Distance)
	return off
}

func parseContactDescriptor(data []byte, off int) (ContactDescriptor, int, error) {
	var c ContactDescriptor
	key, off, err := getLenPrefixed(data, off)
	if err != nil {
		return c, off, err
	}
	name, off, err := getLenPrefixed(data, off)
	if err != nil {
		return c, off, err
	}
	addr, off, err := getLenPrefixed(data, off)
	if err != nil {
		return c, off, err
	}
	dist, off, err := getLenPrefixed(data, off)
	if err != nil {
		return c, off, err
	}
	c.Key = append([]byte(nil), key...)
	c.Name = string(name)
	c.Addr = string(addr)
	c.Distance = append([]byte(nil), dist...)
	return c, off, nil
}

// PingPayload carries the sender's declared key on a ping(key) request.
type PingPayload struct {
	Key []byte
}

func (p PingPayload) Serialize() []byte {
	buf := make([]byte, 2+len(p.Key))
	putLenPrefixed(buf, 0, p.Key)
	return buf
}

func ParsePingPayload(data []byte) (PingPayload, error) {
	key, _, err := getLenPrefixed(data, 0)
	if err != nil {
		return PingPayload{}, err
	}
	return PingPayload{Key: append([]byte(nil), key...)}, nil
}

// StorePayload carries a store(key, value) request.
type StorePayload struct {
	Key   []byte
	Value []byte
}

func (s StorePayload) Serialize() []byte {
	buf := make([]byte, 2+len(s.Key)+2+len(s.Value))
	off := putLenPrefixed(buf, 0, s.Key)
	putLenPrefixed(buf, off, s.Value)
	return buf
}

func ParseStorePayload(data []byte) (StorePayload, error) {
	key, off, err := getLenPrefixed(data, 0)
	if err != nil {
		return StorePayload{}, err
	}
	value, _, err := getLenPrefixed(data, off)
	if err != nil {
		return StorePayload{}, err
	}
	return StorePayload{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}, nil
}

// FindPayload carries a find_nodes(key) or find_value(key) request; both
// RPCs take the same single-key argument shape.
type FindPayload struct {
	Key []byte
}

func (f FindPayload) Serialize() []byte {
	buf := make([]byte, 2+len(f.Key))
	putLenPrefixed(buf, 0, f.Key)
	return buf
}

func ParseFindPayload(data []byte) (FindPayload, error) {
	key, _, err := getLenPrefixed(data, 0)
	if err != nil {
		return FindPayload{}, err
	}
	return FindPayload{Key: append([]byte(nil), key...)}, nil
}

// NodesPayload carries a find_nodes response: a list of
// (contact-descriptor, distance) pairs.
type NodesPayload struct {
	Contacts []ContactDescriptor
}

func (n NodesPayload) Serialize() []byte {
	size := 2
	for _, c := range n.Contacts {
		size += c.encodedLen()
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf, uint16(len(n.Contacts)))
	off := 2
	for _, c := range n.Contacts {
		off = c.serializeInto(buf, off)
	}
	return buf
}

func ParseNodesPayload(data []byte) (NodesPayload, error) {
	if len(data) < 2 {
		return NodesPayload{}, errors.New("truncated nodes payload")
	}
	count := int(binary.BigEndian.Uint16(data))
	off := 2
	contacts := make([]ContactDescriptor, 0, count)
	for i := 0; i < count; i++ {
		var c ContactDescriptor
		var err error
		c, off, err = parseContactDescriptor(data, off)
		if err != nil {
			return NodesPayload{}, err
		}
		contacts = append(contacts, c)
	}
	return NodesPayload{Contacts: contacts}, nil
}

// ValuePayload carries a find_value response that hit locally: {value}.
type ValuePayload struct {
	Value []byte
}

func (v ValuePayload) Serialize() []byte {
	buf := make([]byte, 2+len(v.Value))
	putLenPrefixed(buf, 0, v.Value)
	return buf
}

func ParseValuePayload(data []byte) (ValuePayload, error) {
	value, _, err := getLenPrefixed(data, 0)
	if err != nil {
		return ValuePayload{}, err
	}
	return ValuePayload{Value: append([]byte(nil), value...)}, nil
}
