package rpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nyctern/kaddht/dht"
	"github.com/nyctern/kaddht/transport"
)

// defaultTimeout bounds how long Ping/Store/FindNodes/FindValue wait for a
// matching response when the caller's context carries no deadline of its
// own; the engine normally supplies one via its configured query timeout,
// so this only matters for calls issued outside a lookup (e.g. Join's
// initial ping).
const defaultTimeout = 10 * time.Second

type pendingCall struct {
	response chan []byte
}

// Adapter implements dht.Network on top of a transport.Transport. It owns
// request-ID assignment and response correlation; encoding/decoding of
// each RPC's arguments is delegated to the payload codecs in package
// transport.
type Adapter struct {
	self     dht.Key
	selfName string
	tr       transport.Transport
	network  string

	nextID uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall

	dispatcherMu sync.RWMutex
	dispatcher   *dht.Dispatcher
}

// NewAdapter wires tr's packet types to this adapter's handlers and returns
// an Adapter ready to use as a dht.Network. Call SetDispatcher once the
// owning dht.Peer exists, so inbound RPCs can be answered; until then,
// inbound requests are logged and dropped.
func NewAdapter(self dht.Key, selfName string, tr transport.Transport) *Adapter {
	a := &Adapter{
		self:     self,
		selfName: selfName,
		tr:       tr,
		network:  tr.LocalAddr().Network(),
		pending:  make(map[uint64]*pendingCall),
	}

	tr.RegisterHandler(transport.PacketPing, a.handlePing)
	tr.RegisterHandler(transport.PacketPong, a.handleResponse)
	tr.RegisterHandler(transport.PacketStore, a.handleStore)
	tr.RegisterHandler(transport.PacketStoreAck, a.handleResponse)
	tr.RegisterHandler(transport.PacketFindNodes, a.handleFindNodes)
	tr.RegisterHandler(transport.PacketFindNodesResponse, a.handleResponse)
	tr.RegisterHandler(transport.PacketFindValue, a.handleFindValue)
	tr.RegisterHandler(transport.PacketFindValueResponse, a.handleResponse)

	return a
}

// SetDispatcher registers the Dispatcher that answers inbound RPCs. Safe
// to call after construction, once a dht.Peer wired to this adapter
// exists.
func (a *Adapter) SetDispatcher(d *dht.Dispatcher) {
	a.dispatcherMu.Lock()
	a.dispatcher = d
	a.dispatcherMu.Unlock()
}

func (a *Adapter) currentDispatcher() *dht.Dispatcher {
	a.dispatcherMu.RLock()
	defer a.dispatcherMu.RUnlock()
	return a.dispatcher
}

// LocalAddr exposes the underlying transport's bound address, for building
// this peer's own HomeContact endpoint.
func (a *Adapter) LocalAddr() net.Addr {
	return a.tr.LocalAddr()
}

func contactAddr(contact *dht.Contact) (net.Addr, error) {
	addr, ok := contact.Endpoint.(net.Addr)
	if !ok {
		return nil, fmt.Errorf("rpc: contact %s has no resolvable endpoint", contact.Key.String())
	}
	return addr, nil
}

// --- envelope framing ---
//
// [8 bytes request ID][2 bytes sender-key length][sender key][payload]
// Responses omit the sender key field entirely, since correlation is by ID
// alone and the caller already knows who it addressed.

func encodeRequest(id uint64, senderKey dht.Key, payload []byte) []byte {
	buf := make([]byte, 8+2+len(senderKey)+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], id)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(senderKey)))
	off := 10
	off += copy(buf[off:], senderKey)
	copy(buf[off:], payload)
	return buf
}

func decodeRequest(data []byte) (id uint64, senderKey dht.Key, payload []byte, err error) {
	if len(data) < 10 {
		return 0, nil, nil, errors.New("rpc: truncated request envelope")
	}
	id = binary.BigEndian.Uint64(data[0:8])
	keyLen := int(binary.BigEndian.Uint16(data[8:10]))
	if 10+keyLen > len(data) {
		return 0, nil, nil, errors.New("rpc: truncated sender key")
	}
	senderKey = dht.Key(append([]byte(nil), data[10:10+keyLen]...))
	payload = data[10+keyLen:]
	return id, senderKey, payload, nil
}

func encodeResponse(id uint64, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], id)
	copy(buf[8:], payload)
	return buf
}

func decodeResponse(data []byte) (id uint64, payload []byte, err error) {
	if len(data) < 8 {
		return 0, nil, errors.New("rpc: truncated response envelope")
	}
	return binary.BigEndian.Uint64(data[0:8]), data[8:], nil
}

// --- outbound calls (dht.Network implementation) ---

func (a *Adapter) register(id uint64) *pendingCall {
	call := &pendingCall{response: make(chan []byte, 1)}
	a.mu.Lock()
	a.pending[id] = call
	a.mu.Unlock()
	return call
}

func (a *Adapter) unregister(id uint64) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

func (a *Adapter) call(ctx context.Context, contact *dht.Contact, packetType transport.PacketType, payload []byte) ([]byte, error) {
	addr, err := contactAddr(contact)
	if err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	id := atomic.AddUint64(&a.nextID, 1)
	call := a.register(id)
	defer a.unregister(id)

	packet := &transport.Packet{
		PacketType: packetType,
		Data:       encodeRequest(id, a.self, payload),
	}
	if err := a.tr.Send(packet, addr); err != nil {
		return nil, err
	}

	select {
	case resp := <-call.response:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping issues a ping(key) RPC.
func (a *Adapter) Ping(ctx context.Context, contact *dht.Contact) error {
	_, err := a.call(ctx, contact, transport.PacketPing, transport.PingPayload{Key: a.self}.Serialize())
	return err
}

// Store issues a store(key, value) RPC.
func (a *Adapter) Store(ctx context.Context, contact *dht.Contact, key dht.Key, value []byte) error {
	payload := transport.StorePayload{Key: key, Value: value}.Serialize()
	_, err := a.call(ctx, contact, transport.PacketStore, payload)
	return err
}

func (a *Adapter) resolveContacts(contacts []transport.ContactDescriptor) []dht.Helper {
	helpers := make([]dht.Helper, 0, len(contacts))
	for _, c := range contacts {
		addr, err := transport.ResolveAddr(a.network, c.Addr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "rpc",
				"addr":      c.Addr,
				"error":     err.Error(),
			}).Debug("dropping contact with unresolvable address")
			continue
		}
		contact := dht.NewContact(dht.Key(c.Key), c.Name, addr)
		helpers = append(helpers, dht.Helper{Contact: contact, Distance: dht.Key(c.Distance)})
	}
	return helpers
}

// FindNodes issues a find_nodes(key) RPC.
func (a *Adapter) FindNodes(ctx context.Context, contact *dht.Contact, target dht.Key) ([]dht.Helper, error) {
	payload := transport.FindPayload{Key: target}.Serialize()
	resp, err := a.call(ctx, contact, transport.PacketFindNodes, payload)
	if err != nil {
		return nil, err
	}
	nodes, err := transport.ParseNodesPayload(resp)
	if err != nil {
		return nil, err
	}
	return a.resolveContacts(nodes.Contacts), nil
}

// FindValue issues a find_value(key) RPC. A hit (ValuePayload) and a miss
// (NodesPayload) share PacketFindValueResponse and carry no tag, so the
// response is read as a hit only when it parses as a non-empty
// ValuePayload whose 2-byte length prefix accounts for every byte of the
// response. A NodesPayload with n >= 1 contacts never passes that test,
// since each contact descriptor takes at least 8 bytes; an empty
// NodesPayload reads as a zero-length value and falls through to a miss.
func (a *Adapter) FindValue(ctx context.Context, contact *dht.Contact, target dht.Key) (*dht.FindValueResult, error) {
	payload := transport.FindPayload{Key: target}.Serialize()
	resp, err := a.call(ctx, contact, transport.PacketFindValue, payload)
	if err != nil {
		return nil, err
	}

	if value, verr := transport.ParseValuePayload(resp); verr == nil && len(value.Value) > 0 && 2+len(value.Value) == len(resp) {
		return &dht.FindValueResult{Value: value.Value}, nil
	}

	nodes, err := transport.ParseNodesPayload(resp)
	if err != nil {
		return nil, err
	}
	return &dht.FindValueResult{Nodes: a.resolveContacts(nodes.Contacts)}, nil
}

// Connect is a no-op for a transport that is already open and
// connectionless; a future stream-oriented transport would dial here.
func (a *Adapter) Connect(ctx context.Context, contact *dht.Contact) error {
	_, err := contactAddr(contact)
	return err
}

// Disconnect is idempotent and currently a no-op: this adapter holds no
// per-contact state to tear down.
func (a *Adapter) Disconnect(contact *dht.Contact) error {
	return nil
}

// --- inbound handling ---

func (a *Adapter) handleResponse(packet *transport.Packet, addr net.Addr) error {
	id, payload, err := decodeResponse(packet.Data)
	if err != nil {
		return err
	}
	a.mu.Lock()
	call, ok := a.pending[id]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case call.response <- payload:
	default:
	}
	return nil
}

func (a *Adapter) senderContact(senderKey dht.Key, addr net.Addr) *dht.Contact {
	return dht.NewContact(senderKey, "", addr)
}

func (a *Adapter) handlePing(packet *transport.Packet, addr net.Addr) error {
	id, senderKey, payload, err := decodeRequest(packet.Data)
	if err != nil {
		return err
	}
	ping, err := transport.ParsePingPayload(payload)
	if err != nil {
		return err
	}

	d := a.currentDispatcher()
	if d == nil {
		return nil
	}
	sender := a.senderContact(senderKey, addr)
	if _, err := d.HandlePing(sender, dht.Key(ping.Key)); err != nil {
		return err
	}

	resp := &transport.Packet{PacketType: transport.PacketPong, Data: encodeResponse(id, nil)}
	return a.tr.Send(resp, addr)
}

func (a *Adapter) handleStore(packet *transport.Packet, addr net.Addr) error {
	id, senderKey, payload, err := decodeRequest(packet.Data)
	if err != nil {
		return err
	}
	store, err := transport.ParseStorePayload(payload)
	if err != nil {
		return err
	}

	d := a.currentDispatcher()
	if d == nil {
		return nil
	}
	sender := a.senderContact(senderKey, addr)
	if _, err := d.HandleStore(sender, dht.Key(store.Key), store.Value); err != nil {
		return err
	}

	resp := &transport.Packet{PacketType: transport.PacketStoreAck, Data: encodeResponse(id, nil)}
	return a.tr.Send(resp, addr)
}

func (a *Adapter) descriptorsFor(helpers []dht.Helper) []transport.ContactDescriptor {
	out := make([]transport.ContactDescriptor, 0, len(helpers))
	for _, h := range helpers {
		addrStr := ""
		if addr, ok := h.Contact.Endpoint.(net.Addr); ok {
			addrStr = addr.String()
		} else if h.Contact.Key.Equal(a.self) {
			addrStr = a.tr.LocalAddr().String()
		}
		out = append(out, transport.ContactDescriptor{
			Key:      h.Contact.Key,
			Name:     h.Contact.Name,
			Addr:     addrStr,
			Distance: h.Distance,
		})
	}
	return out
}

func (a *Adapter) handleFindNodes(packet *transport.Packet, addr net.Addr) error {
	id, senderKey, payload, err := decodeRequest(packet.Data)
	if err != nil {
		return err
	}
	find, err := transport.ParseFindPayload(payload)
	if err != nil {
		return err
	}

	d := a.currentDispatcher()
	if d == nil {
		return nil
	}
	sender := a.senderContact(senderKey, addr)
	helpers, err := d.HandleFindNodes(sender, dht.Key(find.Key))
	if err != nil {
		return err
	}

	body := transport.NodesPayload{Contacts: a.descriptorsFor(helpers)}.Serialize()
	resp := &transport.Packet{PacketType: transport.PacketFindNodesResponse, Data: encodeResponse(id, body)}
	return a.tr.Send(resp, addr)
}

func (a *Adapter) handleFindValue(packet *transport.Packet, addr net.Addr) error {
	id, senderKey, payload, err := decodeRequest(packet.Data)
	if err != nil {
		return err
	}
	find, err := transport.ParseFindPayload(payload)
	if err != nil {
		return err
	}

	d := a.currentDispatcher()
	if d == nil {
		return nil
	}
	sender := a.senderContact(senderKey, addr)
	result, err := d.HandleFindValue(sender, dht.Key(find.Key))
	if err != nil {
		return err
	}

	var body []byte
	if result.Value != nil {
		body = transport.ValuePayload{Value: result.Value}.Serialize()
	} else {
		body = transport.NodesPayload{Contacts: a.descriptorsFor(result.Nodes)}.Serialize()
	}
	resp := &transport.Packet{PacketType: transport.PacketFindValueResponse, Data: encodeResponse(id, body)}
	return a.tr.Send(resp, addr)
}
