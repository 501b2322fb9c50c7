package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nyctern/kaddht/crypto"
	"github.com/nyctern/kaddht/limits"
)

// PeerKeyResolver looks up the NaCl box public key belonging to the peer
// reachable at addr. SecureTransport calls it once per outbound Send and
// caches nothing itself; callers that want caching wrap their own
// resolver.
type PeerKeyResolver func(addr net.Addr) (publicKey [32]byte, ok bool)

// SecureTransport wraps a Transport and seals every packet's data with a
// NaCl box addressed to the recipient, opening inbound packets the same
// way before handing them to the registered PacketHandler. Packets that
// fail to open (wrong key, corrupt ciphertext) are dropped and logged
// rather than delivered. Nonces are not tracked, so a replayed packet
// opens and is delivered again.
//
// The wrapped packet type is preserved; only Packet.Data is sealed, so a
// peer without the right key still sees a well-formed outer envelope and
// drops the packet when it fails to open instead of panicking on garbage.
type SecureTransport struct {
	inner    Transport
	keys     *crypto.KeyPair
	resolver PeerKeyResolver

	mu       sync.RWMutex
	handlers map[PacketType]PacketHandler
}

// sealedEnvelope is the wire shape SecureTransport gives to the inner
// transport: a fixed-size nonce followed by the NaCl box ciphertext.
const nonceSize = 24

// NewSecureTransport wraps inner, sealing outbound packets with keys and
// opening inbound ones against whatever public key resolver returns for
// the sender's address. It registers itself as inner's handler for every
// PacketType that SecureTransport's own RegisterHandler has been asked to
// carry, so construct it before wiring any RegisterHandler calls through
// it rather than through inner directly.
func NewSecureTransport(inner Transport, keys *crypto.KeyPair, resolver PeerKeyResolver) *SecureTransport {
	return &SecureTransport{
		inner:    inner,
		keys:     keys,
		resolver: resolver,
		handlers: make(map[PacketType]PacketHandler),
	}
}

// RegisterHandler records handler for packetType and ensures the inner
// transport routes that type through this wrapper's decryption step.
func (s *SecureTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	s.mu.Lock()
	s.handlers[packetType] = handler
	s.mu.Unlock()

	s.inner.RegisterHandler(packetType, s.handleSealed)
}

// Send seals packet.Data for the peer at addr and forwards it through the
// inner transport under the same PacketType. A packet whose sealed
// envelope (nonce, ciphertext and box overhead) would exceed
// limits.MaxRPCPayload is rejected before sealing.
func (s *SecureTransport) Send(packet *Packet, addr net.Addr) error {
	if sealedLen := nonceSize + len(packet.Data) + limits.EncryptionOverhead; sealedLen > limits.MaxRPCPayload {
		return fmt.Errorf("transport: sealed packet of %d bytes exceeds %d: %w", sealedLen, limits.MaxRPCPayload, limits.ErrTooLarge)
	}

	peerKey, ok := s.resolver(addr)
	if !ok {
		return fmt.Errorf("transport: no known key for peer %s", addr.String())
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return fmt.Errorf("transport: generating nonce: %w", err)
	}

	sealed, err := crypto.Encrypt(packet.Data, nonce, peerKey, s.keys.Private)
	if err != nil {
		return fmt.Errorf("transport: sealing packet: %w", err)
	}

	envelope := make([]byte, nonceSize+len(sealed))
	copy(envelope[:nonceSize], nonce[:])
	copy(envelope[nonceSize:], sealed)

	return s.inner.Send(&Packet{PacketType: packet.PacketType, Data: envelope}, addr)
}

func (s *SecureTransport) handleSealed(packet *Packet, addr net.Addr) error {
	if len(packet.Data) < nonceSize {
		return errors.New("transport: sealed packet shorter than nonce")
	}

	peerKey, ok := s.resolver(addr)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"component": "transport",
			"addr":      addr.String(),
		}).Debug("dropping sealed packet from peer with unknown key")
		return nil
	}

	var nonce crypto.Nonce
	copy(nonce[:], packet.Data[:nonceSize])

	opened, err := crypto.Decrypt(packet.Data[nonceSize:], nonce, peerKey, s.keys.Private)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "transport",
			"addr":      addr.String(),
			"error":     err.Error(),
		}).Warn("dropping packet that failed to open")
		return nil
	}

	s.mu.RLock()
	handler, ok := s.handlers[packet.PacketType]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	return handler(&Packet{PacketType: packet.PacketType, Data: opened}, addr)
}

// Close closes the inner transport.
func (s *SecureTransport) Close() error {
	return s.inner.Close()
}

// LocalAddr returns the inner transport's bound address.
func (s *SecureTransport) LocalAddr() net.Addr {
	return s.inner.LocalAddr()
}
