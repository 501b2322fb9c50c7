// Package transport implements network transport layers for the peer engine.
// This file provides a connectionless UDP-based transport implementation
// with packet handling and type-based routing.
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/nyctern/kaddht/limits"
	"github.com/sirupsen/logrus"
)

// readBufferSize covers the largest packet this module's wire format can
// produce: one type byte plus limits.MaxRPCPayload of payload, rounded up
// so a legitimately-sized packet never trips the "message too long" path.
const readBufferSize = limits.MaxRPCPayload + 64

// pollInterval bounds how long a single blocking read waits before
// re-checking ctx, so Close is never held up by an idle socket.
const pollInterval = 100 * time.Millisecond

// UDPTransport implements UDP-based communication for the peer engine. It
// maintains a single bound socket and a packet processing loop that reads,
// parses, and dispatches packets to handlers registered by PacketType.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr
	handlers   map[PacketType]PacketHandler
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewUDPTransport binds a UDP socket at listenAddr and starts its packet
// processing loop. The transport is ready to receive and handle packets
// immediately after creation.
func NewUDPTransport(listenAddr string) (Transport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr(),
		handlers:   make(map[PacketType]PacketHandler),
		ctx:        ctx,
		cancel:     cancel,
	}

	go t.processPackets()

	return t, nil
}

// RegisterHandler associates handler with packetType. Handlers run
// concurrently, one goroutine per received packet.
func (t *UDPTransport) RegisterHandler(packetType PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[packetType] = handler
}

// Send serializes packet and writes it to addr.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	data, err := packet.Serialize()
	if err != nil {
		return err
	}
	_, err = t.conn.WriteTo(data, addr)
	return err
}

// Close stops the processing loop and closes the underlying socket. The
// transport must not be used afterwards.
func (t *UDPTransport) Close() error {
	t.cancel()
	return t.conn.Close()
}

// processPackets reads from the socket in a loop, parsing and dispatching
// each packet to its registered handler. A short read deadline lets the
// loop notice ctx cancellation promptly without spinning.
func (t *UDPTransport) processPackets() {
	buffer := make([]byte, readBufferSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(pollInterval))

		n, addr, err := t.conn.ReadFrom(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			logrus.WithFields(logrus.Fields{
				"component": "transport",
				"error":     err.Error(),
			}).Debug("udp read failed")
			continue
		}

		packet, err := ParsePacket(buffer[:n])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "transport",
				"addr":      addr.String(),
				"error":     err.Error(),
			}).Debug("dropping unparseable packet")
			continue
		}

		t.mu.RLock()
		handler, exists := t.handlers[packet.PacketType]
		t.mu.RUnlock()

		if !exists {
			logrus.WithFields(logrus.Fields{
				"component":   "transport",
				"addr":        addr.String(),
				"packet_type": packet.PacketType.String(),
			}).Debug("no handler registered for packet type")
			continue
		}

		go func(p *Packet, from net.Addr) {
			if err := handler(p, from); err != nil {
				logrus.WithFields(logrus.Fields{
					"component":   "transport",
					"addr":        from.String(),
					"packet_type": p.PacketType.String(),
					"error":       err.Error(),
				}).Debug("packet handler returned an error")
			}
		}(packet, addr)
	}
}

// LocalAddr returns the address the transport is bound to.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}
