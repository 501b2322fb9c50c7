// Package limits provides centralized size limits and validation functions
// for the peer engine's wire and storage paths. It ensures every
// component that touches untrusted bytes enforces the same bounds.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxRPCPayload is the maximum size of a single RPC's encoded payload
	// (the bytes passed to transport.Packet.Serialize, after this
	// package's own framing but before any further wire encoding). It
	// matches the historical Tox wire budget this module's transport
	// stack was built against: a small plaintext argument plus NaCl box
	// overhead, since a SecureTransport wrapper may add that overhead
	// without the caller having to re-budget for it.
	MaxRPCPayload = 1456

	// MaxStoredValue is the maximum size of a value accepted by
	// Storage.StoreLocally. It is larger than MaxRPCPayload, and no
	// transport in this module fragments or reassembles packets, so a
	// store RPC sent over the wire carries a value only as large as fits
	// in one packet under MaxRPCPayload; larger values up to this bound
	// are accepted only where they reach Storage without a wire packet.
	MaxStoredValue = 16384

	// MaxProcessingBuffer is the absolute ceiling for any buffer this
	// module allocates while decoding untrusted input, regardless of
	// which RPC or storage path it came from. It exists purely to bound
	// memory use against a misbehaving or hostile peer.
	MaxProcessingBuffer = 1024 * 1024

	// EncryptionOverhead is the number of bytes golang.org/x/crypto/nacl/box
	// adds to a sealed message (nonce is carried separately by the
	// caller). transport.SecureTransport budgets against this when
	// deciding whether a plaintext packet will still fit under
	// MaxRPCPayload once sealed.
	EncryptionOverhead = 16
)

// ErrEmpty indicates an empty value was provided where a non-empty one is
// required.
var ErrEmpty = errors.New("limits: value is empty")

// ErrTooLarge indicates a value exceeds its applicable maximum size.
var ErrTooLarge = errors.New("limits: value exceeds maximum size")

// ValidateSize checks data against max, rejecting both empty and
// oversized input. The returned error wraps ErrEmpty or ErrTooLarge so
// callers can distinguish the two with errors.Is, and always carries the
// observed size for logging.
func ValidateSize(data []byte, max int) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: got 0 bytes", ErrEmpty)
	}
	if len(data) > max {
		return fmt.Errorf("%w: got %d bytes, max %d", ErrTooLarge, len(data), max)
	}
	return nil
}

// ValidateRPCPayload validates an encoded RPC payload against
// MaxRPCPayload.
func ValidateRPCPayload(data []byte) error {
	return ValidateSize(data, MaxRPCPayload)
}

// ValidateStoredValue validates a value against MaxStoredValue before
// Storage accepts it.
func ValidateStoredValue(value []byte) error {
	return ValidateSize(value, MaxStoredValue)
}

// ValidateProcessingBuffer validates a buffer against the absolute
// MaxProcessingBuffer ceiling.
func ValidateProcessingBuffer(data []byte) error {
	return ValidateSize(data, MaxProcessingBuffer)
}
