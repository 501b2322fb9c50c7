// Package limits centralizes the size bounds the peer engine enforces on
// untrusted bytes: RPC payloads in transit, values accepted into storage,
// and an absolute ceiling on any buffer decoded from the wire.
//
// # Size hierarchy
//
//   - MaxRPCPayload (1456 bytes): an RPC's encoded argument budget, sized
//     to leave room for a SecureTransport's NaCl box overhead without the
//     caller having to account for it separately.
//   - MaxStoredValue (16384 bytes): the largest value Storage will accept
//     via StoreLocally.
//   - MaxProcessingBuffer (1MB): the absolute ceiling for any buffer this
//     module allocates while decoding input from a peer, regardless of
//     which path it travels.
//
// # Validation
//
//	if err := limits.ValidateStoredValue(value); err != nil {
//	    // err wraps limits.ErrEmpty or limits.ErrTooLarge
//	}
//
// Errors returned by every Validate* function wrap one of the two
// sentinels and carry the observed and maximum sizes, so callers can both
// branch on errors.Is and log useful context.
package limits
