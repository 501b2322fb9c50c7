package dht

import "time"

// Config holds the tunable constants of the peer engine. Zero-value
// Config is not valid; use DefaultConfig and override fields as needed.
type Config struct {
	// K is the bucket width and storage replication factor. Required >= 10;
	// canonical value 20.
	K int

	// Alpha is the initial lookup concurrency. Required >= 3; canonical 3.
	Alpha int

	// KeySize is the number of bits per key. Must be a multiple of 8 and
	// not exceed 256; canonical value 128.
	KeySize int

	// RefreshInterval is the nominal bucket-refresh and republish period.
	// Zero disables all refresh/republish firing.
	RefreshInterval time.Duration

	// QueryTimeout bounds a single RPC issued during a lookup. Canonical
	// range 2-10 seconds.
	QueryTimeout time.Duration

	// MaxTransports is carried in the configuration but read by no
	// component; no cap on concurrent transport connections is enforced,
	// whatever its value.
	MaxTransports int
}

// DefaultConfig returns the canonical configuration described in the
// engine's design: k=20, alpha=3, keysize=128, 15s refresh interval, 5s
// query timeout, no transport cap.
func DefaultConfig() Config {
	return Config{
		K:               20,
		Alpha:           3,
		KeySize:         128,
		RefreshInterval: 15 * time.Second,
		QueryTimeout:    5 * time.Second,
		MaxTransports:   0,
	}
}

// Validate checks the configuration against the engine's required bounds
// and returns an InvariantError describing the first violation found.
func (c Config) Validate() error {
	switch {
	case c.K < 10:
		return newInvariantError("config", "k must be >= 10")
	case c.Alpha < 3:
		return newInvariantError("config", "alpha must be >= 3")
	case c.KeySize <= 0 || c.KeySize%8 != 0:
		return newInvariantError("config", "keysize must be a positive multiple of 8")
	case c.KeySize > 256:
		return newInvariantError("config", "keysize must not exceed 256")
	case c.QueryTimeout <= 0:
		return newInvariantError("config", "query timeout must be positive")
	}
	return nil
}
