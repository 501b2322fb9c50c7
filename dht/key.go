package dht

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"
)

// Key is an unsigned integer of exactly keysize bits, represented as the
// leading keysize/8 bytes of a SHA-256 digest interpreted big-endian.
// Keys derived under different keysize configurations are not comparable;
// a Peer only ever produces and consumes Keys sized by its own Config.
type Key []byte

// String renders the key as lowercase hex, for logging.
func (k Key) String() string {
	return fmt.Sprintf("%x", []byte(k))
}

// Equal reports whether two keys are byte-identical.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether every byte of the key is zero.
func (k Key) IsZero() bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}

// clone returns a copy of k so callers cannot mutate a shared backing
// array through an aliased slice.
func (k Key) clone() Key {
	c := make(Key, len(k))
	copy(c, k)
	return c
}

// DeriveKey hashes name with SHA-256 and truncates to the leading
// keysize bits, per C1's key(name) operation. keysize must be a
// positive multiple of 8; callers validate this via Config.Validate
// before reaching here.
func DeriveKey(name string, keysizeBits int) Key {
	sum := sha256.Sum256([]byte(name))
	n := keysizeBits / 8
	if n > len(sum) {
		n = len(sum)
	}
	key := make(Key, n)
	copy(key, sum[:n])
	return key
}

// Distance computes the XOR distance between two keys of equal length.
// Distance is symmetric and zero iff a equals b.
func Distance(a, b Key) Key {
	if len(a) != len(b) {
		abortOnInvariant(newInvariantError("key", "distance operands have different lengths"))
	}
	d := make(Key, len(a))
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CommonPrefixLength counts the leading zero bits of d, the number of
// bits two keys share as a common address prefix. Returns keysize (the
// bit width of d) when d is all zero.
func CommonPrefixLength(d Key) int {
	bits := 0
	for _, b := range d {
		if b == 0 {
			bits += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return bits
			}
			bits++
		}
	}
	return bits
}

// BucketIndex returns keysize-1-commonPrefixLength(distance(self,other)),
// the distance band other falls into from self's perspective. Aborts
// with an InvariantError when other equals self — a peer's own key never
// occupies a bucket.
func BucketIndex(self, other Key) int {
	if self.Equal(other) {
		abortOnInvariant(newInvariantError("key", "getBucketIndex called with self as other"))
	}
	d := Distance(self, other)
	keysizeBits := len(self) * 8
	return keysizeBits - 1 - CommonPrefixLength(d)
}

// RandomKeyForBucket returns a key k such that BucketIndex(self, k) == i.
// It builds a distance value whose only guaranteed bits are: the high
// (keysize-1-i) bits zero and the next bit one; the remainder is
// uniformly random. The returned key is that distance XORed with self.
func RandomKeyForBucket(self Key, i int) (Key, error) {
	keysizeBits := len(self) * 8
	if i < 0 || i >= keysizeBits {
		return nil, newInvariantError("key", "bucket index out of range")
	}

	distance := make([]byte, len(self))
	if _, err := rand.Read(distance); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "RandomKeyForBucket",
			"error":    err.Error(),
		}).Error("failed to generate randomness for bucket target key")
		return nil, fmt.Errorf("random key for bucket: %w", err)
	}

	// Fixed bit position, 0-indexed from the most significant bit: the
	// common-prefix-length that places this distance in bucket i.
	fixedBit := keysizeBits - 1 - i
	zeroHighBits(distance, fixedBit)
	setBit(distance, fixedBit)

	d := new(big.Int).SetBytes(distance)
	s := new(big.Int).SetBytes(self)
	result := new(big.Int).Xor(d, s)

	out := make(Key, len(self))
	resultBytes := result.Bytes()
	copy(out[len(out)-len(resultBytes):], resultBytes)
	return out, nil
}

// zeroHighBits clears the top n bits of b, treating b as a big-endian
// bit string.
func zeroHighBits(b []byte, n int) {
	for i := 0; i < n; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		b[byteIdx] &^= 1 << bitIdx
	}
}

// setBit sets bit index n (0 = most significant bit of b[0]) to 1.
func setBit(b []byte, n int) {
	byteIdx := n / 8
	bitIdx := 7 - (n % 8)
	b[byteIdx] |= 1 << bitIdx
}

// Less reports whether distance a orders strictly before distance b,
// treating both as unsigned big-endian integers. Comparison never
// narrows to fixed-width signed arithmetic, per C10's requirement.
func Less(a, b Key) bool {
	if len(a) != len(b) {
		abortOnInvariant(newInvariantError("key", "Less operands have different lengths"))
	}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
