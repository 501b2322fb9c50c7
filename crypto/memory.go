package crypto

// ZeroBytes overwrites b with zeros in place. Callers use it to scrub key
// material and intermediate shared secrets from memory as soon as they are
// no longer needed.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
