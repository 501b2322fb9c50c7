// Package crypto implements the cryptographic primitives used to identify
// and optionally secure communication between DHT peers.
//
// The DHT's address space is keyed by SHA-256 name hashes (see package dht),
// not by these cryptographic identities; this package exists for peers that
// want an authenticated, encrypted transport channel layered underneath the
// RPC surface. It follows the same NaCl-based approach as the codebase this
// module was adapted from: Curve25519 key pairs, box/secretbox authenticated
// encryption, and ECDH shared-secret derivation.
//
// # Key Generation
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
//
// # Encryption
//
//	nonce, _ := crypto.GenerateNonce()
//	ciphertext, _ := crypto.Encrypt(plaintext, nonce, peerPublicKey, myPrivateKey)
//	plaintext, _ := crypto.Decrypt(ciphertext, nonce, peerPublicKey, myPrivateKey)
//
// # Shared Secrets
//
//	secret, _ := crypto.DeriveSharedSecret(peerPublicKey, myPrivateKey)
//	ciphertext, _ := crypto.EncryptSymmetric(plaintext, nonce, secret)
package crypto
