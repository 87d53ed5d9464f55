// Package crypto wraps the signature and aggregation primitives the chain
// package builds transactions, blocks and superblock votes on top of:
// secp256k1 signing, a VRF over the same curve, BN256 aggregate committee
// signatures, and the legacy BLS12-381 aggregate path kept for decoding
// pre-cutover blocks.
package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// GenerateKey returns a fresh secp256k1 keypair.
func GenerateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// Sign produces a deterministic (RFC6979) ECDSA signature over digest,
// following the teacher's preference for the decred secp256k1 package
// (core/security.go's signing helpers) over reimplementing ECDSA by hand.
func Sign(priv *secp256k1.PrivateKey, digest [32]byte) []byte {
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

// VerifySignature checks a DER-encoded ECDSA signature against a
// compressed public key and digest.
func VerifySignature(pubKey, sig, digest []byte) bool {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(digest, pk)
}

// RandomNonce returns a cryptographically random 32-byte value, used to
// seal commit-transaction reveal values.
func RandomNonce() ([32]byte, error) {
	var n [32]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("crypto: random nonce: %w", err)
	}
	return n, nil
}
