package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// VRFProve computes a verifiable random function proof over alpha using
// priv. No VRF implementation exists anywhere in the retrieval pack (see
// DESIGN.md), so this follows the "VRF from a unique signature scheme"
// construction: RFC6979-deterministic ECDSA signing is (practically)
// unique per (key, message), so its hash is unpredictable without the
// private key yet publicly verifiable given the signature, exactly the
// two properties the mining/witnessing lotteries need. This trades the
// formal security proof a full EC-VRF (hash-to-curve, Goldberg et al.)
// would carry for an implementation built entirely from the primitives
// (decred secp256k1 + ECDSA) the teacher already signs transactions with.
func VRFProve(priv *secp256k1.PrivateKey, alpha []byte) (proof, output []byte, err error) {
	digest := sha256.Sum256(alpha)
	sig := ecdsa.Sign(priv, digest[:])
	proofBytes := sig.Serialize()
	out := sha256.Sum256(proofBytes)
	return proofBytes, out[:], nil
}

// VRFVerify checks that proof is a valid VRF proof produced by the holder
// of pubKey over alpha, and that output matches the proof. Returns an
// error describing which check failed.
func VRFVerify(pubKey, alpha, proof, output []byte) error {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("crypto: vrf verify: bad public key: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(proof)
	if err != nil {
		return fmt.Errorf("crypto: vrf verify: bad proof encoding: %w", err)
	}
	digest := sha256.Sum256(alpha)
	if !sig.Verify(digest[:], pk) {
		return fmt.Errorf("crypto: vrf verify: signature does not verify")
	}
	want := sha256.Sum256(proof)
	if len(output) != len(want) || string(output) != string(want[:]) {
		return fmt.Errorf("crypto: vrf verify: output does not match proof")
	}
	return nil
}

// VRFOutputUint64 interprets a VRF output's leading 8 bytes as a
// big-endian uint64, the value compared against the difficulty governor's
// threshold to decide lottery eligibility.
func VRFOutputUint64(output []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(output); i++ {
		v = v<<8 | uint64(output[i])
	}
	return v
}
