package crypto

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
)

// BN256 committee votes use the standard BLS-over-pairing construction:
// a private scalar x, public key x*G2, signature x*H(m) for a message
// hashed onto G1 by scalar-multiplying the G1 generator by H(m) mod the
// group order. Because every vote in a round signs the same superblock
// hash, aggregation and verification collapse to simple point addition
// and a single pairing check, the shape go-ethereum's bn256/cloudflare
// package (part of go-ethereum, already a direct dependency for rlp) is
// built to do.

// BN256PrivateKey is a committee member's BN256 signing scalar.
type BN256PrivateKey struct {
	Scalar *big.Int
}

// BN256PublicKey is the corresponding G2 point.
type BN256PublicKey struct {
	Point *bn256.G2
}

// GenerateBN256Key derives a signing key from seed (the witness's secp256k1
// private key bytes, so committee membership reuses the same stake
// identity rather than requiring a second registered key).
func GenerateBN256Key(seed []byte) *BN256PrivateKey {
	h := sha256.Sum256(seed)
	scalar := new(big.Int).SetBytes(h[:])
	scalar.Mod(scalar, bn256.Order)
	if scalar.Sign() == 0 {
		scalar.SetInt64(1)
	}
	return &BN256PrivateKey{Scalar: scalar}
}

// PublicKey derives the G2 public key for k.
func (k *BN256PrivateKey) PublicKey() *BN256PublicKey {
	return &BN256PublicKey{Point: new(bn256.G2).ScalarBaseMult(k.Scalar)}
}

// Marshal encodes a BN256 public key.
func (p *BN256PublicKey) Marshal() []byte { return p.Point.Marshal() }

// UnmarshalBN256PublicKey decodes a BN256 public key.
func UnmarshalBN256PublicKey(data []byte) (*BN256PublicKey, error) {
	pt := new(bn256.G2)
	if _, err := pt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("crypto: bn256 pubkey unmarshal: %w", err)
	}
	return &BN256PublicKey{Point: pt}, nil
}

func hashToScalar(msg []byte) *big.Int {
	h := sha256.Sum256(msg)
	s := new(big.Int).SetBytes(h[:])
	return s.Mod(s, bn256.Order)
}

func hashToG1(msg []byte) *bn256.G1 {
	return new(bn256.G1).ScalarBaseMult(hashToScalar(msg))
}

// SignBN256 signs msg with k, returning the marshaled G1 signature point.
func SignBN256(k *BN256PrivateKey, msg []byte) []byte {
	sig := new(bn256.G1).ScalarMult(hashToG1(msg), k.Scalar)
	return sig.Marshal()
}

// AggregateBN256 sums a set of marshaled G1 signatures (all over the same
// message) into a single marshaled aggregate signature.
func AggregateBN256(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("crypto: no signatures to aggregate")
	}
	agg := new(bn256.G1)
	for i, s := range sigs {
		pt := new(bn256.G1)
		if _, err := pt.Unmarshal(s); err != nil {
			return nil, fmt.Errorf("crypto: aggregate: bad signature %d: %w", i, err)
		}
		if i == 0 {
			agg = pt
		} else {
			agg = new(bn256.G1).Add(agg, pt)
		}
	}
	return agg.Marshal(), nil
}

// AggregateBN256PublicKeys sums a set of public keys for aggregate
// verification.
func AggregateBN256PublicKeys(pubs []*BN256PublicKey) *BN256PublicKey {
	agg := new(bn256.G2)
	for i, p := range pubs {
		if i == 0 {
			agg = p.Point
		} else {
			agg = new(bn256.G2).Add(agg, p.Point)
		}
	}
	return &BN256PublicKey{Point: agg}
}

// VerifyBN256Aggregate checks an aggregate signature against the sum of
// the signers' public keys over msg, using a single pairing check:
// e(sig, G2Base) == e(H(msg), pubkeyAgg), expressed as
// e(sig, G2Base) * e(-H(msg), pubkeyAgg) == 1.
func VerifyBN256Aggregate(aggSig []byte, aggPub *BN256PublicKey, msg []byte) (bool, error) {
	sig := new(bn256.G1)
	if _, err := sig.Unmarshal(aggSig); err != nil {
		return false, fmt.Errorf("crypto: verify: bad aggregate signature: %w", err)
	}

	h := hashToScalar(msg)
	negH := new(big.Int).Sub(bn256.Order, h)
	negH.Mod(negH, bn256.Order)
	negHPoint := new(bn256.G1).ScalarBaseMult(negH)

	g2Base := new(bn256.G2).ScalarBaseMult(big.NewInt(1))

	ok := bn256.PairingCheck([]*bn256.G1{sig, negHPoint}, []*bn256.G2{g2Base, aggPub.Point})
	return ok, nil
}
