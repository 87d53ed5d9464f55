package crypto

import (
	"fmt"
	"sync"

	"github.com/herumi/bls-eth-go-binary/bls"
)

// Legacy (GenLegacy) blocks are signed with an aggregated BLS12-381
// committee signature instead of the current BN256 scheme; the node must
// keep verifying them forever since old blocks are never re-signed. This
// follows the teacher's own BLS aggregation shape (core/security.go uses
// herumi/bls-eth-go-binary directly) rather than reimplementing pairing
// aggregation a second time for the legacy path.

var blsInitOnce sync.Once
var blsInitErr error

func ensureBLSInit() error {
	blsInitOnce.Do(func() {
		blsInitErr = bls.Init(bls.BLS12_381)
		if blsInitErr == nil {
			blsInitErr = bls.SetETHmode(bls.EthModeDraft07)
		}
	})
	return blsInitErr
}

// LegacySecretKey wraps a herumi BLS12-381 secret key.
type LegacySecretKey struct{ sk bls.SecretKey }

// GenerateLegacyKey creates a new random legacy BLS secret key.
func GenerateLegacyKey() (*LegacySecretKey, error) {
	if err := ensureBLSInit(); err != nil {
		return nil, fmt.Errorf("crypto: bls init: %w", err)
	}
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	return &LegacySecretKey{sk: sk}, nil
}

// PublicKey returns the public key for sk.
func (sk *LegacySecretKey) PublicKey() []byte {
	return sk.sk.GetPublicKey().Serialize()
}

// SignLegacy signs msg with sk, returning the serialized signature.
func (sk *LegacySecretKey) SignLegacy(msg []byte) []byte {
	return sk.sk.SignByte(msg).Serialize()
}

// AggregateLegacy sums a set of serialized BLS signatures into a single
// aggregate signature, mirroring core/security.go's aggregation helper.
func AggregateLegacy(sigs [][]byte) ([]byte, error) {
	if err := ensureBLSInit(); err != nil {
		return nil, fmt.Errorf("crypto: bls init: %w", err)
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("crypto: no legacy signatures to aggregate")
	}
	var agg bls.Sign
	for i, raw := range sigs {
		var s bls.Sign
		if err := s.Deserialize(raw); err != nil {
			return nil, fmt.Errorf("crypto: legacy signature %d: %w", i, err)
		}
		if i == 0 {
			agg = s
		} else {
			agg.Add(&s)
		}
	}
	return agg.Serialize(), nil
}

// VerifyBLSLegacyAggregate checks an aggregate legacy signature against a
// set of serialized public keys, all signing the same msg (committee
// block-header endorsement, where every signer attests to the same
// header).
func VerifyBLSLegacyAggregate(aggSig []byte, pubKeys [][]byte, msg []byte) (bool, error) {
	if err := ensureBLSInit(); err != nil {
		return false, fmt.Errorf("crypto: bls init: %w", err)
	}
	var sig bls.Sign
	if err := sig.Deserialize(aggSig); err != nil {
		return false, fmt.Errorf("crypto: legacy aggregate signature: %w", err)
	}

	var aggPub bls.PublicKey
	for i, raw := range pubKeys {
		var pub bls.PublicKey
		if err := pub.Deserialize(raw); err != nil {
			return false, fmt.Errorf("crypto: legacy public key %d: %w", i, err)
		}
		if i == 0 {
			aggPub = pub
		} else {
			aggPub.Add(&pub)
		}
	}
	return sig.Verify(&aggPub, string(msg)), nil
}
