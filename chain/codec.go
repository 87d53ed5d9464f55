package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Generation identifies which wire/signature encoding a block or
// transaction uses. The node must keep decoding both generations forever
// since historical blocks never get re-encoded.
type Generation uint8

const (
	// GenLegacy is the original encoding: block headers are signed with an
	// aggregated BLS12-381 committee signature.
	GenLegacy Generation = iota
	// GenV2 is the current encoding: superblocks are finalized with an
	// aggregated BN256 committee signature instead.
	GenV2
)

// ProtocolInfo resolves which Generation is active at a given epoch. The
// cutover is pinned to a single activation epoch. EncodeCanonical and
// DecodeCanonical do not take a generation: both generations share the one
// RLP encoding below.
type ProtocolInfo struct {
	// ActivationEpoch is the first epoch that uses GenV2 encoding. Epochs
	// before it use GenLegacy.
	ActivationEpoch uint32
}

// DefaultProtocolInfo activates GenV2 from genesis, since this pack carries
// no test-vector source to pin a nonzero historical cutover.
var DefaultProtocolInfo = ProtocolInfo{ActivationEpoch: 0}

// GenerationAt returns the encoding generation active at epoch.
func (p ProtocolInfo) GenerationAt(epoch uint32) Generation {
	if epoch >= p.ActivationEpoch {
		return GenV2
	}
	return GenLegacy
}

// EncodeCanonical produces the canonical pre-signature byte representation
// of v used for hashing and signing. It uses RLP, the same canonical codec
// the teacher reaches for around its ledger (go-ethereum/rlp), rather than
// a hand-rolled binary writer.
func EncodeCanonical(v interface{}) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("chain: canonical encode: %w", err)
	}
	return b, nil
}

// DecodeCanonical reverses EncodeCanonical into v (a pointer).
func DecodeCanonical(data []byte, v interface{}) error {
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("chain: canonical decode: %w", err)
	}
	return nil
}

// HashCanonical returns the content hash of v's canonical encoding.
func HashCanonical(v interface{}) (Hash, error) {
	b, err := EncodeCanonical(v)
	if err != nil {
		return Hash{}, err
	}
	return NewHash(b), nil
}
