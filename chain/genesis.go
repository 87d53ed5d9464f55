package chain

import (
	"encoding/json"
	"fmt"
	"os"
)

// GenesisAllocation is one initial value-transfer output minted at genesis,
// following the spec's "(pkh, value) allocations" genesis file contract.
type GenesisAllocation struct {
	PKH   PKH    `json:"pkh"`
	Value uint64 `json:"value"`
}

// Genesis is the parsed contents of the genesis JSON file: the initial UTXO
// allocations and the block reward schedule new blocks mint against.
type Genesis struct {
	Allocations       []GenesisAllocation `json:"allocations"`
	InitialBlockReward uint64             `json:"initial_block_reward"`
}

// LoadGenesis reads and parses the genesis file at path.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chain: read genesis file: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("chain: parse genesis file: %w", err)
	}
	return &g, nil
}

// Hash returns the genesis file's canonical content hash, the value that
// must equal the genesis_hash consensus constant before a node will join a
// network using it.
func (g *Genesis) Hash() (Hash, error) {
	return HashCanonical(g)
}

// Verify checks g's hash against the expected consensus constant, following
// spec §6's "canonical hash must equal the genesis_hash consensus constant"
// requirement.
func (g *Genesis) Verify(expected Hash) error {
	got, err := g.Hash()
	if err != nil {
		return err
	}
	if !got.Equal(expected) {
		return fmt.Errorf("chain: genesis hash %s does not match expected %s", got, expected)
	}
	return nil
}

// MintOutputs builds the UTXO set entries genesis allocations produce,
// keyed by output pointer under the zero transaction hash and sequential
// output index, mirroring how any other transaction's outputs are
// addressed.
func (g *Genesis) MintOutputs() map[string]ValueTransferOutput {
	out := make(map[string]ValueTransferOutput, len(g.Allocations))
	for i, alloc := range g.Allocations {
		ptr := OutputPointer{TransactionHash: ZeroHash, OutputIndex: uint32(i)}
		out[ptr.String()] = ValueTransferOutput{PKH: alloc.PKH, ValueNann: alloc.Value}
	}
	return out
}

// ApplyGenesis seeds c's UTXO set from g, used by the chain manager on a
// cold Bootstrap start before any block has been consolidated.
func (c *ChainManager) ApplyGenesis(g *Genesis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, out := range g.MintOutputs() {
		c.utxo[key] = out
	}
}
