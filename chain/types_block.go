package chain

// BlockHeader carries a block's metadata and the VRF proof that won it the
// right to be mined at its epoch.
type BlockHeader struct {
	Generation     Generation  `json:"generation"`
	Epoch          uint32      `json:"epoch"`
	PreviousHash   Hash        `json:"previous_hash"`
	MerkleRoot     Hash        `json:"merkle_root"`
	DataRequestRoot Hash       `json:"data_request_root"`
	Proof          VRFProof    `json:"proof"`
	Proposer       PKH         `json:"proposer"`
}

// Block is a proposer's mined block: a header, its signature, and the
// transactions it carries.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Signature    Signature      `json:"block_sig"`
	Transactions []Transaction  `json:"transactions"`
}

// Hash returns the block's content hash, computed over the header only
// (transactions are committed to via MerkleRoot), matching the teacher's
// sign-the-header-not-the-body convention.
func (b *Block) Hash() (Hash, error) {
	return HashCanonical(b.Header)
}

// TxCount returns the number of transactions carried, used as the
// secondary key in candidate-block ordering.
func (b *Block) TxCount() int { return len(b.Transactions) }

// Superblock is a checkpoint over a run of epochs: it commits to the data
// requests resolved, the tallies produced, the ARS reputation snapshot, and
// the last ordinary block, and is finalized by aggregated committee votes.
type Superblock struct {
	Index            uint32 `json:"index"`
	Epoch            uint32 `json:"epoch"`
	DataRequestRoot  Hash   `json:"data_request_root"`
	TallyRoot        Hash   `json:"tally_root"`
	ARSRoot          Hash   `json:"ars_root"`
	LastBlock        Hash   `json:"last_block"`
	PreviousSuperblock Hash `json:"previous_superblock_hash"`
}

// Hash returns the superblock's content hash.
func (s *Superblock) Hash() (Hash, error) {
	return HashCanonical(s)
}

// SuperblockVote is a committee member's signed endorsement of a candidate
// superblock hash at a given index.
type SuperblockVote struct {
	Index          uint32   `json:"superblock_index"`
	SuperblockHash Hash     `json:"superblock_hash"`
	Voter          PKH      `json:"voter"`
	Signature      []byte   `json:"bn256_signature"`
}

// ChainState is the materialized view of consensus progress: the best
// block, committed UTXO set membership (tracked in Storage, not here), and
// the finalized superblock checkpoint.
type ChainState struct {
	Epoch              uint32 `json:"epoch"`
	BestBlockHash      Hash   `json:"best_block_hash"`
	BestBlockEpoch     uint32 `json:"best_block_epoch"`
	LastSuperblockIndex uint32 `json:"last_superblock_index"`
	LastSuperblockHash Hash   `json:"last_superblock_hash"`
}
