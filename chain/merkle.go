package chain

// MerkleRoot computes a binary Merkle root over leaves, duplicating the
// last node of an odd-length level so every level halves cleanly. Leaves
// are hashed in the order given; callers that need an order-independent
// root (e.g. the ARS snapshot root) sort PKHs before calling this.
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return ZeroHash
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(next); i++ {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b Hash) Hash {
	buf := make([]byte, 0, len(a.Bytes())+len(b.Bytes()))
	buf = append(buf, a.Bytes()...)
	buf = append(buf, b.Bytes()...)
	return NewHash(buf)
}

// DataRequestRoot computes the root committing a block's data-request-kind
// transactions (data request, commit, reveal, tally) in inclusion order.
func DataRequestRoot(txs []Transaction) (Hash, error) {
	var leaves []Hash
	for i := range txs {
		switch txs[i].Kind {
		case KindDataRequest, KindCommit, KindReveal, KindTally:
			h, err := txs[i].Hash()
			if err != nil {
				return Hash{}, err
			}
			leaves = append(leaves, h)
		}
	}
	return MerkleRoot(leaves), nil
}

// TransactionsRoot computes the root committing every transaction in a
// block, in inclusion order, for BlockHeader.MerkleRoot.
func TransactionsRoot(txs []Transaction) (Hash, error) {
	leaves := make([]Hash, len(txs))
	for i := range txs {
		h, err := txs[i].Hash()
		if err != nil {
			return Hash{}, err
		}
		leaves[i] = h
	}
	return MerkleRoot(leaves), nil
}
