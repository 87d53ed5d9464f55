package chain

import "testing"

func newTestChainManager(t *testing.T) *ChainManager {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	rep := NewReputationEngine(1000, 10)
	diff := NewDifficultyGovernor(45000, 10)
	return NewChainManager(store, rep, diff, 10, 1000)
}

func sampleBlock(epoch uint32, prev Hash, vrfOutput byte, txs []Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Generation:   GenV2,
			Epoch:        epoch,
			PreviousHash: prev,
			Proof:        VRFProof{Output: []byte{vrfOutput}},
			Proposer:     samplePKH(1),
		},
		Transactions: txs,
	}
}

func TestChainManagerInitialState(t *testing.T) {
	mgr := newTestChainManager(t)
	if mgr.State() != StateBootstrap {
		t.Fatalf("State() = %v, want StateBootstrap", mgr.State())
	}
}

func TestChainManagerSetState(t *testing.T) {
	mgr := newTestChainManager(t)
	mgr.SetState(StateSynced)
	if mgr.State() != StateSynced {
		t.Fatalf("State() = %v, want StateSynced", mgr.State())
	}
}

func TestSyncStateString(t *testing.T) {
	cases := map[SyncState]string{
		StateBootstrap:        "bootstrap",
		StateWaitingConsensus: "waiting_consensus",
		StateSynchronizing:    "synchronizing",
		StateAlmostSynced:     "almost_synced",
		StateSynced:           "synced",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("SyncState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestChainManagerApplyBlockUpdatesState(t *testing.T) {
	mgr := newTestChainManager(t)
	b := sampleBlock(1, ZeroHash, 1, nil)
	if err := mgr.ApplyBlock(b); err != nil {
		t.Fatalf("ApplyBlock failed: %v", err)
	}
	hash, _ := b.Hash()
	state := mgr.ChainState()
	if !state.BestBlockHash.Equal(hash) {
		t.Fatalf("BestBlockHash = %s, want %s", state.BestBlockHash, hash)
	}
	if state.BestBlockEpoch != 1 {
		t.Fatalf("BestBlockEpoch = %d, want 1", state.BestBlockEpoch)
	}
}

func TestChainManagerApplyBlockRejectsWrongParent(t *testing.T) {
	mgr := newTestChainManager(t)
	b1 := sampleBlock(1, ZeroHash, 1, nil)
	if err := mgr.ApplyBlock(b1); err != nil {
		t.Fatalf("ApplyBlock failed: %v", err)
	}
	b2 := sampleBlock(2, NewHash([]byte("not the real parent")), 1, nil)
	if err := mgr.ApplyBlock(b2); err != ErrBadParent {
		t.Fatalf("ApplyBlock() error = %v, want ErrBadParent", err)
	}
}

func TestChainManagerApplyBlockCreatesUTXOs(t *testing.T) {
	mgr := newTestChainManager(t)
	prevPtr := OutputPointer{TransactionHash: NewHash([]byte("prior")), OutputIndex: 0}
	mgr.utxo[prevPtr.String()] = ValueTransferOutput{PKH: samplePKH(1), ValueNann: 100}

	tx := Transaction{
		Kind: KindValueTransfer,
		ValueTransfer: &ValueTransferTx{
			Inputs:     []ValueTransferInput{{Pointer: prevPtr}},
			Outputs:    []ValueTransferOutput{{PKH: samplePKH(5), ValueNann: 100}},
			Signatures: []Signature{{PublicKey: []byte{0x02}, Sig: []byte{0x01}}},
		},
	}
	b := sampleBlock(1, ZeroHash, 1, []Transaction{tx})
	if err := mgr.ApplyBlock(b); err != nil {
		t.Fatalf("ApplyBlock failed: %v", err)
	}
	txHash, err := tx.Hash()
	if err != nil {
		t.Fatalf("tx.Hash() failed: %v", err)
	}
	ptr := OutputPointer{TransactionHash: txHash, OutputIndex: 0}
	if !mgr.IsUnspent(ptr) {
		t.Fatalf("expected the created output to be unspent")
	}
	if mgr.IsUnspent(prevPtr) {
		t.Fatalf("expected the spent input to no longer be unspent")
	}
}

func TestChainManagerApplyBlockRejectsInvalidTransaction(t *testing.T) {
	mgr := newTestChainManager(t)
	tx := Transaction{Kind: KindValueTransfer, ValueTransfer: &ValueTransferTx{}}
	b := sampleBlock(1, ZeroHash, 1, []Transaction{tx})
	if err := mgr.ApplyBlock(b); err == nil {
		t.Fatalf("expected ApplyBlock to reject a transaction with no inputs or outputs")
	}
	if !mgr.ChainState().BestBlockHash.IsZero() {
		t.Fatalf("expected a rejected block to leave chain state untouched")
	}
}

func TestChainManagerApplyBlockRejectsIntraBlockDoubleSpend(t *testing.T) {
	mgr := newTestChainManager(t)
	prevPtr := OutputPointer{TransactionHash: NewHash([]byte("prior")), OutputIndex: 0}
	mgr.utxo[prevPtr.String()] = ValueTransferOutput{PKH: samplePKH(1), ValueNann: 100}

	spend := func(value uint64) Transaction {
		return Transaction{Kind: KindValueTransfer, ValueTransfer: &ValueTransferTx{
			Inputs:     []ValueTransferInput{{Pointer: prevPtr}},
			Outputs:    []ValueTransferOutput{{PKH: samplePKH(5), ValueNann: value}},
			Signatures: []Signature{{PublicKey: []byte{0x02}, Sig: []byte{0x01}}},
		}}
	}
	b := sampleBlock(1, ZeroHash, 1, []Transaction{spend(40), spend(60)})
	if err := mgr.ApplyBlock(b); err == nil {
		t.Fatalf("expected ApplyBlock to reject a block that double-spends the same input")
	}
}

func TestChainManagerDataRequestLifecycleUpdatesReputation(t *testing.T) {
	mgr := newTestChainManager(t)

	drTx := Transaction{
		Kind: KindDataRequest,
		DataRequest: &DataRequestTransaction{
			DataRequest: DataRequestOutput{WitnessCount: 2, MinConsensus: 51},
		},
	}
	drHash, err := drTx.Hash()
	if err != nil {
		t.Fatalf("drTx.Hash() failed: %v", err)
	}
	drPtr := OutputPointer{TransactionHash: drHash, OutputIndex: 0}

	b1 := sampleBlock(1, ZeroHash, 1, []Transaction{drTx})
	if err := mgr.ApplyBlock(b1); err != nil {
		t.Fatalf("ApplyBlock(dr) failed: %v", err)
	}
	if phase, ok := mgr.drPhaseLocked(drPtr); !ok || phase != "commit" {
		t.Fatalf("DRPhase after posting = (%q, %v), want (commit, true)", phase, ok)
	}

	commit1 := Transaction{Kind: KindCommit, Commit: &CommitTransaction{
		DRPointer:  drPtr,
		CommitHash: NewHash([]byte("c1")),
		Signature:  Signature{PublicKey: []byte{0x01}, Sig: []byte{0xAA}},
	}}
	commit2 := Transaction{Kind: KindCommit, Commit: &CommitTransaction{
		DRPointer:  drPtr,
		CommitHash: NewHash([]byte("c2")),
		Signature:  Signature{PublicKey: []byte{0x02}, Sig: []byte{0xBB}},
	}}
	b1Hash, _ := b1.Hash()
	b2 := sampleBlock(2, b1Hash, 1, []Transaction{commit1, commit2})
	if err := mgr.ApplyBlock(b2); err != nil {
		t.Fatalf("ApplyBlock(commits) failed: %v", err)
	}
	if phase, ok := mgr.drPhaseLocked(drPtr); !ok || phase != "reveal" {
		t.Fatalf("DRPhase after both commits = (%q, %v), want (reveal, true)", phase, ok)
	}

	witness1 := PKHFromPublicKey([]byte{0x01})
	witness2 := PKHFromPublicKey([]byte{0x02})

	tally := Transaction{Kind: KindTally, Tally: &TallyTransaction{
		DRPointer: drPtr,
		Result:    []byte("result"),
		Liars:     []uint16{1},
	}}
	b2Hash, _ := b2.Hash()
	b3 := sampleBlock(3, b2Hash, 1, []Transaction{tally})
	if err := mgr.ApplyBlock(b3); err != nil {
		t.Fatalf("ApplyBlock(tally) failed: %v", err)
	}

	if got := mgr.rep.Score(witness1); got != mgr.reputationIssuance {
		t.Fatalf("truthful witness score = %d, want %d", got, mgr.reputationIssuance)
	}
	if got := mgr.rep.Score(witness2); got != 0 {
		t.Fatalf("liar score = %d, want 0", got)
	}
	if !mgr.rep.IsActive(witness1) || !mgr.rep.IsActive(witness2) {
		t.Fatalf("expected both witnesses marked active by the tally")
	}
	if _, ok := mgr.drPhaseLocked(drPtr); ok {
		t.Fatalf("expected the data request to be removed from the pool once tallied")
	}
}

func TestChainManagerProposeAndResolveEpochPicksLowestVRFHash(t *testing.T) {
	mgr := newTestChainManager(t)
	low := sampleBlock(1, ZeroHash, 0x00, nil)
	high := sampleBlock(1, ZeroHash, 0xff, nil)

	if err := mgr.ProposeCandidate(high); err != nil {
		t.Fatalf("ProposeCandidate failed: %v", err)
	}
	if err := mgr.ProposeCandidate(low); err != nil {
		t.Fatalf("ProposeCandidate failed: %v", err)
	}

	winner, err := mgr.ResolveEpoch(1)
	if err != nil {
		t.Fatalf("ResolveEpoch failed: %v", err)
	}
	lowHash, _ := low.Hash()
	winnerHash, _ := winner.Hash()
	if !winnerHash.Equal(lowHash) {
		t.Fatalf("expected the lowest vrf-hash candidate to win")
	}
}

func TestChainManagerResolveEpochNoCandidates(t *testing.T) {
	mgr := newTestChainManager(t)
	winner, err := mgr.ResolveEpoch(99)
	if err != nil {
		t.Fatalf("ResolveEpoch failed: %v", err)
	}
	if winner != nil {
		t.Fatalf("expected no winner for an epoch with no candidates")
	}
}
