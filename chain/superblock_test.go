package chain

import "testing"

func sampleSuperblock(index uint32) *Superblock {
	return &Superblock{Index: index, Epoch: index, LastBlock: ZeroHash, PreviousSuperblock: ZeroHash}
}

func TestBuildCandidateCommitsRoots(t *testing.T) {
	rep := NewReputationEngine(100, 10)
	sb, err := BuildCandidate(1, 10, ZeroHash, NewHash([]byte("last-block")), rep, nil, nil)
	if err != nil {
		t.Fatalf("BuildCandidate failed: %v", err)
	}
	if sb.Index != 1 || sb.Epoch != 10 {
		t.Fatalf("BuildCandidate index/epoch = %d/%d, want 1/10", sb.Index, sb.Epoch)
	}
	if !sb.DataRequestRoot.Equal(ZeroHash) || !sb.TallyRoot.Equal(ZeroHash) {
		t.Fatalf("roots over no resolved requests/tallies should be ZeroHash")
	}
}

func TestSubmitVoteReachesQuorum(t *testing.T) {
	b := NewSuperblockBuilder(3, 0)
	sb := sampleSuperblock(1)
	if err := b.OpenRound(sb); err != nil {
		t.Fatalf("OpenRound failed: %v", err)
	}
	hash, _ := sb.Hash()

	for i := 0; i < 2; i++ {
		finalized, err := b.SubmitVote(SuperblockVote{Index: 1, SuperblockHash: hash, Voter: samplePKH(byte(i)), Signature: []byte{byte(i)}})
		if err != nil {
			t.Fatalf("SubmitVote failed: %v", err)
		}
		if i == 0 && finalized {
			t.Fatalf("a single vote out of 3 should not reach 2/3 quorum")
		}
		if i == 1 && !finalized {
			t.Fatalf("two votes out of 3 should reach 2/3 quorum")
		}
	}
}

func TestSubmitVoteRejectsWrongCandidateHash(t *testing.T) {
	b := NewSuperblockBuilder(3, 0)
	sb := sampleSuperblock(1)
	if err := b.OpenRound(sb); err != nil {
		t.Fatalf("OpenRound failed: %v", err)
	}
	_, err := b.SubmitVote(SuperblockVote{Index: 1, SuperblockHash: NewHash([]byte("not-the-candidate")), Voter: samplePKH(1)})
	if err == nil {
		t.Fatalf("SubmitVote should reject a vote for a different candidate hash")
	}
}

func TestSubmitVoteRejectsUnknownRound(t *testing.T) {
	b := NewSuperblockBuilder(3, 0)
	_, err := b.SubmitVote(SuperblockVote{Index: 99, Voter: samplePKH(1)})
	if err == nil {
		t.Fatalf("SubmitVote should reject a vote for an index with no open round")
	}
}

func TestAdvanceRoundRespectsBudget(t *testing.T) {
	b := NewSuperblockBuilder(3, 1)
	sb := sampleSuperblock(1)
	if err := b.OpenRound(sb); err != nil {
		t.Fatalf("OpenRound failed: %v", err)
	}
	if !b.AdvanceRound(1) {
		t.Fatalf("AdvanceRound should succeed within the extraRounds budget")
	}
	if b.AdvanceRound(1) {
		t.Fatalf("AdvanceRound should fail once extraRounds budget is exhausted")
	}
}

func TestFinalizedFalseBeforeQuorum(t *testing.T) {
	b := NewSuperblockBuilder(3, 0)
	sb := sampleSuperblock(1)
	if err := b.OpenRound(sb); err != nil {
		t.Fatalf("OpenRound failed: %v", err)
	}
	if _, _, ok := b.Finalized(1); ok {
		t.Fatalf("Finalized should report false before quorum is reached")
	}
}

func TestFinalizedTrueAfterQuorum(t *testing.T) {
	b := NewSuperblockBuilder(3, 0)
	sb := sampleSuperblock(1)
	if err := b.OpenRound(sb); err != nil {
		t.Fatalf("OpenRound failed: %v", err)
	}
	hash, _ := sb.Hash()
	for i := 0; i < 2; i++ {
		if _, err := b.SubmitVote(SuperblockVote{Index: 1, SuperblockHash: hash, Voter: samplePKH(byte(i)), Signature: []byte{byte(i)}}); err != nil {
			t.Fatalf("SubmitVote failed: %v", err)
		}
	}
	got, _, ok := b.Finalized(1)
	if !ok {
		t.Fatalf("Finalized should report true after quorum")
	}
	if got.Index != sb.Index {
		t.Fatalf("Finalized returned candidate index %d, want %d", got.Index, sb.Index)
	}
}
