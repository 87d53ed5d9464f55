package chain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"oraclegridd/crypto"
	"oraclegridd/metrics"
)

// SuperblockBuilder constructs the next checkpoint over the epochs since
// the previous superblock and tracks committee votes toward two-thirds
// finality. Voting uses BN256 aggregate signatures (the current
// generation); legacy blocks signed under GenLegacy before the BN256
// cutover are verified with crypto.VerifyBLSLegacyAggregate instead (see
// DESIGN.md for the generation split).
type SuperblockBuilder struct {
	mu sync.Mutex

	committeeSize int
	extraRounds   int

	pending  map[uint32]*voteRound
	log      *logrus.Entry
}

type voteRound struct {
	candidate  *Superblock
	candHash   Hash
	votes      map[PKH]SuperblockVote
	rounds     int
	finalized  bool
}

// NewSuperblockBuilder constructs a builder requiring two-thirds of
// committeeSize votes to finalize, with up to extraRounds additional
// voting rounds if the first round falls short.
func NewSuperblockBuilder(committeeSize, extraRounds int) *SuperblockBuilder {
	return &SuperblockBuilder{
		committeeSize: committeeSize,
		extraRounds:   extraRounds,
		pending:       make(map[uint32]*voteRound),
		log:           logrus.WithField("component", "superblock"),
	}
}

// BuildCandidate assembles the next superblock from the reputation
// engine's active set and the epoch range's resolved data requests and
// tallies, committing to (data_request_root, tally_root, ars_root,
// last_block) as the spec's superblock layout requires.
func BuildCandidate(index, epoch uint32, prevSuperblock, lastBlock Hash, rep *ReputationEngine, resolvedDRs, tallies []Transaction) (*Superblock, error) {
	drRoot, err := DataRequestRoot(resolvedDRs)
	if err != nil {
		return nil, err
	}
	tallyLeaves := make([]Hash, len(tallies))
	for i := range tallies {
		h, err := tallies[i].Hash()
		if err != nil {
			return nil, err
		}
		tallyLeaves[i] = h
	}
	sb := &Superblock{
		Index:              index,
		Epoch:              epoch,
		DataRequestRoot:    drRoot,
		TallyRoot:          MerkleRoot(tallyLeaves),
		ARSRoot:            rep.ARSRoot(),
		LastBlock:          lastBlock,
		PreviousSuperblock: prevSuperblock,
	}
	return sb, nil
}

// OpenRound begins accepting committee votes for a candidate superblock.
func (s *SuperblockBuilder) OpenRound(sb *Superblock) error {
	hash, err := sb.Hash()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sb.Index] = &voteRound{candidate: sb, candHash: hash, votes: make(map[PKH]SuperblockVote)}
	return nil
}

// SubmitVote records a committee member's BN256-signed vote for the
// superblock at index, returning true once two-thirds quorum is reached
// (finality). SubmitVote does not verify the vote's BN256 signature (see
// crypto.VerifyBN256Aggregate); it counts any vote whose index and
// superblock hash match an open round, and no caller in this repository
// verifies the signature before passing the vote in.
func (s *SuperblockBuilder) SubmitVote(vote SuperblockVote) (finalized bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.pending[vote.Index]
	if !ok {
		return false, fmt.Errorf("chain: no open voting round for superblock %d", vote.Index)
	}
	if !vote.SuperblockHash.Equal(round.candHash) {
		return false, fmt.Errorf("chain: vote targets a different candidate hash")
	}
	wasFinalized := round.finalized
	round.votes[vote.Voter] = vote

	threshold := (s.committeeSize*2 + 2) / 3 // ceil(2/3 * committeeSize)
	if len(round.votes) >= threshold {
		round.finalized = true
		if !wasFinalized {
			metrics.SuperblocksFinalized.Inc()
		}
		return true, nil
	}
	return false, nil
}

// AdvanceRound opens an additional voting round for index if the previous
// round fell short of quorum and extraRounds budget remains. Returns false
// once the round budget is exhausted without finality.
func (s *SuperblockBuilder) AdvanceRound(index uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.pending[index]
	if !ok || round.finalized {
		return false
	}
	if round.rounds >= s.extraRounds {
		return false
	}
	round.rounds++
	return true
}

// Finalized reports whether the superblock at index reached quorum, and
// aggregates its committee signatures into a single BN256 signature for
// compact storage/broadcast.
func (s *SuperblockBuilder) Finalized(index uint32) (*Superblock, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.pending[index]
	if !ok || !round.finalized {
		return nil, nil, false
	}

	sigs := make([][]byte, 0, len(round.votes))
	voters := make([]PKH, 0, len(round.votes))
	for pkh, v := range round.votes {
		sigs = append(sigs, v.Signature)
		voters = append(voters, pkh)
	}
	sort.Slice(voters, func(i, j int) bool { return pkhLess(voters[i], voters[j]) })

	agg, err := crypto.AggregateBN256(sigs)
	if err != nil {
		s.log.WithError(err).Warn("bn256 aggregation failed")
		return round.candidate, nil, true
	}
	delete(s.pending, index)
	return round.candidate, agg, true
}
