package chain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"oraclegridd/metrics"
)

// SyncState is the chain manager's top-level state machine, following the
// bootstrap-to-synced progression the teacher's consensus start/stop code
// (core/consensus_start.go, core/chain_fork_manager.go) tracks informally
// through status fields, made an explicit enum here since the node's
// behavior (which messages to accept, whether to mine) depends on it.
type SyncState uint8

const (
	StateBootstrap SyncState = iota
	StateWaitingConsensus
	StateSynchronizing
	StateAlmostSynced
	StateSynced
)

func (s SyncState) String() string {
	switch s {
	case StateBootstrap:
		return "bootstrap"
	case StateWaitingConsensus:
		return "waiting_consensus"
	case StateSynchronizing:
		return "synchronizing"
	case StateAlmostSynced:
		return "almost_synced"
	case StateSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// candidateBlock is a block proposed for the epoch being closed, pending
// the (vrf_hash asc, tx_count desc, block_hash asc) selection rule.
type candidateBlock struct {
	block   *Block
	hash    Hash
	vrfHash Hash
}

// dataRequestState tracks a posted data request's witnessing phase and the
// committers collected so far, the minimal state StatefulValidate's
// DRPhase closure and tally consolidation's reputation update both need.
// It is keyed by an OutputPointer with OutputIndex 0 against the posting
// DataRequestTransaction's hash: the data request itself has no literal
// spendable output, so index 0 is the convention every commit/reveal/tally
// transaction uses to reference "the data request created by this tx".
type dataRequestState struct {
	ptr       OutputPointer
	spec      DataRequestOutput
	phase     string // "commit", "reveal"; removed from the pool once tallied
	witnesses []PKH  // in commit order, positionally matching a tally's reveal indices
}

// ChainManager owns chain state, the per-epoch set of candidate blocks,
// the UTXO set, the in-flight data request pool, and the
// reputation engine, and drives the epoch tick. Fork bookkeeping is
// adapted from the teacher's ChainForkManager/AddForkBlock/ResolveForks
// (core/chain_fork_manager.go), replacing its "longest chain wins"
// resolution with this protocol's VRF-hash/tx-count/block-hash candidate
// ordering since ties are resolved within a single epoch rather than
// across chain lengths.
type ChainManager struct {
	mu sync.RWMutex

	store KVStore
	rep   *ReputationEngine
	diff  *DifficultyGovernor

	state        SyncState
	chainState   ChainState
	forksByEpoch map[uint32][]candidateBlock
	utxo         map[string]ValueTransferOutput // "%s:%d" -> output, live set
	spent        map[string]bool
	drPool       map[string]*dataRequestState

	// reputationIssuance is the amount a truthful witness gains per
	// resolved tally; reputationExpireWindow is how many alpha ticks past
	// the tally's epoch that gain survives before Expire can remove it.
	reputationIssuance      uint64
	reputationExpireWindow  uint32

	log *logrus.Entry
}

// NewChainManager constructs a manager over store, starting in Bootstrap.
func NewChainManager(store KVStore, rep *ReputationEngine, diff *DifficultyGovernor, reputationIssuance uint64, reputationExpireWindow uint32) *ChainManager {
	return &ChainManager{
		store:                  store,
		rep:                    rep,
		diff:                   diff,
		state:                  StateBootstrap,
		forksByEpoch:           make(map[uint32][]candidateBlock),
		utxo:                   make(map[string]ValueTransferOutput),
		spent:                  make(map[string]bool),
		drPool:                 make(map[string]*dataRequestState),
		reputationIssuance:     reputationIssuance,
		reputationExpireWindow: reputationExpireWindow,
		log:                    logrus.WithField("component", "chain_manager"),
	}
}

// State returns the current sync state machine position.
func (c *ChainManager) State() SyncState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState transitions the state machine, logging the change.
func (c *ChainManager) SetState(s SyncState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"from": prev, "to": s}).Info("sync state transition")
}

// ChainState returns a copy of the current materialized chain state.
func (c *ChainManager) ChainState() ChainState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chainState
}

// IsUnspent reports whether an output pointer is a live, unspent UTXO.
func (c *ChainManager) IsUnspent(ptr OutputPointer) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isUnspentLocked(ptr)
}

func (c *ChainManager) isUnspentLocked(ptr OutputPointer) bool {
	key := ptr.String()
	_, live := c.utxo[key]
	return live && !c.spent[key]
}

func (c *ChainManager) drPhaseLocked(ptr OutputPointer) (string, bool) {
	dr, ok := c.drPool[ptr.String()]
	if !ok {
		return "", false
	}
	return dr.phase, true
}

// LookupUTXO returns a live output by pointer, for callers (the mempool's
// fee-rate computation, p2p's inventory admission) that need to resolve an
// input's value without reaching into chain manager internals.
func (c *ChainManager) LookupUTXO(ptr OutputPointer) (ValueTransferOutput, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isUnspentLocked(ptr) {
		return ValueTransferOutput{}, false
	}
	return c.utxo[ptr.String()], true
}

// ValidationState builds the read-only view StatefulValidate needs,
// reflecting the manager's committed state at call time. Intended for
// validation outside of ApplyBlock (mempool admission, p2p inventory
// filtering); ApplyBlock uses its own already-locked view internally.
func (c *ChainManager) ValidationState() ValidationState {
	return ValidationState{
		IsUnspent: c.IsUnspent,
		DRPhase: func(ptr OutputPointer) (string, bool) {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return c.drPhaseLocked(ptr)
		},
		CurrentEpoch: func() uint32 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return c.chainState.Epoch
		},
	}
}

// ProposeCandidate registers a mined block as a candidate for the epoch it
// targets, to be resolved when that epoch closes. Mirrors
// ChainForkManager.AddForkBlock's per-parent bucketing, bucketed instead by
// target epoch since every valid candidate for an epoch shares the same
// previous_hash by construction (epochs only ever extend the best chain).
func (c *ChainManager) ProposeCandidate(b *Block) error {
	hash, err := b.Hash()
	if err != nil {
		return err
	}
	vrfHash := NewHash(b.Header.Proof.Output)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.forksByEpoch[b.Header.Epoch] = append(c.forksByEpoch[b.Header.Epoch], candidateBlock{
		block: b, hash: hash, vrfHash: vrfHash,
	})
	return nil
}

// ResolveEpoch picks the winning candidate for epoch using the
// (vrf_hash asc, tx_count desc, block_hash asc) ordering, applies it, and
// clears the epoch's candidate set. Returns a nil block if no candidate
// arrived.
func (c *ChainManager) ResolveEpoch(epoch uint32) (*Block, error) {
	c.mu.Lock()
	candidates := c.forksByEpoch[epoch]
	delete(c.forksByEpoch, epoch)
	c.mu.Unlock()

	if len(candidates) == 0 {
		c.rep.Expire(epoch)
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.vrfHash.Equal(b.vrfHash) {
			return a.vrfHash.Less(b.vrfHash)
		}
		if a.block.TxCount() != b.block.TxCount() {
			return a.block.TxCount() > b.block.TxCount()
		}
		return a.hash.Less(b.hash)
	})
	winner := candidates[0].block

	if err := c.ApplyBlock(winner); err != nil {
		return nil, err
	}
	return winner, nil
}

// ApplyBlock validates and commits a block's transactions to the UTXO set,
// data request pool and reputation engine, following the teacher's
// applyBlock persistence order (core/ledger.go's NewLedger/applyBlock:
// height check, append, per-tx UTXO update, mempool removal) adapted from
// account-balance ledger entries to spec's unspent-output set. Every
// transaction is checked with StatelessValidate and StatefulValidate
// before anything is written; the block is rejected whole on the first
// invalid transaction, so a syntactically-decodable but invalid block
// never touches committed state.
func (c *ChainManager) ApplyBlock(b *Block) error {
	hash, err := b.Hash()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.chainState.BestBlockHash.IsZero() && !b.Header.PreviousHash.Equal(c.chainState.BestBlockHash) {
		return ErrBadParent
	}

	epoch := b.Header.Epoch
	if err := c.validateBlockLocked(b, epoch); err != nil {
		return err
	}

	var penalized uint64
	err = c.store.WriteBatch(epoch, func(batch Batch) error {
		for i := range b.Transactions {
			tx := &b.Transactions[i]
			removed, err := c.applyTxLocked(batch, tx, epoch)
			if err != nil {
				return err
			}
			penalized += removed
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("chain: apply block: %w", err)
	}

	c.chainState.BestBlockHash = hash
	c.chainState.BestBlockEpoch = epoch
	c.chainState.Epoch = epoch
	c.rep.Expire(epoch)

	metrics.BlocksApplied.Inc()
	c.log.WithFields(logrus.Fields{
		"epoch":     epoch,
		"hash":      hash.String(),
		"txs":       len(b.Transactions),
		"penalized": penalized,
	}).Info("block applied")
	return nil
}

// validateBlockLocked runs StatelessValidate and StatefulValidate over
// every transaction before any of them are applied. It tracks inputs
// spent earlier in this same block (spentThisBlock) so an intra-block
// double spend is rejected even though the live UTXO set isn't mutated
// until the whole block has validated.
func (c *ChainManager) validateBlockLocked(b *Block, epoch uint32) error {
	spentThisBlock := make(map[string]bool)
	state := ValidationState{
		IsUnspent: func(ptr OutputPointer) bool {
			key := ptr.String()
			if spentThisBlock[key] {
				return false
			}
			return c.isUnspentLocked(ptr)
		},
		DRPhase:      c.drPhaseLocked,
		CurrentEpoch: func() uint32 { return epoch },
	}

	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if err := StatelessValidate(tx); err != nil {
			return fmt.Errorf("chain: stateless validation: %w", err)
		}
		if err := StatefulValidate(tx, state); err != nil {
			return fmt.Errorf("chain: stateful validation: %w", err)
		}
		for _, in := range txSpentInputs(tx) {
			spentThisBlock[in.Pointer.String()] = true
		}
	}
	return nil
}

// txSpentInputs returns every output pointer tx consumes, across value
// transfer, data request funding, stake and commit collateral inputs.
func txSpentInputs(tx *Transaction) []ValueTransferInput {
	switch tx.Kind {
	case KindValueTransfer:
		return tx.ValueTransfer.Inputs
	case KindDataRequest:
		return tx.DataRequest.Inputs
	case KindStake:
		return tx.Stake.Inputs
	case KindCommit:
		return tx.Commit.Collateral
	default:
		return nil
	}
}

// applyTxLocked commits one already-validated transaction's effects: UTXO
// spends/creations, data request pool transitions, and (for a tally) the
// reputation consequences of its recorded outcome. Returns the amount
// removed from liars' reputation, for ApplyBlock's logging.
func (c *ChainManager) applyTxLocked(batch Batch, tx *Transaction, epoch uint32) (uint64, error) {
	spend := func(inputs []ValueTransferInput) {
		for _, in := range inputs {
			key := in.Pointer.String()
			c.spent[key] = true
			delete(c.utxo, key)
			batch.Delete([]byte("utxo/" + key))
		}
	}
	create := func(txHash Hash, outputs []ValueTransferOutput) error {
		for i, out := range outputs {
			ptr := OutputPointer{TransactionHash: txHash, OutputIndex: uint32(i)}
			key := ptr.String()
			c.utxo[key] = out
			enc, err := EncodeCanonical(out)
			if err != nil {
				return err
			}
			batch.Set([]byte("utxo/"+key), enc)
		}
		return nil
	}

	txHash, err := tx.Hash()
	if err != nil {
		return 0, err
	}

	switch tx.Kind {
	case KindValueTransfer:
		spend(tx.ValueTransfer.Inputs)
		return 0, create(txHash, tx.ValueTransfer.Outputs)

	case KindDataRequest:
		spend(tx.DataRequest.Inputs)
		if err := create(txHash, tx.DataRequest.Outputs); err != nil {
			return 0, err
		}
		drPtr := OutputPointer{TransactionHash: txHash, OutputIndex: 0}
		c.drPool[drPtr.String()] = &dataRequestState{
			ptr:   drPtr,
			spec:  tx.DataRequest.DataRequest,
			phase: "commit",
		}
		return 0, nil

	case KindCommit:
		spend(tx.Commit.Collateral)
		dr, ok := c.drPool[tx.Commit.DRPointer.String()]
		if !ok {
			return 0, fmt.Errorf("chain: commit targets unknown data request")
		}
		dr.witnesses = append(dr.witnesses, PKHFromPublicKey(tx.Commit.Signature.PublicKey))
		if uint16(len(dr.witnesses)) >= dr.spec.WitnessCount {
			dr.phase = "reveal"
		}
		return 0, nil

	case KindReveal:
		return 0, nil

	case KindTally:
		if err := create(txHash, tx.Tally.Outputs); err != nil {
			return 0, err
		}
		key := tx.Tally.DRPointer.String()
		dr, ok := c.drPool[key]
		if !ok {
			return 0, nil
		}
		correct := tallyCorrectness(len(dr.witnesses), tx.Tally.Liars, tx.Tally.Errors)
		removed := ApplyTallyReputation(c.rep, epoch+c.reputationExpireWindow, dr.witnesses, correct, c.reputationIssuance, 1)
		delete(c.drPool, key)
		return removed, nil

	case KindStake:
		spend(tx.Stake.Inputs)
		return 0, nil

	case KindUnstake:
		return 0, create(txHash, []ValueTransferOutput{tx.Unstake.Output})

	default:
		return 0, nil
	}
}

// tallyCorrectness builds the per-witness correctness vector a tally's
// Liars/Errors index lists imply: every witness not named in either list
// reported the consensus value.
func tallyCorrectness(n int, liars, errs []uint16) []bool {
	correct := make([]bool, n)
	for i := range correct {
		correct[i] = true
	}
	for _, i := range liars {
		if int(i) < n {
			correct[i] = false
		}
	}
	for _, i := range errs {
		if int(i) < n {
			correct[i] = false
		}
	}
	return correct
}
