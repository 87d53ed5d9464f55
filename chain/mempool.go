package chain

import (
	"fmt"
	"strconv"
	"sync"

	"oraclegridd/metrics"
)

// UTXOLookup resolves a live output by pointer, used by the mempool to
// price a transaction's fee rate. Satisfied by ChainManager.LookupUTXO.
type UTXOLookup func(ptr OutputPointer) (ValueTransferOutput, bool)

// Mempool admits pending transactions by kind-specific lane, each with its
// own weight budget, so a flood of commits cannot starve value transfers
// or vice versa (spec's backpressure requirement). Within a lane,
// transactions are held in fee-rate-descending order so the highest-paying
// transactions are the first a candidate block assembles from; equal-rate
// transactions keep their relative admission order.
type Mempool struct {
	mu         sync.RWMutex
	lanes      map[TransactionKind]*lane
	byHash     map[string]*Transaction
	utxoLookup UTXOLookup
	seq        uint64
}

type laneEntry struct {
	hash    Hash
	feeRate uint64
	seq     uint64
}

type lane struct {
	maxWeight uint64
	weight    uint64
	entries   []laneEntry
}

// NewMempool constructs a mempool with per-kind weight budgets.
func NewMempool(budgets map[TransactionKind]uint64) *Mempool {
	m := &Mempool{
		lanes:  make(map[TransactionKind]*lane),
		byHash: make(map[string]*Transaction),
	}
	for k, b := range budgets {
		m.lanes[k] = &lane{maxWeight: b}
	}
	return m
}

// SetUTXOLookup wires a live UTXO source for fee-rate pricing. Without one,
// every transaction prices at a zero fee rate and lanes behave as plain
// FIFO queues.
func (m *Mempool) SetUTXOLookup(lookup UTXOLookup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utxoLookup = lookup
}

// weightOf approximates a transaction's resource cost as its canonical
// encoded size; exact fee-per-weight accounting belongs to the VT lane's
// fee market, out of scope here.
func weightOf(tx *Transaction) uint64 {
	b, err := EncodeCanonical(tx)
	if err != nil {
		return 1
	}
	return uint64(len(b))
}

// valueFlows returns the total input and output value of tx's spendable
// legs, for kinds that carry ValueTransferInput/ValueTransferOutput lists.
// Kinds with no such economics (commit, reveal, tally, unstake) report
// ok=false and are priced at a zero fee rate.
func (m *Mempool) valueFlows(tx *Transaction) (in, out uint64, ok bool) {
	var inputs []ValueTransferInput
	var outputs []ValueTransferOutput
	switch tx.Kind {
	case KindValueTransfer:
		if tx.ValueTransfer == nil {
			return 0, 0, false
		}
		inputs, outputs = tx.ValueTransfer.Inputs, tx.ValueTransfer.Outputs
	case KindDataRequest:
		if tx.DataRequest == nil {
			return 0, 0, false
		}
		inputs, outputs = tx.DataRequest.Inputs, tx.DataRequest.Outputs
	case KindStake:
		if tx.Stake == nil {
			return 0, 0, false
		}
		inputs = tx.Stake.Inputs
	default:
		return 0, 0, false
	}
	if m.utxoLookup == nil || len(inputs) == 0 {
		return 0, 0, false
	}
	for _, o := range outputs {
		out += o.ValueNann
	}
	for _, i := range inputs {
		utxo, found := m.utxoLookup(i.Pointer)
		if !found {
			return 0, 0, false
		}
		in += utxo.ValueNann
	}
	return in, out, true
}

// feeRateOf prices tx in fixed-point fee per weight unit. Transactions the
// mempool cannot price (no lookup wired, unresolved inputs, or a kind with
// no attached value economics) price at zero, the lowest priority a lane
// can hold.
func (m *Mempool) feeRateOf(tx *Transaction) uint64 {
	in, out, ok := m.valueFlows(tx)
	if !ok || in <= out {
		return 0
	}
	w := weightOf(tx)
	if w == 0 {
		return 0
	}
	return ((in - out) * FixedPointScale) / w
}

// Admit validates tx statelessly, checks its lane has budget, and inserts
// it in fee-rate-descending position. Returns the transaction's hash on
// success.
func (m *Mempool) Admit(tx *Transaction) (Hash, error) {
	if err := StatelessValidate(tx); err != nil {
		return Hash{}, err
	}
	h, err := tx.Hash()
	if err != nil {
		return Hash{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[h.String()]; exists {
		return h, nil
	}
	l, ok := m.lanes[tx.Kind]
	if !ok {
		return Hash{}, fmt.Errorf("chain: no mempool lane configured for kind %d", tx.Kind)
	}
	w := weightOf(tx)
	if l.maxWeight != 0 && l.weight+w > l.maxWeight {
		return Hash{}, fmt.Errorf("chain: mempool lane %d is full", tx.Kind)
	}
	l.weight += w
	m.seq++
	entry := laneEntry{hash: h, feeRate: m.feeRateOf(tx), seq: m.seq}

	pos := len(l.entries)
	for i, e := range l.entries {
		if e.feeRate < entry.feeRate {
			pos = i
			break
		}
	}
	l.entries = append(l.entries, laneEntry{})
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = entry

	m.byHash[h.String()] = tx
	metrics.MempoolSize.WithLabelValues(strconv.Itoa(int(tx.Kind))).Set(float64(len(l.entries)))
	return h, nil
}

// Remove drops a transaction (on inclusion in a block, or eviction).
func (m *Mempool) Remove(h Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byHash[h.String()]
	if !ok {
		return
	}
	delete(m.byHash, h.String())
	l := m.lanes[tx.Kind]
	if l == nil {
		return
	}
	l.weight -= weightOf(tx)
	for i, e := range l.entries {
		if e.hash.Equal(h) {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	metrics.MempoolSize.WithLabelValues(strconv.Itoa(int(tx.Kind))).Set(float64(len(l.entries)))
}

// Get returns a pending transaction by hash.
func (m *Mempool) Get(h Hash) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.byHash[h.String()]
	return tx, ok
}

// Lane returns the pending transaction hashes for a kind, fee-rate
// descending with FIFO tie-breaking, used when assembling a candidate
// block.
func (m *Mempool) Lane(kind TransactionKind) []Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lanes[kind]
	if !ok {
		return nil
	}
	out := make([]Hash, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.hash
	}
	return out
}

// Size returns the total number of pending transactions across all lanes.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash)
}
