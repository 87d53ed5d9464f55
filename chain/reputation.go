package chain

import (
	"container/list"
	"sync"
)

// FixedPointScale is the denominator backing the fixed-point arithmetic
// Penalize uses to raise a penalization factor to the lies_count power
// without floating point, so the result is identical across platforms.
const FixedPointScale = 1_000_000_000

// ReputationDiff is one witness's credited amount within a single Gain
// batch. Every diff passed to the same Gain call shares one expiration
// alpha, but diffs from different Gain calls to the same pkh expire
// independently of one another.
type ReputationDiff struct {
	PKH    PKH
	Amount uint64
}

// expirationEntry groups every diff that expires at the same alpha: the
// "(alpha_expire, [diffs])" unit the TRS expiration queue holds.
type expirationEntry struct {
	alphaExpire uint32
	diffs       []ReputationDiff
}

// ReputationEngine implements the Total Reputation Set (TRS) and Active
// Reputation Set (ARS). TRS holds a running per-pkh total backed by an
// alpha-ordered queue of independently-expiring diff batches: crediting a
// pkh twice at different alphas produces two batches that expire on their
// own schedules rather than collapsing into a single expiration. ARS is a
// single shared capped circular buffer of the set of active pkhs observed
// at each past activity tick (push_activity), not a per-pkh structure --
// membership is "appeared in at least one of the last lambda_a ticks".
// This generalizes the teacher's token-ledger style balance map
// (core/governance_reputation_voting.go's balance map + CurrentStore
// access pattern) into the alpha-decaying trust score the witnessing
// protocol requires, which the teacher's SYN-REP balances never had.
type ReputationEngine struct {
	mu sync.Mutex

	trsTotal map[PKH]uint64
	expiry   *list.List // *expirationEntry, ordered by alphaExpire ascending

	arsBuf   []map[PKH]struct{}
	arsHead  int
	arsCount map[PKH]int

	penalizationFactorNum uint64 // fixed-point numerator over FixedPointScale
}

// NewReputationEngine constructs an engine. penalizationFactorNum is the
// fixed-point numerator (over FixedPointScale) of the penalization factor
// Penalize raises to the lies_count power; activityCap is the ARS
// circular buffer length (lambda_a).
func NewReputationEngine(penalizationFactorNum uint64, activityCap int) *ReputationEngine {
	if activityCap <= 0 {
		activityCap = 1
	}
	return &ReputationEngine{
		trsTotal:              make(map[PKH]uint64),
		expiry:                list.New(),
		arsBuf:                make([]map[PKH]struct{}, activityCap),
		arsCount:              make(map[PKH]int),
		penalizationFactorNum: penalizationFactorNum,
	}
}

// Gain credits every diff's amount to its pkh's TRS total, all expiring
// together at expireAtAlpha once Expire(alpha) is called with alpha >=
// expireAtAlpha.
func (r *ReputationEngine) Gain(diffs []ReputationDiff, expireAtAlpha uint32) {
	if len(diffs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &expirationEntry{alphaExpire: expireAtAlpha, diffs: append([]ReputationDiff(nil), diffs...)}
	for _, d := range diffs {
		r.trsTotal[d.PKH] += d.Amount
	}
	r.insertExpiryLocked(entry)
}

func (r *ReputationEngine) insertExpiryLocked(entry *expirationEntry) {
	for el := r.expiry.Back(); el != nil; el = el.Prev() {
		if el.Value.(*expirationEntry).alphaExpire <= entry.alphaExpire {
			r.expiry.InsertAfter(entry, el)
			return
		}
	}
	r.expiry.PushFront(entry)
}

// Expire pops every expiration-queue batch whose alpha has passed,
// subtracting its diffs from the TRS total. Calling Expire(a1) then
// Expire(a2) for a1 <= a2 leaves the TRS identical to calling Expire(a2)
// directly: already-popped batches are gone, and the remaining queue is
// still ordered ascending by alpha.
func (r *ReputationEngine) Expire(untilAlpha uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for el := r.expiry.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*expirationEntry)
		if e.alphaExpire > untilAlpha {
			break
		}
		for _, d := range e.diffs {
			r.subtractLocked(d.PKH, d.Amount)
		}
		r.expiry.Remove(el)
		el = next
	}
}

func (r *ReputationEngine) subtractLocked(pkh PKH, amount uint64) {
	total, ok := r.trsTotal[pkh]
	if !ok {
		return
	}
	if amount >= total {
		delete(r.trsTotal, pkh)
		return
	}
	r.trsTotal[pkh] = total - amount
}

// Penalize multiplies pkh's current TRS total by
// penalization_factor^lies_count using fixed-point arithmetic (multiply
// then integer-divide by FixedPointScale, once per lie), consumes the
// removed amount from the back of the expiration queue -- the witness's
// newest, not-yet-expired gains are zeroed first -- and returns the
// amount removed so the caller can fold it into a tally's truther bounty.
func (r *ReputationEngine) Penalize(pkh PKH, liesCount uint32) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.trsTotal[pkh]
	if current == 0 || liesCount == 0 {
		return 0
	}

	remaining := current
	for i := uint32(0); i < liesCount; i++ {
		remaining = remaining * r.penalizationFactorNum / FixedPointScale
	}
	removed := current - remaining
	if removed == 0 {
		return 0
	}

	need := removed
	for el := r.expiry.Back(); el != nil && need > 0; el = el.Prev() {
		e := el.Value.(*expirationEntry)
		for i := len(e.diffs) - 1; i >= 0 && need > 0; i-- {
			d := &e.diffs[i]
			if d.PKH != pkh {
				continue
			}
			if d.Amount <= need {
				need -= d.Amount
				d.Amount = 0
			} else {
				d.Amount -= need
				need = 0
			}
		}
	}
	for el := r.expiry.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*expirationEntry)
		e.diffs = compactDiffs(e.diffs)
		if len(e.diffs) == 0 {
			r.expiry.Remove(el)
		}
		el = next
	}

	if remaining == 0 {
		delete(r.trsTotal, pkh)
	} else {
		r.trsTotal[pkh] = remaining
	}
	return removed
}

func compactDiffs(diffs []ReputationDiff) []ReputationDiff {
	out := diffs[:0]
	for _, d := range diffs {
		if d.Amount > 0 {
			out = append(out, d)
		}
	}
	return out
}

// PushActivity appends activePKHs as the newest tick in the shared ARS
// circular buffer, evicting the tick that falls out of the lambda_a
// window and updating membership counts accordingly.
func (r *ReputationEngine) PushActivity(activePKHs []PKH) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if evicted := r.arsBuf[r.arsHead]; evicted != nil {
		for pkh := range evicted {
			if c := r.arsCount[pkh] - 1; c > 0 {
				r.arsCount[pkh] = c
			} else {
				delete(r.arsCount, pkh)
			}
		}
	}

	set := make(map[PKH]struct{}, len(activePKHs))
	for _, pkh := range activePKHs {
		set[pkh] = struct{}{}
	}
	for pkh := range set {
		r.arsCount[pkh]++
	}
	r.arsBuf[r.arsHead] = set
	r.arsHead = (r.arsHead + 1) % len(r.arsBuf)
}

// Score returns a witness's current TRS total.
func (r *ReputationEngine) Score(pkh PKH) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trsTotal[pkh]
}

// IsActive reports whether pkh belongs to the ARS: present in at least
// one of the last lambda_a activity ticks.
func (r *ReputationEngine) IsActive(pkh PKH) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.arsCount[pkh] > 0
}

// TotalActiveReputation sums the TRS total of every witness currently in
// the ARS, the denominator used to compute a witness's eligibility weight
// in the VRF lottery.
func (r *ReputationEngine) TotalActiveReputation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total uint64
	for pkh, c := range r.arsCount {
		if c > 0 {
			total += r.trsTotal[pkh]
		}
	}
	return total
}

// ActivePKHs returns every PKH currently in the ARS, sorted ascending,
// used to compute the ars_root committed in a superblock.
func (r *ReputationEngine) ActivePKHs() []PKH {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PKH, 0, len(r.arsCount))
	for pkh, c := range r.arsCount {
		if c > 0 {
			out = append(out, pkh)
		}
	}
	sortPKHs(out)
	return out
}

func sortPKHs(pkhs []PKH) {
	for i := 1; i < len(pkhs); i++ {
		for j := i; j > 0 && pkhLess(pkhs[j], pkhs[j-1]); j-- {
			pkhs[j], pkhs[j-1] = pkhs[j-1], pkhs[j]
		}
	}
}

func pkhLess(a, b PKH) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ARSRoot computes the merkle root committing the current active set,
// leaves ordered by ascending PKH.
func (r *ReputationEngine) ARSRoot() Hash {
	pkhs := r.ActivePKHs()
	leaves := make([]Hash, len(pkhs))
	for i, p := range pkhs {
		leaves[i] = NewHash(p[:])
	}
	return MerkleRoot(leaves)
}
