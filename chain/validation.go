package chain

import (
	"fmt"
)

// StatelessValidate checks a transaction's internal well-formedness:
// kind-specific shape constraints and, for value transfers, commits, stakes
// and unstakes, that the signature fields are present (non-empty). It does
// not verify signatures cryptographically. It requires no chain state and
// can run in a mempool admission hot path or a p2p inventory filter.
func StatelessValidate(tx *Transaction) error {
	switch tx.Kind {
	case KindValueTransfer:
		return statelessValueTransfer(tx.ValueTransfer)
	case KindDataRequest:
		return statelessDataRequest(tx.DataRequest)
	case KindCommit:
		return statelessCommit(tx.Commit)
	case KindReveal:
		return statelessReveal(tx.Reveal)
	case KindTally:
		return statelessTally(tx.Tally)
	case KindStake:
		return statelessStake(tx.Stake)
	case KindUnstake:
		return statelessUnstake(tx.Unstake)
	default:
		return fmt.Errorf("chain: unknown transaction kind %d", tx.Kind)
	}
}

func statelessValueTransfer(t *ValueTransferTx) error {
	if t == nil || len(t.Inputs) == 0 || len(t.Outputs) == 0 {
		return fmt.Errorf("chain: value transfer needs inputs and outputs")
	}
	if len(t.Signatures) != len(t.Inputs) {
		return fmt.Errorf("chain: value transfer needs one signature per input")
	}
	for _, sig := range t.Signatures {
		if len(sig.Sig) == 0 || len(sig.PublicKey) == 0 {
			return ErrInvalidSignature
		}
	}
	return nil
}

func statelessDataRequest(dr *DataRequestTransaction) error {
	if dr == nil {
		return fmt.Errorf("chain: missing data request body")
	}
	if dr.DataRequest.WitnessCount == 0 {
		return fmt.Errorf("chain: data request needs at least one witness")
	}
	if dr.DataRequest.MinConsensus < 51 || dr.DataRequest.MinConsensus > 100 {
		return fmt.Errorf("chain: min_consensus_percent must be in [51,100]")
	}
	return nil
}

func statelessCommit(c *CommitTransaction) error {
	if c == nil {
		return fmt.Errorf("chain: missing commit body")
	}
	if c.CommitHash.IsZero() {
		return fmt.Errorf("chain: commit hash must not be empty")
	}
	if len(c.Signature.Sig) == 0 {
		return ErrInvalidSignature
	}
	return nil
}

func statelessReveal(rv *RevealTransaction) error {
	if rv == nil {
		return fmt.Errorf("chain: missing reveal body")
	}
	if len(rv.Reveal) == 0 {
		return fmt.Errorf("chain: reveal payload must not be empty")
	}
	return nil
}

func statelessTally(t *TallyTransaction) error {
	if t == nil {
		return fmt.Errorf("chain: missing tally body")
	}
	return nil
}

func statelessStake(s *StakeTransaction) error {
	if s == nil || s.Amount == 0 {
		return fmt.Errorf("chain: stake amount must be positive")
	}
	if len(s.Signature.Sig) == 0 {
		return ErrInvalidSignature
	}
	return nil
}

func statelessUnstake(u *UnstakeTransaction) error {
	if u == nil {
		return fmt.Errorf("chain: missing unstake body")
	}
	if len(u.Signature.Sig) == 0 {
		return ErrInvalidSignature
	}
	return nil
}

// StatefulValidate checks a transaction against chain state: the inputs of
// value transfers, data requests and stakes, and the collateral inputs of
// commits, exist and are unspent, and a commit/reveal is bound to a data
// request still in the right phase. It does not check a committing
// witness's VRF eligibility for the data request. state provides the
// read-only views StatefulValidate needs.
func StatefulValidate(tx *Transaction, state ValidationState) error {
	switch tx.Kind {
	case KindValueTransfer:
		return statefulSpend(tx.ValueTransfer.Inputs, state)
	case KindDataRequest:
		return statefulSpend(tx.DataRequest.Inputs, state)
	case KindStake:
		return statefulSpend(tx.Stake.Inputs, state)
	case KindCommit:
		return statefulCommit(tx.Commit, state)
	case KindReveal:
		return statefulReveal(tx.Reveal, state)
	default:
		return nil
	}
}

// ValidationState is the minimal read-only chain view StatefulValidate
// needs, implemented by *ChainManager in production and fakeable in tests.
type ValidationState struct {
	IsUnspent    func(OutputPointer) bool
	DRPhase      func(OutputPointer) (phase string, ok bool)
	CurrentEpoch func() uint32
}

func statefulSpend(inputs []ValueTransferInput, state ValidationState) error {
	for _, in := range inputs {
		if state.IsUnspent == nil {
			continue
		}
		if !state.IsUnspent(in.Pointer) {
			return ErrDoubleSpend
		}
	}
	return nil
}

func statefulCommit(c *CommitTransaction, state ValidationState) error {
	if err := statefulSpend(c.Collateral, state); err != nil {
		return err
	}
	if state.DRPhase == nil {
		return nil
	}
	phase, ok := state.DRPhase(c.DRPointer)
	if !ok {
		return fmt.Errorf("%w: commit targets unknown data request", ErrUnknownInput)
	}
	if phase != "commit" {
		return fmt.Errorf("chain: data request is not accepting commits (phase=%s)", phase)
	}
	return nil
}

func statefulReveal(rv *RevealTransaction, state ValidationState) error {
	if state.DRPhase == nil {
		return nil
	}
	phase, ok := state.DRPhase(rv.DRPointer)
	if !ok {
		return fmt.Errorf("%w: reveal targets unknown data request", ErrUnknownInput)
	}
	if phase != "reveal" {
		return fmt.Errorf("chain: data request is not accepting reveals (phase=%s)", phase)
	}
	return nil
}
