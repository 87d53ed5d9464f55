package chain

// ValueTransferOutput (VTO) is a spendable output carrying value to a
// public key hash.
type ValueTransferOutput struct {
	PKH       PKH    `json:"pkh"`
	ValueNann uint64 `json:"value_nanowits"`
	TimeLock  uint64 `json:"time_lock"`
}

// ValueTransferInput spends a prior output.
type ValueTransferInput struct {
	Pointer OutputPointer `json:"output_pointer"`
}

// DataRequestOutput describes a data request: what to fetch, how to
// aggregate and tally witness reveals, and the reward/collateral economics
// that govern who may commit.
type DataRequestOutput struct {
	// RadonScript is the serialized retrieve/aggregate/tally script the
	// witnesses execute. Its runtime is out of scope for this node; it is
	// carried and hashed opaquely.
	RadonScript []byte `json:"radon_script"`

	WitnessCount     uint16 `json:"witnesses"`
	WitnessReward    uint64 `json:"witness_reward"`
	CommitFee        uint64 `json:"commit_fee"`
	RevealFee        uint64 `json:"reveal_fee"`
	TallyFee         uint64 `json:"tally_fee"`
	MinConsensus     uint32 `json:"min_consensus_percent"`
	Collateral       uint64 `json:"collateral"`
	CommitRounds     uint16 `json:"extra_commit_rounds"`
	RevealRounds     uint16 `json:"extra_reveal_rounds"`
}

// DataRequestTransaction posts a new data request to the chain, funded by
// value-transfer inputs and change outputs.
type DataRequestTransaction struct {
	Inputs      []ValueTransferInput  `json:"inputs"`
	Outputs     []ValueTransferOutput `json:"outputs"`
	DataRequest DataRequestOutput     `json:"data_request"`
	Signatures  []Signature           `json:"signatures"`
}

// CommitTransaction is a witness's sealed commitment to a reveal value: the
// hash of (reveal || nonce), bound to a data-request pointer and backed by
// collateral.
type CommitTransaction struct {
	DRPointer  OutputPointer `json:"dr_pointer"`
	CommitHash Hash          `json:"commitment"`
	Collateral []ValueTransferInput `json:"collateral_inputs"`
	Proof      VRFProof      `json:"proof"`
	Signature  Signature     `json:"signature"`
}

// RevealTransaction opens a prior commitment, exposing the witnessed value
// and the nonce used to seal it.
type RevealTransaction struct {
	DRPointer  OutputPointer `json:"dr_pointer"`
	Reveal     []byte        `json:"reveal"`
	Nonce      [32]byte      `json:"nonce"`
	Signature  Signature     `json:"signature"`
}

// TallyTransaction closes a data request: it aggregates valid reveals,
// distributes rewards to truthful witnesses, penalizes liars, and refunds
// or burns the remainder depending on the zero-truther rule.
type TallyTransaction struct {
	DRPointer      OutputPointer         `json:"dr_pointer"`
	Result         []byte                `json:"result"`
	Outputs        []ValueTransferOutput `json:"outputs"`
	Errors         []uint16              `json:"error_committer_indices"`
	Liars          []uint16              `json:"liar_committer_indices"`
}

// StakeTransaction locks value transfer outputs as a witness/miner stake,
// making the staking PKH eligible for the VRF lotteries.
type StakeTransaction struct {
	Inputs    []ValueTransferInput `json:"inputs"`
	Validator PKH                  `json:"validator"`
	Amount    uint64               `json:"amount"`
	Signature Signature            `json:"signature"`
}

// UnstakeTransaction begins withdrawal of a prior stake after its lock
// period, paying out to a value-transfer output.
type UnstakeTransaction struct {
	Validator PKH                 `json:"validator"`
	Output    ValueTransferOutput `json:"output"`
	Signature Signature           `json:"signature"`
}

// TransactionKind tags the union carried by Transaction.
type TransactionKind uint8

const (
	KindValueTransfer TransactionKind = iota
	KindDataRequest
	KindCommit
	KindReveal
	KindTally
	KindStake
	KindUnstake
)

// Transaction is the tagged envelope gossiped and stored for every
// transaction kind the chain supports.
type Transaction struct {
	Kind         TransactionKind          `json:"kind"`
	ValueTransfer *ValueTransferTx        `json:"value_transfer,omitempty"`
	DataRequest  *DataRequestTransaction  `json:"data_request,omitempty"`
	Commit       *CommitTransaction       `json:"commit,omitempty"`
	Reveal       *RevealTransaction       `json:"reveal,omitempty"`
	Tally        *TallyTransaction        `json:"tally,omitempty"`
	Stake        *StakeTransaction        `json:"stake,omitempty"`
	Unstake      *UnstakeTransaction      `json:"unstake,omitempty"`
}

// ValueTransferTx moves value between outputs with no attached data request.
type ValueTransferTx struct {
	Inputs     []ValueTransferInput  `json:"inputs"`
	Outputs    []ValueTransferOutput `json:"outputs"`
	Signatures []Signature           `json:"signatures"`
}

// Hash returns the transaction's content hash over its canonical
// pre-signature encoding: every signature and VRF proof is stripped before
// hashing, so the hash a signer signs over is the same one that later
// identifies the transaction on-chain.
func (t *Transaction) Hash() (Hash, error) {
	return HashCanonical(t.preSignatureView())
}

// preSignatureView copies t with every signature and VRF proof field
// zeroed out, the payload actually covered by a signature.
func (t *Transaction) preSignatureView() *Transaction {
	v := *t
	switch v.Kind {
	case KindValueTransfer:
		if v.ValueTransfer != nil {
			vt := *v.ValueTransfer
			vt.Signatures = nil
			v.ValueTransfer = &vt
		}
	case KindDataRequest:
		if v.DataRequest != nil {
			dr := *v.DataRequest
			dr.Signatures = nil
			v.DataRequest = &dr
		}
	case KindCommit:
		if v.Commit != nil {
			c := *v.Commit
			c.Signature = Signature{}
			c.Proof = VRFProof{}
			v.Commit = &c
		}
	case KindReveal:
		if v.Reveal != nil {
			r := *v.Reveal
			r.Signature = Signature{}
			v.Reveal = &r
		}
	case KindStake:
		if v.Stake != nil {
			s := *v.Stake
			s.Signature = Signature{}
			v.Stake = &s
		}
	case KindUnstake:
		if v.Unstake != nil {
			u := *v.Unstake
			u.Signature = Signature{}
			v.Unstake = &u
		}
	}
	return &v
}

// Signature is a detached secp256k1 signature plus the signing public key,
// carried alongside the canonical payload it signs.
type Signature struct {
	PublicKey []byte `json:"public_key"`
	Sig       []byte `json:"signature"`
}

// VRFProof is a VRF output and its proof, binding a transaction or block to
// the eligibility lottery that authorized it.
type VRFProof struct {
	PublicKey []byte `json:"public_key"`
	Proof     []byte `json:"proof"`
	Output    []byte `json:"output"`
}
