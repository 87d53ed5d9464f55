package chain

import "testing"

func sampleValueTransferTx(value uint64) *Transaction {
	return &Transaction{
		Kind: KindValueTransfer,
		ValueTransfer: &ValueTransferTx{
			Inputs: []ValueTransferInput{
				{Pointer: OutputPointer{TransactionHash: NewHash([]byte("parent")), OutputIndex: 0}},
			},
			Outputs: []ValueTransferOutput{
				{PKH: samplePKH(1), ValueNann: value},
			},
			Signatures: []Signature{
				{PublicKey: []byte{0x02, 0x03}, Sig: []byte{0x0a, 0x0b}},
			},
		},
	}
}

func defaultBudgets() map[TransactionKind]uint64 {
	return map[TransactionKind]uint64{
		KindValueTransfer: 0, // unlimited
		KindDataRequest:   0,
		KindCommit:        0,
		KindReveal:        0,
		KindTally:         0,
		KindStake:         0,
		KindUnstake:       0,
	}
}

func TestMempoolAdmitAndGet(t *testing.T) {
	m := NewMempool(defaultBudgets())
	tx := sampleValueTransferTx(10)
	h, err := m.Admit(tx)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	got, ok := m.Get(h)
	if !ok || got != tx {
		t.Fatalf("Get() = (%v,%v), want the admitted transaction", got, ok)
	}
	if m.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", m.Size())
	}
}

func TestMempoolAdmitRejectsInvalid(t *testing.T) {
	m := NewMempool(defaultBudgets())
	tx := &Transaction{Kind: KindValueTransfer, ValueTransfer: &ValueTransferTx{}}
	if _, err := m.Admit(tx); err == nil {
		t.Fatalf("expected Admit to reject a malformed value transfer")
	}
}

func TestMempoolAdmitIsIdempotent(t *testing.T) {
	m := NewMempool(defaultBudgets())
	tx := sampleValueTransferTx(10)
	h1, err := m.Admit(tx)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	h2, err := m.Admit(tx)
	if err != nil {
		t.Fatalf("second Admit failed: %v", err)
	}
	if !h1.Equal(h2) {
		t.Fatalf("expected re-admitting the same transaction to return the same hash")
	}
	if m.Size() != 1 {
		t.Fatalf("Size() after duplicate admit = %d, want 1", m.Size())
	}
}

func TestMempoolRemove(t *testing.T) {
	m := NewMempool(defaultBudgets())
	tx := sampleValueTransferTx(10)
	h, err := m.Admit(tx)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	m.Remove(h)
	if _, ok := m.Get(h); ok {
		t.Fatalf("expected transaction to be gone after Remove")
	}
	if m.Size() != 0 {
		t.Fatalf("Size() after Remove = %d, want 0", m.Size())
	}
}

func TestMempoolLaneBudgetEnforced(t *testing.T) {
	budgets := map[TransactionKind]uint64{KindValueTransfer: 1}
	m := NewMempool(budgets)
	tx := sampleValueTransferTx(10)
	if _, err := m.Admit(tx); err == nil {
		t.Fatalf("expected a 1-byte budget to reject any real transaction")
	}
}

func TestMempoolLaneOrderPreserved(t *testing.T) {
	m := NewMempool(defaultBudgets())
	tx1 := sampleValueTransferTx(1)
	tx2 := sampleValueTransferTx(2)
	h1, _ := m.Admit(tx1)
	h2, _ := m.Admit(tx2)

	order := m.Lane(KindValueTransfer)
	if len(order) != 2 || !order[0].Equal(h1) || !order[1].Equal(h2) {
		t.Fatalf("Lane() = %v, want admission order [%s %s]", order, h1, h2)
	}
}

func valueTransferTxSpending(parent string, inputValue, outputValue uint64) *Transaction {
	return &Transaction{
		Kind: KindValueTransfer,
		ValueTransfer: &ValueTransferTx{
			Inputs: []ValueTransferInput{
				{Pointer: OutputPointer{TransactionHash: NewHash([]byte(parent)), OutputIndex: 0}},
			},
			Outputs: []ValueTransferOutput{
				{PKH: samplePKH(1), ValueNann: outputValue},
			},
			Signatures: []Signature{
				{PublicKey: []byte{0x02, 0x03}, Sig: []byte{0x0a, 0x0b}},
			},
		},
	}
}

func TestMempoolLaneOrdersByFeeRateDescending(t *testing.T) {
	m := NewMempool(defaultBudgets())
	utxo := map[string]ValueTransferOutput{
		NewHash([]byte("cheap")).String() + ":0":  {ValueNann: 110},
		NewHash([]byte("rich")).String() + ":0":   {ValueNann: 1100},
		NewHash([]byte("middle")).String() + ":0":  {ValueNann: 310},
	}
	m.SetUTXOLookup(func(ptr OutputPointer) (ValueTransferOutput, bool) {
		o, ok := utxo[ptr.String()]
		return o, ok
	})

	cheap := valueTransferTxSpending("cheap", 0, 100)   // fee 10
	rich := valueTransferTxSpending("rich", 0, 100)      // fee 1000
	middle := valueTransferTxSpending("middle", 0, 100)  // fee 210

	hCheap, err := m.Admit(cheap)
	if err != nil {
		t.Fatalf("Admit(cheap) failed: %v", err)
	}
	hRich, err := m.Admit(rich)
	if err != nil {
		t.Fatalf("Admit(rich) failed: %v", err)
	}
	hMiddle, err := m.Admit(middle)
	if err != nil {
		t.Fatalf("Admit(middle) failed: %v", err)
	}

	order := m.Lane(KindValueTransfer)
	if len(order) != 3 || !order[0].Equal(hRich) || !order[1].Equal(hMiddle) || !order[2].Equal(hCheap) {
		t.Fatalf("Lane() = %v, want fee-rate-descending [%s %s %s]", order, hRich, hMiddle, hCheap)
	}
}
