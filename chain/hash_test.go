package chain

import "testing"

func TestNewHashDeterministic(t *testing.T) {
	a := NewHash([]byte("witness-report"))
	b := NewHash([]byte("witness-report"))
	if !a.Equal(b) {
		t.Fatalf("expected identical input to hash identically: %s != %s", a, b)
	}
}

func TestNewHashDiffers(t *testing.T) {
	a := NewHash([]byte("alpha"))
	b := NewHash([]byte("beta"))
	if a.Equal(b) {
		t.Fatalf("expected distinct input to hash differently")
	}
}

func TestHashHexRoundTrip(t *testing.T) {
	h := NewHash([]byte("round-trip"))
	parsed, err := HashFromHex(h.String())
	if err != nil {
		t.Fatalf("HashFromHex failed: %v", err)
	}
	if !parsed.Equal(h) {
		t.Fatalf("expected round-tripped hash to match: got %s want %s", parsed, h)
	}
}

func TestZeroHashIsZero(t *testing.T) {
	if !ZeroHash.IsZero() {
		t.Fatalf("expected ZeroHash.IsZero() to be true")
	}
	if NewHash([]byte("x")).IsZero() {
		t.Fatalf("expected a computed hash to not be zero")
	}
}

func TestHashLessOrdering(t *testing.T) {
	h1 := NewHash([]byte("1"))
	h2 := NewHash([]byte("2"))
	if !h1.Less(h2) && !h2.Less(h1) {
		t.Fatalf("expected Less to impose a strict order between distinct hashes")
	}
	if h1.Less(h1) {
		t.Fatalf("expected Less to be irreflexive")
	}
}

func TestHashJSONRoundTrip(t *testing.T) {
	h := NewHash([]byte("json"))
	data, err := h.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	var out Hash
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if !out.Equal(h) {
		t.Fatalf("expected json round trip to preserve hash: got %s want %s", out, h)
	}
}

func TestPKHFromPublicKey(t *testing.T) {
	pub := []byte{0x02, 0x03, 0x04, 0x05}
	p1 := PKHFromPublicKey(pub)
	p2 := PKHFromPublicKey(pub)
	if p1 != p2 {
		t.Fatalf("expected PKHFromPublicKey to be deterministic")
	}
	if p1.IsZero() {
		t.Fatalf("expected a derived PKH to be non-zero")
	}
}

func TestOutputPointerString(t *testing.T) {
	h := NewHash([]byte("tx"))
	op := OutputPointer{TransactionHash: h, OutputIndex: 2}
	want := h.String() + ":2"
	if got := op.String(); got != want {
		t.Fatalf("OutputPointer.String() = %q, want %q", got, want)
	}
}
