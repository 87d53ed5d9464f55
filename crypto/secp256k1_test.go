package crypto

import (
	"crypto/sha256"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	digest := sha256.Sum256([]byte("message"))
	sig := Sign(priv, digest)
	pub := priv.PubKey().SerializeCompressed()
	if !VerifySignature(pub, sig, digest[:]) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifySignatureRejectsWrongDigest(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	digest := sha256.Sum256([]byte("message"))
	sig := Sign(priv, digest)
	pub := priv.PubKey().SerializeCompressed()
	wrongDigest := sha256.Sum256([]byte("different message"))
	if VerifySignature(pub, sig, wrongDigest[:]) {
		t.Fatalf("expected signature to fail verification against a different digest")
	}
}

func TestVerifySignatureRejectsWrongKey(t *testing.T) {
	priv1, _ := GenerateKey()
	priv2, _ := GenerateKey()
	digest := sha256.Sum256([]byte("message"))
	sig := Sign(priv1, digest)
	if VerifySignature(priv2.PubKey().SerializeCompressed(), sig, digest[:]) {
		t.Fatalf("expected signature to fail verification against a different key")
	}
}

func TestVerifySignatureRejectsMalformedInputs(t *testing.T) {
	digest := sha256.Sum256([]byte("message"))
	if VerifySignature([]byte("not-a-key"), []byte("not-a-sig"), digest[:]) {
		t.Fatalf("expected malformed inputs to fail verification, not panic")
	}
}

func TestRandomNonceIsUnique(t *testing.T) {
	a, err := RandomNonce()
	if err != nil {
		t.Fatalf("RandomNonce failed: %v", err)
	}
	b, err := RandomNonce()
	if err != nil {
		t.Fatalf("RandomNonce failed: %v", err)
	}
	if a == b {
		t.Fatalf("expected two random nonces to differ")
	}
}
