package core

import (
	"crypto/ed25519"
	"testing"
)

func TestEd25519SignAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	verifier, err := NewEd25519Verifier(pub)
	if err != nil {
		t.Fatalf("NewEd25519Verifier: %v", err)
	}

	entity, state, delta, err := CreateEntity(EntityTask, State{"title": "sign me"}, AuthorUser)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	_ = state
	_ = entity

	if err := SignDelta(delta, signer); err != nil {
		t.Fatalf("SignDelta: %v", err)
	}
	if delta.Signature == "" {
		t.Fatalf("expected SignDelta to populate Signature")
	}

	ok, err := VerifyDeltaSignature(delta, verifier)
	if err != nil {
		t.Fatalf("VerifyDeltaSignature: %v", err)
	}
	if !ok {
		t.Fatalf("expected a freshly signed delta to verify")
	}
}

func TestVerifyDeltaSignatureDetectsTampering(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	signer, _ := NewEd25519Signer(priv)
	verifier, _ := NewEd25519Verifier(pub)

	_, _, delta, _ := CreateEntity(EntityTask, State{"title": "a"}, AuthorUser)
	if err := SignDelta(delta, signer); err != nil {
		t.Fatalf("SignDelta: %v", err)
	}

	delta.NewHash = "0000000000000000000000000000000000000000000000000000000000000001"
	ok, err := VerifyDeltaSignature(delta, verifier)
	if err != nil {
		t.Fatalf("VerifyDeltaSignature: %v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail once the signed payload is tampered with")
	}
}

func TestSignDeltaNilSignerIsNoop(t *testing.T) {
	_, _, delta, _ := CreateEntity(EntityTask, State{"title": "a"}, AuthorUser)
	if err := SignDelta(delta, nil); err != nil {
		t.Fatalf("SignDelta with nil signer must not error: %v", err)
	}
	if delta.Signature != "" {
		t.Fatalf("expected Signature to remain empty with a nil signer")
	}
}

func TestVerifyDeltaSignatureNilVerifierAcceptsUnsigned(t *testing.T) {
	_, _, delta, _ := CreateEntity(EntityTask, State{"title": "a"}, AuthorUser)
	ok, err := VerifyDeltaSignature(delta, nil)
	if err != nil {
		t.Fatalf("VerifyDeltaSignature with nil verifier must not error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a nil Verifier to accept unsigned traffic")
	}
}

func TestVerifyDeltaSignatureRejectsMissingSignature(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	verifier, _ := NewEd25519Verifier(pub)
	_, _, delta, _ := CreateEntity(EntityTask, State{"title": "a"}, AuthorUser)

	ok, err := VerifyDeltaSignature(delta, verifier)
	if err != nil {
		t.Fatalf("VerifyDeltaSignature: %v", err)
	}
	if ok {
		t.Fatalf("expected an unsigned delta to fail verification against a non-nil Verifier")
	}
}

func TestNewEd25519SignerRejectsWrongKeySize(t *testing.T) {
	if _, err := NewEd25519Signer(make([]byte, 10)); err == nil {
		t.Fatalf("expected an error for an undersized private key")
	}
	if _, err := NewEd25519Verifier(make([]byte, 10)); err == nil {
		t.Fatalf("expected an error for an undersized public key")
	}
}
