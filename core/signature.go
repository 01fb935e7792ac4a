package core

// signature.go – optional cryptographic identity hooks over deltas and sync
// packets. Narrower than the prior implementation's core/security.go
// multi-algorithm Sign/Verify (Ed25519 and BLS behind a KeyAlgo switch):
// this fabric names only a single, always-available scheme since nothing
// here aggregates signatures across validators.

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
)

// Signer produces a signature over a delta's canonical payload. CreateEntity
// and CreateDelta take no Signer; an embedder that sets one has SignDelta
// sign the deltas its callers commit, and nil means deltas carry no
// signature at all, the common case for a single-writer deployment.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// Verifier checks a delta's signature against its canonical payload.
// Packets and deltas verify only when a Verifier is configured; absence of
// one is not itself a failure, matching an opt-in trust model.
type Verifier interface {
	Verify(payload []byte, signature string) (bool, error)
}

// Ed25519Signer signs with a held private key, encoding the raw signature
// as standard base64 so it travels cleanly inside a JSON string field.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer wraps a 64-byte Ed25519 private key.
func NewEd25519Signer(key ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("signature: invalid ed25519 private key size")
	}
	return &Ed25519Signer{key: key}, nil
}

func (s *Ed25519Signer) Sign(payload []byte) (string, error) {
	sig := ed25519.Sign(s.key, payload)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Ed25519Verifier checks signatures against a held public key.
type Ed25519Verifier struct {
	key ed25519.PublicKey
}

// NewEd25519Verifier wraps a 32-byte Ed25519 public key.
func NewEd25519Verifier(key ed25519.PublicKey) (*Ed25519Verifier, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, errors.New("signature: invalid ed25519 public key size")
	}
	return &Ed25519Verifier{key: key}, nil
}

func (v *Ed25519Verifier) Verify(payload []byte, signature string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(v.key, payload, sig), nil
}

// deltaSignaturePayload is the canonical byte form a Signer/Verifier signs
// over: every field that participates in the hash chain except Signature
// itself, so a signature can never be replayed onto a different delta.
func deltaSignaturePayload(d *Delta) ([]byte, error) {
	return Canonical(map[string]any{
		"delta_id":  d.DeltaID,
		"entity_id": d.EntityID,
		"version":   float64(d.Version),
		"prev_hash": d.PrevHash,
		"new_hash":  d.NewHash,
	})
}

// SignDelta attaches a signature to d in place. A nil Signer is a no-op,
// so call sites can invoke it unconditionally with an optionally-nil
// collaborator.
func SignDelta(d *Delta, signer Signer) error {
	if signer == nil {
		return nil
	}
	payload, err := deltaSignaturePayload(d)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return err
	}
	d.Signature = sig
	return nil
}

// VerifyDeltaSignature reports whether d's signature matches its payload
// under verifier. A nil Verifier always reports true (nothing to check); a
// delta with no Signature against a non-nil Verifier reports false.
func VerifyDeltaSignature(d *Delta, verifier Verifier) (bool, error) {
	if verifier == nil {
		return true, nil
	}
	if d.Signature == "" {
		return false, nil
	}
	payload, err := deltaSignaturePayload(d)
	if err != nil {
		return false, err
	}
	return verifier.Verify(payload, d.Signature)
}
