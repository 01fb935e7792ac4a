package core

// canonical.go – canonical byte-form and chain hashing for entities, states,
// patches and sync packets.
//
// Generalized from the prior implementation's Block.Hash() (double-SHA256 over an
// RLP-encoded header); the canonical form here is sorted-key JSON,
// hashed once with SHA-256, not twice — the chain already
// supplies the second layer of binding via prev_hash.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ZeroHash is the 64-char lowercase-hex all-zero digest used as a genesis
// delta's prev_hash.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Canonical returns the canonical byte form of value: object keys sorted
// recursively, stable scalar encoding, explicit null. value must already be
// JSON-representable (map[string]any, []any, string, float64/json.Number,
// bool, nil — the shapes produced by json.Unmarshal or by Tree).
func Canonical(value any) ([]byte, error) {
	norm, err := canonicalize(value)
	if err != nil {
		return nil, err
	}
	return marshalCanonical(norm)
}

// canonicalize walks value and returns a representation whose object keys
// are held in a stable order ready for marshalCanonical.
func canonicalize(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			n, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// marshalCanonical renders value as compact JSON with object keys sorted.
// encoding/json already sorts map[string]any keys when marshaling, so this
// is a thin, explicit wrapper kept separate so the sort guarantee is a
// documented property of this package rather than an implicit stdlib
// behavior callers might not know to rely on.
func marshalCanonical(value any) ([]byte, error) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalCanonical(v[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, e := range v {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := marshalCanonical(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	case nil:
		return []byte("null"), nil
	default:
		return json.Marshal(v)
	}
}

// ParseCanonical decodes canonical JSON bytes back into the
// map[string]any/[]any/scalar tree used by Canonical, property-tested for
// idempotence: Canonical(ParseCanonical(Canonical(s))) == Canonical(s).
func ParseCanonical(b []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse canonical: %w", err)
	}
	return v, nil
}

// Hash returns the lowercase-hex SHA-256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashState computes the canonical SHA-256 state hash of a decoded entity
// state value (a map[string]any tree, typically the result of applying
// patches to the previous state).
func HashState(state any) (string, error) {
	b, err := Canonical(state)
	if err != nil {
		return "", err
	}
	return Hash(b), nil
}
