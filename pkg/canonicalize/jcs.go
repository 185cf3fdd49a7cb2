// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 content hashing for every hashable artifact
// in the governance kernel: IR, IRStep, DAG node references, and
// evidence packs. Canonicalization is the single authoritative
// serializer — nothing else in this module hashes JSON independently.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON encoding of v: v is first
// marshaled with the standard encoder (so struct tags, omitempty, and
// MarshalJSON methods are honored) and the result is then transformed
// into canonical form — keys sorted, no insignificant whitespace, no
// HTML escaping, numbers in their shortest exact form.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := marshalNoEscape(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}

	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return canonical, nil
}

// JCSString returns the canonical JSON form as a string.
func JCSString(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON
// representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// marshalNoEscape marshals v with HTML escaping disabled. jcs.Transform
// expects valid JSON input; it does its own number/whitespace/key
// normalization, so the pre-pass only needs to produce correct JSON
// with struct tags honored.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
