// Package canonicaljson produces RFC 8785 (JCS) canonical JSON and stable
// fingerprints of JSON documents, so that requests differing only in key
// order or whitespace are recognised as the same input.
package canonicaljson

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/zeebo/blake3"
)

// CanonicalizeRaw returns the canonical form of a JSON document.
func CanonicalizeRaw(raw json.RawMessage) ([]byte, error) {
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: transform: %w", err)
	}
	return out, nil
}

// Fingerprint is the BLAKE3-256 digest of the canonical form of raw.
func Fingerprint(raw json.RawMessage) ([32]byte, error) {
	canon, err := CanonicalizeRaw(raw)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(canon), nil
}

// FingerprintID folds a fingerprint into a non-negative int64, for record
// ids that must be integers.
func FingerprintID(raw json.RawMessage) (int64, error) {
	sum, err := Fingerprint(raw)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63)), nil
}
