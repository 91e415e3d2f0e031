// Package canon produces the canonical JSON byte representation used
// for both idempotence content hashing and audit-chain payload
// hashing: marshal to JSON, then run the result through RFC 8785
// (JCS) so key order, spacing, and number formatting are fully
// deterministic before hashing.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// Bytes marshals v to JSON and transforms it into RFC 8785 canonical
// form. Monetary fields must already be fixed-2dp strings and line
// sides integer cents by the time they reach here — canon does not
// know about money, only about making JSON deterministic.
func Bytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// Hash returns the lowercase hex SHA-256 digest of v's canonical form.
func Hash(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hashes already-canonicalized bytes directly, used when the
// audit chain re-hashes a payload read back from storage.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
