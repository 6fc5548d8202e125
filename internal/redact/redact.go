// Package redact masks credential-like values in parameter maps and
// computes content hashes over canonical JSON. Redaction always happens
// before a parameter map is hashed or persisted, so audit records and
// hashes never contain raw secrets.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Mask replaces any value whose key suggests a credential.
const Mask = "***"

var secretMarkers = []string{"key", "secret", "token", "password"}

// IsSecretKey reports whether a map key names a credential-like value.
func IsSecretKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// Value returns a deep copy of v with every value under a secret-like
// key replaced by Mask. Maps and slices are walked recursively; other
// values pass through unchanged.
func Value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSecretKey(k) {
				out[k] = Mask
			} else {
				out[k] = Value(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Value(val)
		}
		return out
	default:
		return v
	}
}

// HashJSON hashes a value over its canonical JSON encoding (sorted keys,
// no inserted whitespace) and returns an algorithm-tagged digest.
// encoding/json marshals map keys in sorted order, which is exactly the
// canonical form required.
func HashJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Marshal of plain maps/scalars cannot fail; hash the error text
		// rather than silently colliding.
		data = []byte(err.Error())
	}
	return hashBytes(data)
}

// HashText hashes text over its UTF-8 bytes. The empty string hashes to
// the digest of zero bytes, so callers can distinguish "absent" from
// "empty" themselves.
func HashText(s string) string {
	return hashBytes([]byte(s))
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
