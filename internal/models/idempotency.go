package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeIdempotencyKey implements spec §3: hash(url ∥ query ∥ normalized
// content hash ∥ contract id). Equal keys must return the same result
// without recomputation.
func ComputeIdempotencyKey(url, query, contentHash, contractID string) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	h.Write([]byte{0})
	h.Write([]byte(contractID))
	return hex.EncodeToString(h.Sum(nil))
}
