package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyPrefix namespaces every key this subsystem writes, so bulk
// operations can enumerate its entries without touching unrelated data
// in the same storage backend.
const KeyPrefix = "sfcache:"

// Key derives the deterministic cache key for a request. Two logically
// identical requests collide to the same key; a changed body or URL
// produces a different one.
func Key(method, url string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write(body)
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// StorageKey returns the durable-tier key for a request: the explicit
// override when supplied (so differently-shaped calls can share one
// slot), otherwise the derived key.
func StorageKey(derivedKey, override string) string {
	if override != "" {
		return KeyPrefix + override
	}
	return derivedKey
}
