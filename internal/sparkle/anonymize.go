package sparkle

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// FallbackClientAddr substitutes for the client address when a request
// carries no usable source IP. Hashing the sentinel keeps such check-ins
// countable without failing the request.
const FallbackClientAddr = "unknown"

// AnonymizeClient derives the per-day anonymized client identifier: the
// SHA-256 hex digest of the raw address concatenated with the UTC calendar
// date. The date suffix rotates the identifier daily, bounding long-term
// linkability. The raw address never leaves this function.
func AnonymizeClient(rawIP string, now time.Time) string {
	if rawIP == "" {
		rawIP = FallbackClientAddr
	}
	day := now.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(rawIP + day))
	return hex.EncodeToString(sum[:])
}
