package consilium

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// Cache maps a query fingerprint to a previously produced final payload.
// Only quick-mode results are cached. Implementations live in cache/.
//
// Probe failures must be treated by callers as misses and Store failures
// must never affect the user response; the gateway calls Store
// fire-and-forget.
type Cache interface {
	// Probe returns the stored payload bytes for key, or ok=false on miss.
	Probe(ctx context.Context, key string) (payload []byte, ok bool, err error)
	// Store saves payload under key with the given TTL.
	Store(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Ping reports backend reachability for /health.
	Ping(ctx context.Context) error
}

// NormalizeQuery canonicalizes a query for fingerprinting and validation:
// control characters are stripped, whitespace runs collapse to one space,
// and the result is lower-cased and trimmed.
func NormalizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	space := false
	for _, r := range q {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// Fingerprint derives the cache key for (query, mode). The query is
// normalized first, so byte-different spellings of the same question share
// one entry.
func Fingerprint(query, mode string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeQuery(query)))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	return hex.EncodeToString(h.Sum(nil))
}
