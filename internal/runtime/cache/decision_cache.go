// Package cache memoises request-phase pipeline verdicts keyed on the full
// request fingerprint. The cache is advisory: ban lookups happen inside the
// cached evaluation, so entries never need invalidation on ban changes, only
// on rule reloads and the manual clear operation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

// Stats summarises cache effectiveness for the /cache/stats endpoint.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Size    int   `json:"size"`
	MaxSize int   `json:"maxsize"`
}

// DecisionCache stores pipeline verdicts by request fingerprint.
type DecisionCache interface {
	Lookup(ctx context.Context, key string) (pipeline.Decision, bool, error)
	Store(ctx context.Context, key string, decision pipeline.Decision) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

// Key derives the cache key from the request fingerprint: the six
// transport-encoded descriptor fields. Fields are length-prefixed before
// hashing so no two distinct tuples collapse onto one preimage.
func Key(ip, method, header, userAgent, path, body string) string {
	h := sha256.New()
	for _, field := range []string{ip, method, header, userAgent, path, body} {
		var size [8]byte
		n := uint64(len(field))
		for i := 0; i < 8; i++ {
			size[i] = byte(n >> (8 * i))
		}
		h.Write(size[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
