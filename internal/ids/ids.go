// Package ids generates record identifiers. ULIDs are used so that
// lexicographic id order agrees with creation order, which the newest-first
// and first-written read paths rely on.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID string. Safe for concurrent use.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewWithPrefix returns a prefixed ULID, e.g. "itv_01J...". Prefixes keep
// identifiers self-describing in logs and API payloads.
func NewWithPrefix(prefix string) string {
	return prefix + "_" + New()
}
