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
	now       = time.Now
)

// NewMessageID returns a time-sortable ULID used as a message UUID.
func NewMessageID() string {
	return newULID().String()
}

// NewCorrelationID returns a ULID for correlating an HTTP request with the
// messages it produces.
func NewCorrelationID() string {
	return newULID().String()
}

// Timestamp extracts the creation time from an id produced by this package.
func Timestamp(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func newULID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now()), entropy)
}
