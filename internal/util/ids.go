package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRunID generates a collision-resistant run identifier in the form
// t_<epoch_ms>_<hex4>. The format is part of the run-record contract and
// must not change: downstream consumers parse it.
func NewRunID() string {
	return newRunIDAt(time.Now())
}

// newRunIDAt is split out so tests can pin the timestamp.
func newRunIDAt(now time.Time) string {
	return fmt.Sprintf("t_%d_%s", now.UnixMilli(), randomHex(2))
}

// randomHex returns n random bytes hex-encoded (2n characters).
// Falls back to a timestamp-derived suffix if the system RNG fails,
// which keeps ID generation infallible.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%0*x", n*2, time.Now().UnixNano()&(1<<(n*16)-1))
	}
	return hex.EncodeToString(buf)
}
