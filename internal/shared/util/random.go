package util

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// RandomID returns 32 hex characters from crypto/rand, falling back to the
// current time in nanoseconds if the entropy source fails.
func RandomID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return hex.EncodeToString(b[:])
}
