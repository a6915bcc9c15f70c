package util

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// NewID returns an item id that starts with the creation time in Unix
// milliseconds, so ids created later sort after earlier ones of the same
// length. The random suffix keeps ids made in the same millisecond apart.
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(now time.Time) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + hex.EncodeToString(suffix)
}
