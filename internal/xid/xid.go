package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random identifier tagged with prefix, e.g. "tok-3f2b...".
func New(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// ValidKey reports whether key is a well-formed UUID, the format clients use
// for sale idempotency keys.
func ValidKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	_, err := uuid.Parse(key)
	return err == nil
}
