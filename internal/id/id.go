// Package id generates identifiers for interactions and request log
// entries.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// UUID returns a random RFC 4122 version 4 UUID string. Interactions
// registered without an explicit id get one of these.
func UUID() string {
	return uuid.NewString()
}

// Short returns a compact 16-character identifier. Request log entries
// use these because a full UUID is unwieldy in URLs.
func Short() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
