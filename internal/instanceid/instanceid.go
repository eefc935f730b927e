// Package instanceid generates the client identities used for replica
// placement.
package instanceid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a time-ordered UUIDv7 string or panics if generation fails.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Normalize trims id and substitutes a fresh identity when it is empty.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return New()
	}
	return id
}
