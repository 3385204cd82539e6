// Package idgen generates container identifiers.
//
// The source this runtime was distilled from seeds math/rand from
// time(NULL)^getpid() and emits 12 hex characters with no collision check
// (see spec.md §9). This package replaces that with a cryptographically
// random UUID truncated to 12 hex characters, checked against a caller-
// supplied existence predicate so a collision triggers a retry instead of
// silently aliasing an existing container.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// Length is the number of hex characters in a container id.
	Length = 12

	maxAttempts = 8
)

// New generates a 12-character hex container id. exists is called with
// each candidate; New retries on a true result and gives up after
// maxAttempts candidates in total.
func New(exists func(id string) bool) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := next()
		if exists == nil || !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("idgen: exhausted %d attempts without a free id", maxAttempts)
}

func next() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return raw[:Length]
}
