// Package util holds tiny helpers shared across governor packages.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a prefixed identifier, e.g. NewID("run") -> "run_4f9d...".
// The prefix makes IDs self-describing in logs and audit records.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
