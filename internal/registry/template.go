package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/conneroisu/quill/internal/codegen"
)

// Template is a compiled template. It is immutable once built and is shared
// by every render of the same name and fingerprint.
type Template struct {
	Name        string           `json:"name"`
	Fingerprint string           `json:"fingerprint"`
	Program     *codegen.Program `json:"program"`
	CompiledAt  time.Time        `json:"compiled_at"`
	Imports     []string         `json:"imports,omitempty"`
}

// Fingerprint returns the hex sha256 of a template source.
func Fingerprint(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
