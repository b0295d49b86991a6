// Package docid derives stable document identifiers from file paths.
package docid

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
)

// FromPath returns the id for the file at path. The same path always
// yields the same id across rescans; paths under different library roots
// never collide because the full normalized absolute path is hashed.
//
// The hash is FNV-1a (64-bit), which is non-cryptographic. Collisions are
// theoretically possible but acceptable for a single-user index; this id
// must not be used for multi-tenant or adversarial inputs.
func FromPath(path string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(Normalize(path)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Normalize cleans a path into the canonical form used for hashing and
// index lookups: absolute, cleaned, forward slashes.
func Normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return filepath.ToSlash(abs)
}
