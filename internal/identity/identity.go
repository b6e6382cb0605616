// Package identity derives stable, content-based identities for findings
// so the same real-world issue matches across sessions despite cosmetic
// rewording of its title.
package identity

import (
	"fmt"
	"strings"
)

// Stem normalizes a finding title for identity matching: lower-case, strip
// every character outside [a-z0-9\s], collapse whitespace runs to a single
// space, trim. Idempotent. An empty or whitespace-only title stems to ""
// and is still tracked, never rejected.
func Stem(title string) string {
	lower := strings.ToLower(title)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '\r':
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Hash combines the identity-defining attributes of a finding into a
// deterministic fingerprint hash. Two findings with the same hash are
// treated as the same real-world issue; the residual collision probability
// of a 32-bit hash over thousands of distinct issues is an accepted
// approximation.
func Hash(category, stem, relatedModule string) string {
	key := category + "|" + stem + "|" + relatedModule

	// FNV-1a, 32 bit
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)
}

// FindingHash is the common path: stem the title, then hash it together
// with category and related module.
func FindingHash(category, title, relatedModule string) string {
	return Hash(category, Stem(title), relatedModule)
}
