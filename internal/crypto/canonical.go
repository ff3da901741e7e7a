package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/trailguard/trailguard/internal/domain/audit"
)

// Canonicalization is the bit-exact hash input contract:
//
//	k1:v1|k2:v2|...
//
// with keys in lexicographic order. Separator characters inside values are
// escaped with a leading backslash so values containing ':' or '|' cannot
// collide with field boundaries. An unset (nil) field renders as an empty
// value; a present-but-empty string renders as the escape sequence `\e`,
// keeping null and "" distinguishable in the hash.

const emptyValueMarker = `\e`

var valueEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, `:`, `\:`)

func canonicalValue(v *string) string {
	if v == nil {
		return ""
	}
	if *v == "" {
		return emptyValueMarker
	}
	return valueEscaper.Replace(*v)
}

// CanonicalString renders the critical-field set of an event as the
// deterministic hash input string.
func CanonicalString(e *audit.Event) string {
	fields := e.CriticalFields()
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(f.Name)
		b.WriteByte(':')
		b.WriteString(canonicalValue(f.Value))
	}
	return b.String()
}

// ComputeHash returns the lowercase-hex SHA-256 of the canonical string.
func ComputeHash(e *audit.Event) string {
	sum := sha256.Sum256([]byte(CanonicalString(e)))
	return hex.EncodeToString(sum[:])
}

// VerifyHash recomputes the event hash and compares it to the stored hash in
// constant time.
func VerifyHash(e *audit.Event) bool {
	if e.Hash == "" {
		return false
	}
	computed := ComputeHash(e)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(e.Hash)) == 1
}
