// Package contenthash derives stable content keys for question text.
//
// The key only identifies texts that normalize identically; semantic near-duplicates
// produce different keys and are handled by embedding similarity.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds case, applies NFKC, drops punctuation and symbols and collapses
// whitespace runs into a single space.
func Normalize(text string) string {
	// cases.Caser is not safe for concurrent use.
	folded := cases.Fold().String(norm.NFKC.String(text))
	var sb strings.Builder
	sb.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = sb.Len() > 0
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r):
			continue
		default:
			if pendingSpace {
				sb.WriteByte(' ')
				pendingSpace = false
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Hash returns the hex encoded SHA-256 digest of already normalized text.
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func Key(text string) string {
	return Hash(Normalize(text))
}
