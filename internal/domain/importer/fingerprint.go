package importer

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// NormalizeDescription reduces a free-text description to its comparable
// core: Unicode lowercase, letters/digits/spaces only, runs of whitespace
// collapsed, trimmed. Two renderings of the same purchase ("ICA MAXI,
// LINDHAGEN" vs "ica maxi lindhagen") normalize identically.
func NormalizeDescription(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// Punctuation separates words the same way whitespace does.
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// Fingerprint derives the dedup key for a transaction row. Same account, same
// booking day, same amount to the öre, same normalized description: same row.
// The provider's own transaction ID deliberately does not participate, so the
// key is stable across sync and CSV import of the same statement.
func Fingerprint(accountID string, date time.Time, amount decimal.Decimal, description string) string {
	return strings.Join([]string{
		accountID,
		date.Format("2006-01-02"),
		amount.StringFixed(2),
		NormalizeDescription(description),
	}, "|")
}
