package normalize

import "strings"

var turkishTranslit = strings.NewReplacer(
	"ı", "i", "İ", "i", "ö", "o", "Ö", "o", "ü", "u", "Ü", "u",
	"ş", "s", "Ş", "s", "ç", "c", "Ç", "c", "ğ", "g", "Ğ", "g",
)

// Slug derives a URL slug from a product name: Turkish letters are
// transliterated, everything non-alphanumeric collapses to single hyphens.
func Slug(name string) string {
	s := strings.ToLower(turkishTranslit.Replace(name))

	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
