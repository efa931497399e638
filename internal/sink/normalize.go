package sink

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lowerCaser = cases.Lower(language.Und)

// Normalize converts a field name to its canonical snake_case key.
//
// Words are runs of letters, digits and combining marks; every other rune separates
// words. A new word also starts at an upper-case letter preceded by a lower-case
// letter or digit ("fullName" -> full, Name) and at the last letter of an upper-case
// run followed by a lower-case letter ("HTTPServer" -> HTTP, Server). Digits never
// start a word. Words are lower-cased and joined with "_", so "Full Name", "fullName"
// and "full-name" all become "full_name". Normalize is idempotent.
func Normalize(name string) string {
	runes := []rune(name)
	words := make([]string, 0, 4)
	word := make([]rune, 0, len(runes))

	flush := func() {
		if len(word) > 0 {
			words = append(words, lowerCaser.String(string(word)))
			word = word[:0]
		}
	}

	for i, r := range runes {
		if !isWordRune(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(word) > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsLower(prev) || unicode.IsDigit(prev):
				flush()
			case unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			}
		}
		word = append(word, r)
	}
	flush()

	return strings.Join(words, "_")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// NormalizeRecord returns a copy of record with every key normalized.
// When two keys collide the one that sorts last wins.
func NormalizeRecord(record Record) Record {
	out := make(Record, len(record))
	for _, key := range sortedKeys(record) {
		out[Normalize(key)] = record[key]
	}
	return out
}
