package intake

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const caaBarangay = "B.F. CAA International Village"

// TitleCaseBarangay capitalizes every space separated word. Any name
// mentioning CAA resolves to the fixed village name.
func TitleCaseBarangay(name string) string {
	if name == "" {
		return ""
	}
	if strings.Contains(strings.ToUpper(name), "CAA") {
		return caaBarangay
	}

	words := strings.Split(strings.ToLower(name), " ")
	for i, word := range words {
		r, size := utf8.DecodeRuneInString(word)
		if size == 0 {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + word[size:]
	}
	return strings.Join(words, " ")
}
