package httputil

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CleanText trims s and removes control characters.
func CleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// ValidateStringLength validates that a string is within the specified length
// constraints, counted in characters.
func ValidateStringLength(field, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if min > 0 && length < min {
		return fmt.Errorf("%s must be at least %d characters long", field, min)
	}

	if max > 0 && length > max {
		return fmt.Errorf("%s must be at most %d characters long", field, max)
	}

	return nil
}
