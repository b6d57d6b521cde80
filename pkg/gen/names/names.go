// Package names provides the identifier case conversions used for
// generated symbols.
package names

import (
	"strings"
	"unicode"
)

// PascalCase converts an identifier such as "add_imm12" or "add.w" into
// "AddImm12" / "AddW". Runs of non-alphanumeric characters act as word
// separators and are dropped.
func PascalCase(input string) string {
	var b strings.Builder
	nextUpper := true

	for i, r := range input {
		switch {
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			nextUpper = true
		case unicode.IsLetter(r):
			if nextUpper {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(r)
			}
			nextUpper = false
		default:
			nextUpper = true
		}
	}

	return b.String()
}

// SnakeCase converts an identifier into lower snake_case. Upper-case
// letters open a new word; non-alphanumeric characters become single
// underscores.
func SnakeCase(input string) string {
	var b strings.Builder
	prevLower := false

	for i, r := range input {
		switch {
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case unicode.IsLetter(r):
			b.WriteRune(r)
			prevLower = true
		default:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			prevLower = false
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}

// LowerCase lowercases an identifier without inserting separators.
func LowerCase(input string) string {
	return strings.ToLower(input)
}

// HeaderGuard derives a C++ include-guard macro from a header file
// path: upper-cased, with path separators and dots replaced by
// underscores, and a trailing underscore appended.
func HeaderGuard(path string) string {
	var b strings.Builder

	for _, r := range path {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteByte('_')
		}
	}

	b.WriteByte('_')
	return b.String()
}
