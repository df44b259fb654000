// Package codegen renders and generates human-typable codes.
package codegen

import (
	"math"
	"strings"
)

// Alphabet excludes visually ambiguous glyphs: I, O, 0, 1.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// HighSentinel sorts after every byte of Alphabet and of any valid prefix,
// so [prefix, prefix+HighSentinel) covers every code starting with prefix.
const HighSentinel = "~"

const (
	MinCodeLength   = 4
	MaxCodeLength   = 32
	MaxPrefixLength = 32
)

// Format renders a code from its prefix and random suffix.
func Format(prefix, suffix string) string {
	return prefix + suffix
}

// UpperBound returns the exclusive upper bound of the prefix range scan.
func UpperBound(prefix string) string {
	return prefix + HighSentinel
}

// IsValidSuffix reports whether every character of s belongs to Alphabet.
func IsValidSuffix(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// Matches reports whether code is prefix followed by length alphabet characters.
func Matches(code, prefix string, length int) bool {
	if !strings.HasPrefix(code, prefix) || len(code) != len(prefix)+length {
		return false
	}
	return IsValidSuffix(code[len(prefix):])
}

// IsValidPrefix accepts 1..MaxPrefixLength characters of [A-Za-z0-9_-].
func IsValidPrefix(prefix string) bool {
	if len(prefix) == 0 || len(prefix) > MaxPrefixLength {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// SuffixSpace returns the number of distinct suffixes of the given length,
// saturating at math.MaxInt64.
func SuffixSpace(length int) int64 {
	if length <= 0 {
		return 0
	}
	base := int64(len(Alphabet))
	space := int64(1)
	for i := 0; i < length; i++ {
		if space > math.MaxInt64/base {
			return math.MaxInt64
		}
		space *= base
	}
	return space
}
