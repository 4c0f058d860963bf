package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength bounds every cache key.
const MaxKeyLength = 250

// ValidateKey checks if a cache key is valid according to the library's rules.
// Returns nil if the key is valid, or an error describing the problem.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 characters
// - No control characters (0x00-0x1F and 0x7F-0x9F)
// - No whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: key contains whitespace", ErrInvalidKey)
		}
	}

	return nil
}

// KeyPattern represents a pattern for generating cache keys.
// Keys built from the same pattern and leading parts share a common Prefix,
// which is what DeletePrefix evicts.
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a new key pattern with the given prefix and separator.
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{
		prefix:    prefix,
		separator: separator,
	}
}

// Build creates a cache key from the pattern and provided parts.
// Example: pattern.Build("7", "341") -> "recon:7:341"
func (kp *KeyPattern) Build(parts ...string) string {
	var b strings.Builder
	b.WriteString(kp.prefix)
	for _, part := range parts {
		b.WriteString(kp.separator)
		b.WriteString(part)
	}
	return b.String()
}

// Prefix returns Build(parts...) followed by the separator, so that a scope
// "recon:7:1" never matches keys of scope "recon:7:12".
func (kp *KeyPattern) Prefix(parts ...string) string {
	return kp.Build(parts...) + kp.separator
}
