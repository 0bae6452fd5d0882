package storage

import (
	"fmt"
	"strings"
	"unicode"
)

const maxSegmentLen = 120

// SanitizeName makes a single path segment safe for every backend. Control
// characters are dropped, unsafe runes become '_', and the result is capped
// at maxLen runes.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	default:
		return false
	}
}

// Key joins sanitized segments with '/'. Spaces become '_'.
func Key(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = SanitizeName(strings.ReplaceAll(p, " ", "_"), maxSegmentLen)
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}

// ValidateKey rejects keys that could escape the storage root.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("storage key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("storage key must be relative")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("storage key cannot contain empty or traversal segments")
		}
		if SanitizeName(part, 0) != part {
			return fmt.Errorf("storage key segment %q contains disallowed characters", part)
		}
	}
	return nil
}
