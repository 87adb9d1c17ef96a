// Package sanitize maps arbitrary text to names that are safe on every
// filesystem the archive may land on (Windows, macOS, Linux).
package sanitize

import "strings"

// Fallback is used when sanitizing leaves nothing usable.
const Fallback = "unnamed_file"

// Filename replaces characters that are invalid in Windows filenames
// (< > : " / \ | ? *) and control characters with underscores, then strips
// leading and trailing spaces and dots. The result is never empty.
func Filename(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}

		if r < 0x20 {
			return '_'
		}

		return r
	}, name)

	sanitized = strings.Trim(sanitized, ". ")

	if sanitized == "" {
		return Fallback
	}

	return sanitized
}
