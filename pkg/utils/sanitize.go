package utils

import (
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var nonWordChars = regexp.MustCompile(`[^\w\-.]`)                      // Anything outside [A-Za-z0-9_-.]
var consecutiveUnderscores = regexp.MustCompile(`_+`)                  // Pattern to replace multiple underscores with one
const maxFilenameLength = 100                                          // Max length for sanitized filenames

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = nonWordChars.ReplaceAllString(sanitized, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ .")

	// Limit filename length (byte truncation is sufficient here)
	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
		sanitized = strings.Trim(sanitized, "_ .")
	}

	return sanitized
}

// SanitizePathComponent cleans a URL path segment for use as a directory
// name, with a shorter length cap than filenames.
func SanitizePathComponent(part string) string {
	part = invalidFilenameChars.ReplaceAllString(part, "_")
	if len(part) > 50 {
		part = part[:50]
	}
	return part
}
