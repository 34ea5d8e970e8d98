package utils

import (
	"fmt"
	"regexp"
)

var labIDRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-]{0,19}$`)

// ValidateLabID validates a laboratory case identifier (up to 20 characters,
// uppercase alphanumerics and dashes).
func ValidateLabID(labID string) error {
	if !labIDRegex.MatchString(labID) {
		return fmt.Errorf("invalid lab id format: %s", labID)
	}
	return nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	sanitized := regexp.MustCompile(`[\x00-\x1f\x7f]`).ReplaceAllString(s, "")
	return sanitized
}
