package http

import "regexp"

// Input validation constants
const (
	MaxSlugLength       = 64
	MaxExternalIDLength = 128
	MaxPayloadLength    = 10000
	MaxUsageDays        = 90
)

var (
	slugPattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	externalIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_:@.+-]+$`)
)

// ValidSlug checks if a slug is safe (alphanumeric + underscore + hyphen)
func ValidSlug(s string) bool {
	if s == "" || len(s) > MaxSlugLength {
		return false
	}
	return slugPattern.MatchString(s)
}

// ValidExternalID accepts chat ids, phone numbers and platform-prefixed keys
func ValidExternalID(s string) bool {
	if s == "" || len(s) > MaxExternalIDLength {
		return false
	}
	return externalIDPattern.MatchString(s)
}

// ValidateLength checks if string is within bounds
func ValidateLength(s string, min, max int) bool {
	l := len(s)
	return l >= min && l <= max
}
