package auth

import (
	"regexp"
	"strings"

	"github.com/waypoint/server/internal/model"
)

// e164Pattern: leading +, country code 1-9, 2-15 digits total.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ParseIdentifier classifies and normalizes a raw login identifier.
// Emails are trimmed and lowercased; phones must already be E.164 (no region
// guessing). Anything else is rejected.
func ParseIdentifier(raw string) (model.IdentifierType, string, error) {
	identifier := strings.TrimSpace(raw)
	if identifier == "" {
		return "", "", ErrInvalidIdentifier
	}

	if strings.Contains(identifier, "@") {
		value := strings.ToLower(identifier)
		// Minimal sanity check; full RFC validation is intentionally avoided.
		if strings.HasPrefix(value, "@") || strings.HasSuffix(value, "@") {
			return "", "", ErrInvalidIdentifier
		}
		return model.IdentifierEmail, value, nil
	}

	if !e164Pattern.MatchString(identifier) {
		return "", "", ErrInvalidIdentifier
	}
	return model.IdentifierPhone, identifier, nil
}

// MaskIdentifier redacts an identifier for logging (e.g. "us****om",
// "+4********89"). Never log raw identifiers.
func MaskIdentifier(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
