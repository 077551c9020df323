package validation

import (
	"strings"
	"unicode"
)

// SanitizeClientID sanitizes an MQTT client ID prefix by removing control
// characters and limiting length to the MQTT specification (23 characters).
// The connector appends its host/pid suffix after sanitization.
func SanitizeClientID(clientID string) string {
	// Remove control characters and non-printable characters
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, clientID)

	// MQTT client ID should be 1-23 characters
	if len(sanitized) > 23 {
		sanitized = sanitized[:23]
	}

	// Ensure it's not empty after sanitization
	if sanitized == "" {
		sanitized = "gor2m"
	}

	return sanitized
}

// SanitizeUsername sanitizes a username by removing control characters
// and potentially dangerous characters.
func SanitizeUsername(username string) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' || r == '\'' || r == '\\' || r == '\x00' {
			return -1
		}
		return r
	}, username)

	sanitized = strings.TrimSpace(sanitized)

	if len(sanitized) > 128 {
		sanitized = sanitized[:128]
	}

	return sanitized
}

// SanitizePassword sanitizes a password by removing only null bytes
// and control characters that could break protocols.
func SanitizePassword(password string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r == '\x00' || (unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r') {
			return -1
		}
		return r
	}, password)

	return sanitized
}

// SanitizeTopic sanitizes a topic for inclusion in log lines. Envelope topics
// arrive from an external queue and may carry control characters that would
// corrupt log output.
func SanitizeTopic(topic string) string {
	return SanitizeConfigString(topic, 256)
}

// SanitizeConfigString sanitizes general configuration strings by removing
// control characters and limiting length.
func SanitizeConfigString(input string, maxLength int) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != ' ' && r != '\t' {
			return -1
		}
		return r
	}, input)

	sanitized = strings.TrimSpace(sanitized)

	if maxLength > 0 && len(sanitized) > maxLength {
		sanitized = sanitized[:maxLength]
	}

	return sanitized
}
