// Package redact provides utilities for redacting sensitive information from strings
// before they are logged. Push tokens, email addresses and connection strings all
// pass through the notifier's logs and transport errors; this package keeps them out.
package redact

import (
	"regexp"
	"strings"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
)

// tokenPrefixLen is how many leading characters of a push token survive redaction.
const tokenPrefixLen = 6

// Precompiled regex patterns
var (
	// Connection strings: postgres, redis, amqp
	connStringRegex = regexp.MustCompile(`(?i)(postgres|postgresql|redis|rediss|amqp|amqps)://[^@\s]+@`)

	// Credentials and tokens
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)
	apiKeyRegex   = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/:]{8,}`,
	)

	// Email addresses
	emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// All patterns in application order, with their placeholders
	patterns = []struct {
		re          *regexp.Regexp
		placeholder string
	}{
		{connStringRegex, RedactedCredentialPlaceholder},
		{passwordRegex, RedactedCredentialPlaceholder},
		{apiKeyRegex, RedactedKeyPlaceholder},
		{emailRegex, RedactedEmailPlaceholder},
	}
)

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, p := range patterns {
		result = p.re.ReplaceAllString(result, p.placeholder)
	}

	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}

// Token masks a push token, keeping a short prefix so log lines for the same
// device can still be correlated.
func Token(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= tokenPrefixLen {
		return RedactionPlaceholder
	}
	return token[:tokenPrefixLen] + "…" + RedactionPlaceholder
}

// Email masks the local part of an address, keeping its first character and
// the domain.
func Email(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		if addr == "" {
			return ""
		}
		return RedactedEmailPlaceholder
	}
	return addr[:1] + "***" + addr[at:]
}
