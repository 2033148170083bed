package config

import "strings"

// RedactedSentinel is the placeholder the UI shows instead of a secret value.
// A patch carrying the sentinel means "keep whatever is stored"; the walker
// never externalizes it.
const RedactedSentinel = "__REDACTED__"

// sensitiveKeyPatterns are matched case-insensitively against key names at
// every nesting depth. Sensitivity is a runtime policy over key names, not a
// structural property of the data, so the list stays small and ordered.
var sensitiveKeyPatterns = []string{
	"token",
	"password",
	"secret",
	"apikey",
	"api_key",
	"api-key",
	"api key",
}

// IsSensitiveKey reports whether a key name denotes a secret-bearing value.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
