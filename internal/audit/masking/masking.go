package masking

import "strings"

const (
	maskToken  = "****"
	keepSuffix = 4
	// Vendor prefixes such as "sk-" or "xoxb-" are short; anything longer
	// is treated as part of the secret.
	maxPrefix = 8
)

// MaskSecret redacts an API key or bot token for logs and audit rows. A
// short vendor prefix and the last four characters stay visible.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, rest := vendorPrefix(trimmed)
	if len(rest) <= keepSuffix*2 {
		return prefix + maskToken
	}
	return prefix + maskToken + rest[len(rest)-keepSuffix:]
}

func vendorPrefix(value string) (string, string) {
	idx := strings.IndexAny(value, "-_")
	if idx <= 0 || idx >= maxPrefix || idx == len(value)-1 {
		return "", value
	}
	return value[:idx+1], value[idx+1:]
}
