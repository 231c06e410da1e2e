// Package masking redacts credentials before they reach the audit trail.
package masking

import "strings"

const (
	maskToken     = "****"
	visibleSuffix = 4
)

// Secret hides a credential. A leading "<prefix>_" such as dvk_AB12_ or whsec_
// and the last four characters stay readable so operators can tell keys apart.
func Secret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	var prefix string
	if cut := strings.LastIndexByte(value, '_'); cut >= 0 && cut < len(value)-1 {
		prefix, value = value[:cut+1], value[cut+1:]
	}
	if len(value) <= visibleSuffix {
		return prefix + maskToken
	}
	return prefix + maskToken + value[len(value)-visibleSuffix:]
}

// SensitiveKey reports whether a metadata key names a credential.
func SensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, marker := range []string{"secret", "token", "password", "signature"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return strings.HasSuffix(key, "_key")
}

// Metadata copies input with every value under a sensitive key redacted, at
// any depth. Blank keys are dropped.
func Metadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if SensitiveKey(key) {
			out[key] = redact(value)
			continue
		}
		out[key] = walk(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// walk descends into containers looking for sensitive keys.
func walk(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Metadata(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = walk(item)
		}
		return out
	default:
		return value
	}
}

// redact masks every string below a sensitive key.
func redact(value any) any {
	switch v := value.(type) {
	case string:
		return Secret(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = redact(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redact(item)
		}
		return out
	default:
		return value
	}
}
