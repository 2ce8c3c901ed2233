package masking

import (
	"strings"
	"unicode/utf8"
)

const maskToken = "***"

// MaskName keeps the first letter of each word of a personal name.
func MaskName(value string) string {
	words := strings.Fields(value)
	if len(words) == 0 {
		return ""
	}
	masked := make([]string, 0, len(words))
	for _, word := range words {
		r, _ := utf8.DecodeRuneInString(word)
		masked = append(masked, string(r)+maskToken)
	}
	return strings.Join(masked, " ")
}

// MaskJSON returns a copy of the input with string values under the given keys masked.
func MaskJSON(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}

	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[key] = struct{}{}
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, ok := sensitive[trimmedKey]; ok {
			masked[trimmedKey] = maskValue(value)
			continue
		}
		masked[trimmedKey] = value
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskName(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item))
		}
		return out
	default:
		return value
	}
}
