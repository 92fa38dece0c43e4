package logutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IsSensitiveLogField returns true when a key likely contains sensitive data.
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "verifier"):
		return true
	case strings.Contains(normalized, "apikey"):
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	case strings.Contains(normalized, "auth"):
		return true
	default:
		return false
	}
}

// RedactBodyForLog redacts sensitive fields from JSON payloads; non-JSON bodies are returned as-is.
func RedactBodyForLog(contentType string, body []byte) string {
	text := string(body)
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return text
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return text
	}

	var redact func(v any)
	redact = func(v any) {
		switch typed := v.(type) {
		case map[string]any:
			for k, child := range typed {
				if IsSensitiveLogField(k) {
					typed[k] = "[REDACTED]"
					continue
				}
				redact(child)
			}
		case []any:
			for _, child := range typed {
				redact(child)
			}
		}
	}

	redact(payload)
	safeJSON, err := json.Marshal(payload)
	if err != nil {
		return text
	}
	return string(safeJSON)
}

// TokenPreview returns a short non-reversible preview of a credential for logs.
func TokenPreview(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "<empty>"
	}
	if len(trimmed) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s... (%d chars)", trimmed[:4], len(trimmed))
}

// TruncateForLog returns a single-line truncated preview for unstructured values.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	if maxChars <= 0 || len(normalized) <= maxChars {
		return normalized
	}
	return normalized[:maxChars] + "... [truncated]"
}
