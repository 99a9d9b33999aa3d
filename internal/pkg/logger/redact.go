package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactID masks an opaque identifier (click id, device id) keeping only a
// short prefix so related log lines can still be correlated by eye.
// "EAIaIQobChMI8..." → "EAIaIQ***"
func RedactID(id string) string {
	if len(id) <= 6 {
		return "***"
	}
	return id[:6] + "***"
}
