package security

import (
	"os"
	"regexp"
	"strings"
)

var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)\S+`)

// RedactMessage strips sensitive fragments from user-visible error text:
// the home directory path and any bearer token that leaked into a message.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	out := bearerPattern.ReplaceAllString(msg, "${1}[redacted]")
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = strings.ReplaceAll(out, home, "~")
	}
	return out
}
