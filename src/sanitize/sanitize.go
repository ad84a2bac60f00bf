// Package sanitize cleans captured step output before it is logged, stored or
// published. It strips terminal escape sequences, drops GitHub Actions display
// markers, flattens annotations and masks secrets.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Mask replaces every secret occurrence in output.
const Mask = "***"

var (
	// Display-only workflow commands: ::group::, ::endgroup::, ::add-mask::value and friends.
	workflowMarker = regexp.MustCompile(`(?m)^::(?:group|endgroup|add-mask|stop-commands|debug)(?: [^:]*)?::.*$\n?`)
	// Annotations keep their message: "::error file=x::msg" becomes "error: msg".
	workflowAnnotation = regexp.MustCompile(`(?m)^::(error|warning|notice)(?: [^:]*)?::`)
)

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// Clean strips escape sequences and workflow commands and normalizes line endings.
func Clean(s string) string {
	s = StripANSI(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = workflowMarker.ReplaceAllString(s, "")
	s = workflowAnnotation.ReplaceAllString(s, "$1: ")
	return strings.TrimRight(s, "\n")
}

// Redact replaces each non-empty secret in s with Mask. Longer secrets are
// replaced first so that a secret containing another is fully masked.
func Redact(s string, secrets []string) string {
	if len(secrets) == 0 {
		return s
	}
	ordered := make([]string, 0, len(secrets))
	for _, secret := range secrets {
		if strings.TrimSpace(secret) != "" {
			ordered = append(ordered, secret)
		}
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && len(ordered[j]) > len(ordered[j-1]); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	for _, secret := range ordered {
		s = strings.ReplaceAll(s, secret, Mask)
	}
	return s
}

// Output applies Clean and then Redact.
func Output(s string, secrets []string) string {
	return Redact(Clean(s), secrets)
}
