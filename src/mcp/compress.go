package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// defaultOutputLines is how much of a step's output tail a tool returns.
const defaultOutputLines = 40

// timestampPattern matches leading timestamps such as
// 2026-05-21T10:00:05.123Z, 2026-05-21 10:00:05,123 and 2026-05-21T10:00:05+00:00.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}[.,]?\d*[Z]?([+-]\d{2}:?\d{2})?\s*`)

func stripTimestamps(line string) string {
	return timestampPattern.ReplaceAllString(line, "")
}

// longPathPattern matches absolute paths with 3+ directories and captures the
// file name with its optional line number.
var longPathPattern = regexp.MustCompile(`/(?:[^/\s]+/){3,}([^/\s:]+(?::\d+)?)`)

// compressPath shortens long file paths to .../filename.
func compressPath(line string) string {
	return longPathPattern.ReplaceAllString(line, ".../$1")
}

// minPrefixLength is the shortest common prefix worth replacing.
const minPrefixLength = 20

// findCommonPrefix returns the longest prefix shared by every line, or "" when
// it is shorter than minPrefixLength.
func findCommonPrefix(lines []string) string {
	if len(lines) < 2 {
		return ""
	}

	prefix := lines[0]
	for _, line := range lines[1:] {
		for len(prefix) > 0 && !strings.HasPrefix(line, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
		if len(prefix) == 0 {
			break
		}
	}

	if len(prefix) < minPrefixLength {
		return ""
	}
	return prefix
}

// removeCommonPrefix replaces the common prefix with "... ".
func removeCommonPrefix(lines []string) []string {
	prefix := findCommonPrefix(lines)
	if prefix == "" {
		return lines
	}

	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = "... " + line[len(prefix):]
	}
	return result
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// normalizeWhitespace collapses runs of spaces and tabs and trims.
func normalizeWhitespace(line string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(line, " "))
}

// compactOutput keeps the last maxLines non-blank lines of a step's output
// with timestamps, long paths and shared prefixes squeezed out. Failures are
// reported at the end of tool output, so the tail is what matters.
func compactOutput(output string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = defaultOutputLines
	}

	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = normalizeWhitespace(compressPath(stripTimestamps(line)))
		if line != "" {
			lines = append(lines, line)
		}
	}

	dropped := 0
	if len(lines) > maxLines {
		dropped = len(lines) - maxLines
		lines = lines[dropped:]
	}
	lines = removeCommonPrefix(lines)

	if dropped > 0 {
		lines = append([]string{fmt.Sprintf("[%d earlier lines omitted]", dropped)}, lines...)
	}
	return strings.Join(lines, "\n")
}
