package tui

import (
	"strings"
	"testing"
)

func TestTruncate_WithEllipsis(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"build", 10, "build"},
		{"Install dependencies", 10, "Install..."},
		{"  padded  ", 6, "padded"},
		{"abc", 0, ""},
	}

	for _, tt := range tests {
		if got := Truncate(tt.input, tt.maxLen, true); got != tt.expected {
			t.Errorf("Truncate(%q, %d) = %q, expected %q", tt.input, tt.maxLen, got, tt.expected)
		}
	}
}

func TestTruncate_WithoutEllipsis(t *testing.T) {
	if got := Truncate("Install dependencies", 7, false); got != "Install" {
		t.Errorf("Truncate() = %q, expected %q", got, "Install")
	}
}

func TestTruncate_MultiByte(t *testing.T) {
	// Each CJK character takes two cells.
	got := Truncate("构建软件包", 6, false)
	if VisualWidth(got) > 6 {
		t.Errorf("Truncate() = %q with width %d, expected at most 6", got, VisualWidth(got))
	}
}

func TestTruncateAndPad(t *testing.T) {
	tests := []struct {
		input string
		width int
	}{
		{"build", 10},
		{"Publish to PyPI with twine", 12},
		{"构建", 8},
	}

	for _, tt := range tests {
		got := TruncateAndPad(tt.input, tt.width, true)
		if VisualWidth(got) != tt.width {
			t.Errorf("TruncateAndPad(%q, %d) width = %d", tt.input, tt.width, VisualWidth(got))
		}
	}
}

func TestTailLines(t *testing.T) {
	output := "collecting\n\nline a\r\nline b\nERROR: 403 Forbidden\n\n"

	got := TailLines(output, 2, 0)
	want := []string{"line b", "ERROR: 403 Forbidden"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("TailLines() = %q, expected %q", got, want)
	}

	all := TailLines(output, 0, 0)
	if len(all) != 4 {
		t.Errorf("TailLines(n=0) = %d lines, expected 4", len(all))
	}

	cut := TailLines("a very long line of tool output", 1, 10)
	if VisualWidth(cut[0]) > 10 {
		t.Errorf("TailLines() width = %d, expected at most 10", VisualWidth(cut[0]))
	}

	if got := TailLines("", 5, 0); len(got) != 0 {
		t.Errorf("TailLines(\"\") = %q, expected none", got)
	}
}
