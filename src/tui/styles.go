package tui

import (
	"github.com/charmbracelet/lipgloss"

	"relayci/src/contracts"
)

// StyleConfig holds the colors of the run watcher and summary.
type StyleConfig struct {
	PrimaryBlue   lipgloss.Color
	AccentBlue    lipgloss.Color
	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color
	BorderColor   lipgloss.Color

	Succeeded lipgloss.Color
	Failed    lipgloss.Color
	Running   lipgloss.Color
	Skipped   lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		PrimaryBlue:   lipgloss.Color("#8AB4F8"),
		AccentBlue:    lipgloss.Color("#4285F4"),
		TextPrimary:   lipgloss.Color("#E8EAED"),
		TextSecondary: lipgloss.Color("#9AA0A6"),
		BorderColor:   lipgloss.Color("#5F6368"),
		Succeeded:     lipgloss.Color("#34A853"),
		Failed:        lipgloss.Color("#EA4335"),
		Running:       lipgloss.Color("#FBBC04"),
		Skipped:       lipgloss.Color("#9AA0A6"),
	}
}

// TitleStyle returns a title lipgloss style using this config
func (s *StyleConfig) TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.PrimaryBlue).
		Bold(true).
		Padding(0, 1)
}

// HelpStyle returns a help text lipgloss style using this config
func (s *StyleConfig) HelpStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary).
		Padding(0, 2)
}

// OutputStyle frames failing step output.
func (s *StyleConfig) OutputStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextPrimary).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.Failed)
}

// StatusStyle colors text by run state.
func (s *StyleConfig) StatusStyle(state contracts.RunState) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch state {
	case contracts.StateSucceeded:
		return style.Foreground(s.Succeeded)
	case contracts.StateFailed:
		return style.Foreground(s.Failed).Bold(true)
	case contracts.StateRunning:
		return style.Foreground(s.Running)
	default:
		return style.Foreground(s.Skipped).Faint(true)
	}
}

// StatusIcon is the one-cell marker drawn in front of a stage or step.
func StatusIcon(state contracts.RunState) string {
	switch state {
	case contracts.StateSucceeded:
		return "✓"
	case contracts.StateFailed:
		return "✗"
	case contracts.StateRunning:
		return "•"
	case contracts.StateSkipped:
		return "-"
	default:
		return " "
	}
}
