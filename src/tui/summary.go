package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"relayci/src/contracts"
	"relayci/src/pipeline"
)

// summaryOutputLines is how much failing output RenderSummary shows.
const summaryOutputLines = 30

// RenderSummary renders a finished run: one line per stage, and for a failed
// run the failing step with its test failures and output tail.
func RenderSummary(result *pipeline.RunResult) string {
	return RenderSummaryWithStyles(result, DefaultStyles(), 100, summaryOutputLines)
}

// RenderSummaryWithStyles renders the summary at the given width, showing up
// to outputLines of failing output. Zero shows all of it.
func RenderSummaryWithStyles(result *pipeline.RunResult, styles *StyleConfig, width, outputLines int) string {
	if result == nil {
		return ""
	}
	var b strings.Builder

	header := fmt.Sprintf("Run %s  %s  %s in %s",
		result.RunID, result.Event, strings.ToUpper(string(result.Status)), result.Duration.Round(10*time.Millisecond))
	b.WriteString(styles.StatusStyle(result.Status).Bold(true).Render(header))
	b.WriteString("\n")

	for _, stage := range result.Stages {
		line := fmt.Sprintf("  %s %s", StatusIcon(stage.Status), TruncateAndPad(stage.Name, nameWidth, true))
		switch stage.Status {
		case contracts.StateSkipped:
			line += " skipped"
			if stage.Reason != "" {
				line += ": " + stage.Reason
			}
		default:
			line += fmt.Sprintf(" %s (%d steps, %s)", stage.Status, len(stage.Steps), stage.Duration.Round(10*time.Millisecond))
			if stage.Artifact != "" {
				line += "  artifact " + stage.Artifact
			}
		}
		b.WriteString(styles.StatusStyle(stage.Status).Render(Truncate(line, width, true)))
		b.WriteString("\n")
	}

	if result.Failure != nil {
		b.WriteString("\n")
		b.WriteString(renderFailure(result, styles, width, outputLines))
	} else if result.Err != nil && result.Status == contracts.StateFailed {
		b.WriteString("\n")
		b.WriteString(styles.StatusStyle(contracts.StateFailed).Render(result.Err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

func renderFailure(result *pipeline.RunResult, styles *StyleConfig, width, outputLines int) string {
	f := result.Failure
	var b strings.Builder

	failed := styles.StatusStyle(contracts.StateFailed)
	b.WriteString(failed.Render(fmt.Sprintf("Stage %s failed at step %d: %s", f.Stage, f.StepIndex, f.StepName)))
	b.WriteString("\n")

	// A classified failure carries a hint the raw stage error lacks.
	if result.Err != nil && result.Err.Error() != f.Error() {
		b.WriteString(result.Err.Error())
		b.WriteString("\n")
	}

	if len(f.TestFailures) > 0 {
		b.WriteString(fmt.Sprintf("%d failing tests:\n", len(f.TestFailures)))
		for _, tf := range f.TestFailures {
			name := tf.Name
			if tf.ClassName != "" {
				name = tf.ClassName + "::" + tf.Name
			}
			line := fmt.Sprintf("  %s %s", StatusIcon(contracts.StateFailed), name)
			if tf.Message != "" {
				line += ": " + tf.Message
			}
			b.WriteString(Truncate(line, width, true))
			b.WriteString("\n")
		}
	}

	tail := TailLines(f.Output, outputLines, width-4)
	if len(tail) > 0 {
		box := styles.OutputStyle().Width(width - 2)
		b.WriteString(lipgloss.JoinVertical(lipgloss.Left,
			styles.HelpStyle().PaddingLeft(0).Render("Output:"),
			box.Render(strings.Join(tail, "\n"))))
		b.WriteString("\n")
	}
	return b.String()
}
