// Package tui renders pipeline runs in the terminal: a live watcher built on
// Bubble Tea and a plain summary printed when a run ends.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"relayci/src/broker"
	"relayci/src/contracts"
	"relayci/src/pipeline"
)

// EventMsg delivers a run event to the watcher.
type EventMsg contracts.RunEvent

// DoneMsg tells the watcher the run returned.
type DoneMsg struct {
	Result *pipeline.RunResult
	Err    error
}

const (
	nameWidth      = 28
	minOutputLines = 5
)

// WatchModel is the Bubble Tea model that follows a single run.
type WatchModel struct {
	styles   *StyleConfig
	progress Progress
	spinner  spinner.Model
	output   viewport.Model

	width  int
	height int

	done   bool
	result *pipeline.RunResult
	err    error
}

// NewWatchModel creates a watcher for runID with the stages listed in
// execution order.
func NewWatchModel(runID string, stages []string) WatchModel {
	styles := DefaultStyles()
	return WatchModel{
		styles:   styles,
		progress: NewProgress(runID, stages),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.Running)),
		),
		output: viewport.New(80, 10),
		width:  80,
	}
}

// Init starts the spinner.
func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles run events, the final result and key presses.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeOutput()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		if m.done {
			var cmd tea.Cmd
			m.output, cmd = m.output.Update(msg)
			return m, cmd
		}
		return m, nil

	case EventMsg:
		m.progress.Apply(contracts.RunEvent(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		if msg.Result != nil {
			m.progress.Status = msg.Result.Status
		}
		if msg.Result == nil || msg.Result.Failure == nil {
			return m, tea.Quit
		}
		// Keep the failing output on screen until the user leaves.
		m.resizeOutput()
		m.output.SetContent(strings.Join(TailLines(msg.Result.Failure.Output, 0, m.output.Width), "\n"))
		m.output.GotoBottom()
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the stage list, and the failing output once the run is over.
func (m WatchModel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("relayci run %s", m.progress.RunID)
	if m.progress.Event != "" {
		title += "  " + m.progress.Event
	}
	b.WriteString(m.styles.TitleStyle().Render(Truncate(title, m.width-2, true)))
	b.WriteString("\n\n")

	for _, stage := range m.progress.Stages {
		b.WriteString(m.renderStage(stage))
	}

	if m.done && m.result != nil && m.result.Failure != nil {
		f := m.result.Failure
		b.WriteString("\n")
		b.WriteString(m.styles.StatusStyle(contracts.StateFailed).Render(Truncate(f.Error(), m.width-2, true)))
		b.WriteString("\n")
		b.WriteString(m.styles.OutputStyle().Render(m.output.View()))
		b.WriteString("\n")
		b.WriteString(m.styles.HelpStyle().Render("j/k: Scroll • q: Quit"))
	} else if !m.done {
		b.WriteString("\n")
		b.WriteString(m.styles.HelpStyle().Render("q: Cancel run"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m WatchModel) renderStage(stage StageProgress) string {
	var b strings.Builder

	icon := StatusIcon(stage.Status)
	if stage.Status == contracts.StateRunning && !m.done {
		icon = m.spinner.View()
	}
	line := fmt.Sprintf("%s %s %s", icon, TruncateAndPad(stage.Name, nameWidth, true), stage.Status)
	if stage.Reason != "" && stage.Status == contracts.StateSkipped {
		line += "  " + stage.Reason
	}
	if stage.Artifact != "" {
		line += "  → " + stage.Artifact
	}
	b.WriteString(m.styles.StatusStyle(stage.Status).Render(line))
	b.WriteString("\n")

	for _, step := range stage.Steps {
		icon := StatusIcon(step.Status)
		if step.Status == contracts.StateRunning && !m.done {
			icon = m.spinner.View()
		}
		name := TruncateAndPad(step.Name, nameWidth-2, true)
		b.WriteString("    ")
		b.WriteString(m.styles.StatusStyle(step.Status).Render(fmt.Sprintf("%s %s", icon, name)))
		b.WriteString("\n")
	}
	return b.String()
}

// resizeOutput gives the failure panel whatever height the stage list leaves.
func (m *WatchModel) resizeOutput() {
	m.output.Width = m.width - 4
	if m.output.Width < 20 {
		m.output.Width = 20
	}

	used := 6
	for _, s := range m.progress.Stages {
		used += 1 + len(s.Steps)
	}
	height := m.height - used
	if height < minOutputLines {
		height = minOutputLines
	}
	m.output.Height = height
}

// Result returns the run result once the run has returned.
func (m WatchModel) Result() (*pipeline.RunResult, error) {
	return m.result, m.err
}

// Watch runs fn under a Bubble Tea program that follows run events from
// events. Quitting the watcher before the run ends cancels the run. Watch
// returns once fn has returned.
func Watch(ctx context.Context, runID string, stages []string, events <-chan broker.Message,
	fn func(ctx context.Context) (*pipeline.RunResult, error), opts ...tea.ProgramOption) (*pipeline.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(NewWatchModel(runID, stages), opts...)

	go func() {
		for {
			select {
			case msg, ok := <-events:
				if !ok {
					return
				}
				var ev contracts.RunEvent
				if err := json.Unmarshal(msg.Value, &ev); err != nil {
					continue
				}
				program.Send(EventMsg(ev))
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan DoneMsg, 1)
	go func() {
		result, err := fn(ctx)
		msg := DoneMsg{Result: result, Err: err}
		done <- msg
		program.Send(msg)
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("watcher: %w", err)
	}

	// The user may quit before the run ends.
	cancel()
	msg := <-done
	return msg.Result, msg.Err
}
