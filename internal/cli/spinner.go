// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// SPINNER
// =============================================================================

// spinnerDoneMsg tells the spinner program the work has finished.
type spinnerDoneMsg struct{}

// spinnerModel is a one-line progress indicator shown while waiting on
// the model.
type spinnerModel struct {
	spin  spinner.Model
	label string
	start time.Time
	now   func() time.Time
	done  bool
}

func newSpinnerModel(label string) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = PromptStyle
	return spinnerModel{spin: s, label: label, start: time.Now(), now: time.Now}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinnerDoneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.done = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	elapsed := m.now().Sub(m.start).Truncate(time.Second)
	return fmt.Sprintf("%s %s %s", m.spin.View(), m.label, render(DimStyle, fmt.Sprintf("(%s)", elapsed)))
}

// withSpinner runs fn while animating a spinner on w. When enabled is
// false fn simply runs.
func withSpinner[T any](enabled bool, w io.Writer, label string, fn func() T) T {
	if !enabled {
		return fn()
	}

	p := tea.NewProgram(newSpinnerModel(label), tea.WithOutput(w), tea.WithInput(nil))
	done := make(chan T, 1)
	go func() {
		done <- fn()
		p.Send(spinnerDoneMsg{})
	}()
	// The spinner is cosmetic, so a failed program still waits for fn
	_, _ = p.Run()
	return <-done
}
