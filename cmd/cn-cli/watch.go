package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"astock/pkg/astock"
)

const pollInterval = time.Second

type statusMsg struct {
	task astock.SyncTask
	err  error
}

type tickMsg time.Time

// watchModel polls the sync status until the run finishes or the user quits.
type watchModel struct {
	client  *astock.Client
	spinner spinner.Model
	task    astock.SyncTask
	err     error
	loaded  bool
}

func newWatchModel(c *astock.Client) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warnStyle
	return watchModel{client: c, spinner: sp}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m watchModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		task, err := m.client.SyncStatus(ctx)
		return statusMsg{task: task, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case statusMsg:
		m.task, m.err, m.loaded = msg.task, msg.err, true
		if m.err == nil && !m.task.Running {
			return m, tea.Quit
		}
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
	case tickMsg:
		return m, m.poll()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	switch {
	case !m.loaded:
		return m.spinner.View() + " loading status...\n"
	case m.err != nil:
		return errStyle.Render(fmt.Sprintf("error: %v", m.err)) + "\n" + m.spinner.View() + " retrying (q to quit)\n"
	}
	out := renderTask(m.task) + "\n"
	if m.task.Running {
		out += m.spinner.View() + " syncing (q to quit)\n"
	}
	return out
}

func runWatch(c *astock.Client) error {
	_, err := tea.NewProgram(newWatchModel(c)).Run()
	return err
}
