package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"astock/pkg/astock"
)

// Styles.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10)
	valueStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const barWidth = 30

// renderBar draws a progress bar of barWidth cells.
func renderBar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = min(done*barWidth/total, barWidth)
	}
	pct := 0.0
	if total > 0 {
		pct = float64(done) * 100 / float64(total)
	}
	return barStyle.Render(strings.Repeat("█", filled)) +
		strings.Repeat("░", barWidth-filled) +
		fmt.Sprintf(" %5.1f%%", pct)
}

// stateOf returns a styled one-word state for task.
func stateOf(task astock.SyncTask) string {
	switch {
	case task.Running:
		return warnStyle.Render("running")
	case task.Message == "done":
		return okStyle.Render("completed")
	case task.Message == "manually stopped":
		return warnStyle.Render("stopped")
	case strings.HasPrefix(task.Message, "aborted") || strings.HasPrefix(task.Message, "interrupted"):
		return errStyle.Render("failed")
	default:
		return valueStyle.Render("idle")
	}
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// renderTask formats a SyncTask as a bordered block.
func renderTask(task astock.SyncTask) string {
	rows := []string{
		titleStyle.Render("CN history sync"),
		row("state", stateOf(task)),
		row("progress", renderBar(task.Progress, task.Total)),
		row("symbols", valueStyle.Render(fmt.Sprintf("%d / %d", task.Progress, task.Total))),
		row("rows", valueStyle.Render(fmt.Sprintf("%d", task.Updated))),
		row("message", task.Message),
	}
	if task.RunID != "" {
		rows = append(rows, row("run", task.RunID))
	}
	if !task.StartedAt.IsZero() {
		rows = append(rows, row("started", task.StartedAt.Local().Format(time.DateTime)))
	}
	if !task.UpdatedAt.IsZero() {
		rows = append(rows, row("updated", task.UpdatedAt.Local().Format(time.DateTime)))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderResult formats a single-symbol update result.
func renderResult(res astock.UpdateResult) string {
	status := valueStyle.Render(res.Status)
	switch res.Status {
	case "updated":
		status = okStyle.Render(res.Status)
	case "error":
		status = errStyle.Render(res.Status)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		row("symbol", titleStyle.Render(res.Symbol)),
		row("status", status),
		row("rows", valueStyle.Render(fmt.Sprintf("%d", res.NewRows))),
		row("message", res.Message),
	)
}
