package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/brandon/mailsync/internal/coordinator"
)

var (
	muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	bold     = lipgloss.NewStyle().Bold(true)
	success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	warning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	cell     = lipgloss.NewStyle().PaddingRight(2)
)

func statusLabel(st coordinator.Status, authFailed bool) string {
	label := fmt.Sprintf("%-8s", strings.ToUpper(string(st)))
	switch {
	case authFailed:
		return errStyle.Render(fmt.Sprintf("%-8s", "AUTH"))
	case st == coordinator.StatusError:
		return errStyle.Render(label)
	case st == coordinator.StatusSyncing:
		return warning.Render(label)
	default:
		return success.Render(label)
	}
}

// timeAgo renders a timestamp relative to now
func timeAgo(t *time.Time) string {
	if t == nil || t.IsZero() {
		return muted.Render("never")
	}
	d := time.Since(*t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// truncate cuts s to n runes with an ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// table renders rows as aligned columns with a bold header
func table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, c := range row {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	render := func(cols []string, style lipgloss.Style) string {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = cell.Width(widths[i] + 2).Render(style.Render(c))
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	lines := []string{render(header, bold)}
	for _, row := range rows {
		lines = append(lines, render(row, lipgloss.NewStyle()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
