package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/bus"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleDim    = lipgloss.NewStyle().Faint(true)
	styleID     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// table renders left-aligned columns sized to their widest cell.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			if i < len(widths) && lipgloss.Width(c) > widths[i] {
				widths[i] = lipgloss.Width(c)
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			cell := lipgloss.NewStyle().Width(widths[i]).Render(c)
			if style != nil {
				cell = style.Render(cell)
			}
			parts[i] = cell
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(w, line(t.header, &styleHeader))
	for _, row := range t.rows {
		fmt.Fprintln(w, line(row, nil))
	}
}

func statusStyle(s bus.Status) lipgloss.Style {
	switch s {
	case bus.StatusCompleted:
		return styleOK
	case bus.StatusFailed:
		return styleError
	case bus.StatusClaimed, bus.StatusInProgress:
		return styleWarn
	default:
		return styleDim
	}
}

func renderMessages(w io.Writer, msgs []bus.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, styleDim.Render("no messages"))
		return
	}
	clock := relay.NewDefaultTimeProvider()
	t := &table{header: []string{"ID", "STATUS", "PRIORITY", "FROM", "TO", "CLAIMED BY", "AGE", "SUBJECT"}}
	for _, m := range msgs {
		t.add(
			styleID.Render(m.ID),
			statusStyle(m.Status).Render(string(m.Status)),
			string(m.Priority),
			m.FromAgent,
			m.ToAgent,
			m.ClaimedBy,
			styleDim.Render(relay.FormatAge(clock.Since(m.CreatedAt))),
			m.Subject,
		)
	}
	t.render(w)
}

func renderMessage(w io.Writer, m bus.Message) {
	kv := func(k, v string) {
		if v != "" {
			fmt.Fprintf(w, "%s %s\n", styleHeader.Render(fmt.Sprintf("%-12s", k+":")), v)
		}
	}
	kv("id", styleID.Render(m.ID))
	kv("status", statusStyle(m.Status).Render(string(m.Status)))
	kv("priority", string(m.Priority))
	kv("from", m.FromAgent)
	kv("to", m.ToAgent)
	kv("subject", m.Subject)
	kv("claimed by", m.ClaimedBy)
	kv("created", m.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	if m.CompletedAt != nil {
		kv("completed", m.CompletedAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	kv("result", m.Result)
	kv("error", m.Error)
	if m.Body != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, m.Body)
	}
}
