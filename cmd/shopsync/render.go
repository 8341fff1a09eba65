package main

import (
	"fmt"
	"strings"

	"shoplist-sync-server/internal/domain"
	"shoplist-sync-server/internal/syncengine"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7AA2F7"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#565F89"))
	crossedStyle = lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.Color("#565F89"))
	qtyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ECE6A"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E0AF68"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7768E"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B4261")).
			Padding(0, 1)
)

func listTitle(l *domain.OwnerList) string {
	title := l.OwnerLabel
	if title == "" {
		title = l.OwnerDisplayName
	}
	if title == "" {
		title = l.OwnerID
	}
	if l.IsSelf {
		title += " (you)"
	}
	return title
}

func quantities(entries []domain.QuantityEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if q := strings.TrimSpace(e.QuantityText); q != "" {
			parts = append(parts, q)
		}
	}
	return strings.Join(parts, " + ")
}

func renderList(l *domain.OwnerList, selected bool) string {
	header := titleStyle.Render(listTitle(l))
	if selected {
		header = "» " + header
	}
	lines := []string{header + mutedStyle.Render("  "+l.OwnerID)}

	keys := l.State.SortedKeys()
	if len(keys) == 0 {
		lines = append(lines, mutedStyle.Render("(empty)"))
	}
	for _, k := range keys {
		rec := l.State[k]
		qty := quantities(rec.Entries)
		if rec.CrossedOffAt != nil {
			text := rec.Label
			if qty != "" {
				text += " " + qty
			}
			lines = append(lines, "✓ "+crossedStyle.Render(text))
			continue
		}
		line := "• " + rec.Label
		if qty != "" {
			line += " " + qtyStyle.Render(qty)
		}
		lines = append(lines, line)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderSnapshot(snap syncengine.Snapshot) string {
	var blocks []string
	for _, l := range snap.Lists {
		blocks = append(blocks, renderList(l, l.OwnerID == snap.Selected))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, mutedStyle.Render("no lists yet"))
	}
	if status := renderStatus(snap); status != "" {
		blocks = append(blocks, status)
	}
	return strings.Join(blocks, "\n")
}

func renderStatus(snap syncengine.Snapshot) string {
	var lines []string
	switch {
	case snap.Guest:
		lines = append(lines, mutedStyle.Render("local list only; run `shopsync login` to sync"))
	case !snap.Online:
		lines = append(lines, warnStyle.Render("offline"))
	}
	if snap.PendingOps > 0 {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("%d change(s) waiting to sync", snap.PendingOps)))
	}
	for _, n := range snap.Notices {
		who := n.OwnerLabel
		if who == "" {
			who = n.OwnerID
		}
		lines = append(lines, titleStyle.Render(fmt.Sprintf("%s was updated by someone else", who)))
	}
	for _, e := range snap.Errors {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("[%d] %s", e.ID, e.Message)))
	}
	return strings.Join(lines, "\n")
}
