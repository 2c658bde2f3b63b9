package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aeolun/termchat/pkg/database"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	senderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("157"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	quoteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Italic(true)
	editedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("215"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	receiptGlyph = map[database.Receipt]string{
		database.ReceiptNothing:   " ",
		database.ReceiptSent:      "✓",
		database.ReceiptDelivered: "✓✓",
		database.ReceiptRead:      "●",
	}
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// names resolves user IDs to display names for rendering.
type names map[uuid.UUID]string

func (n names) of(id uuid.UUID) string {
	if name, ok := n[id]; ok && name != "" {
		return name
	}
	return id.String()[:8]
}

func formatTime(arrivedAt int64) string {
	return time.UnixMilli(arrivedAt).Local().Format("2006-01-02 15:04:05")
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatView renders one timeline entry, quote and annotations included.
func formatView(v database.MessageView, n names) []string {
	var lines []string
	if v.Quote != nil {
		quoted := text(v.Quote.Body)
		if quoted == "" && len(v.Quote.Attachments) > 0 {
			quoted = fmt.Sprintf("[%d attachment(s)]", len(v.Quote.Attachments))
		}
		lines = append(lines, quoteStyle.Render(fmt.Sprintf("  ┌ %s: %s", n.of(v.Quote.FromID), quoted)))
	}

	line := fmt.Sprintf("%s %s %s %s",
		dimStyle.Render(formatTime(v.ArrivedAt)),
		dimStyle.Render(fmt.Sprintf("%-2s", receiptGlyph[v.Receipt])),
		senderStyle.Render(n.of(v.FromID)+":"),
		text(v.Content),
	)
	if v.Edited {
		line += " " + editedStyle.Render("(edited)")
	}
	lines = append(lines, line)

	for _, a := range v.Attachments {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("  📎 %s (%s, %d bytes)", lo.Ternary(a.Filename != "", a.Filename, a.ID), a.ContentType, a.Size)))
	}
	if len(v.Reactions) > 0 {
		lines = append(lines, "  "+formatReactions(v.Reactions, n))
	}
	return lines
}

func formatReactions(r database.Reactions, n names) string {
	parts := lo.MapToSlice(r, func(reactor uuid.UUID, emoji string) string {
		return emoji + " " + n.of(reactor)
	})
	sort.Strings(parts)
	return strings.Join(parts, "  ")
}
