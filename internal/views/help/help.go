// Package help renders the key reference overlay from markdown.
package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"

	"github.com/tkd-scorelink/referee/internal/theme"
)

// Section groups bindings under a heading.
type Section struct {
	Title    string
	Bindings []key.Binding
}

// Model caches the rendered markdown per width.
type Model struct {
	sections []Section

	width    int
	rendered string
}

// New creates a help overlay for the given sections.
func New(sections ...Section) Model {
	return Model{sections: sections}
}

// Markdown returns the source document.
func (m Model) Markdown() string {
	var b strings.Builder
	b.WriteString("# Referee keys\n\n")
	for _, s := range m.sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		b.WriteString("| Key | Action |\n|---|---|\n")
		for _, kb := range s.Bindings {
			h := kb.Help()
			if h.Key == "" {
				continue
			}
			fmt.Fprintf(&b, "| `%s` | %s |\n", h.Key, h.Desc)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SetWidth re-renders the document when the width changes.
func (m *Model) SetWidth(width int) {
	innerW := width - 4
	if innerW < 30 {
		innerW = 30
	}
	if m.rendered != "" && m.width == innerW {
		return
	}
	m.width = innerW
	m.rendered = m.render(innerW)
}

// View renders the overlay. SetWidth must have been called.
func (m Model) View() string {
	footer := theme.StyleDimmed.Render("esc:close")
	return theme.Panel(m.width).Render(strings.TrimRight(m.rendered, "\n") + "\n\n" + footer)
}

// render falls back to the raw document if glamour fails.
func (m Model) render(width int) string {
	md := m.Markdown()
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width-2),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
