package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tkd-scorelink/referee/internal/conn"
	"github.com/tkd-scorelink/referee/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	State     conn.State
	Identity  int
	Endpoint  string // empty when no server is configured
	LastError string
	Width     int

	// Pending reconnect, zero Attempt when none.
	Attempt     int
	MaxAttempts int
	RetryAt     time.Time
}

// New creates a status bar model.
func New() Model {
	return Model{MaxAttempts: conn.DefaultMaxReconnectAttempts}
}

// SetReconnect records a scheduled reconnect.
func (m *Model) SetReconnect(attempt int, at time.Time) {
	m.Attempt = attempt
	m.RetryAt = at
}

// SetState records a transition. Reaching a linked state clears the
// reconnect and error fields.
func (m *Model) SetState(s conn.State) {
	m.State = s
	if s.Linked() {
		m.Attempt = 0
		m.RetryAt = time.Time{}
		m.LastError = ""
	}
}

// View renders the status bar.
func (m Model) View() string {
	return m.render(time.Now())
}

func (m Model) render(now time.Time) string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	state := m.State.String()
	label := map[conn.State]string{
		conn.Connected:    "Connected",
		conn.Lagging:      "Lagging",
		conn.Disconnected: "Disconnected",
	}[m.State]
	connStr := lipgloss.NewStyle().
		Foreground(theme.HealthColor(state)).
		Render(theme.HealthGlyph(state) + " " + label)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := theme.StyleHeader.Render("TKD REFEREE") + sep +
		fmt.Sprintf("Referee %d", m.Identity) + sep + connStr

	if m.Endpoint != "" {
		content += sep + m.Endpoint
	} else {
		content += sep + theme.StyleDimmed.Render("no server set")
	}

	if m.Attempt > 0 && m.State == conn.Disconnected {
		retry := fmt.Sprintf("retry %d/%d", m.Attempt, m.MaxAttempts)
		if wait := m.RetryAt.Sub(now); wait > 0 {
			retry += fmt.Sprintf(" in %.1fs", wait.Seconds())
		}
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(retry)
	}
	if m.LastError != "" {
		content += sep + theme.StyleError.Render(m.LastError)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
