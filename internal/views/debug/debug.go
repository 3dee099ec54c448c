// Package debug is the activity log overlay: link events and captured log
// lines, filtered by level.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap/zapcore"

	"github.com/tkd-scorelink/referee/internal/logging"
	"github.com/tkd-scorelink/referee/internal/theme"
)

const maxEntries = 200

// Entry kinds used by the app.
const (
	KindConn  = "conn"
	KindError = "err"
	KindScore = "scr"
	KindAck   = "ack"
	KindLog   = "log"
)

// Entry is a single activity line.
type Entry struct {
	Time  time.Time
	Kind  string
	Level zapcore.Level
	// Source is the logger that wrote a captured log line.
	Source  string
	Message string
}

// Model holds the activity log. Offset counts visible lines hidden below
// the viewport; zero means the view follows new entries.
type Model struct {
	Entries  []Entry
	Offset   int
	MinLevel zapcore.Level
	counts   map[string]int
}

// New creates an empty log showing every level.
func New() Model {
	return Model{MinLevel: zapcore.DebugLevel, counts: map[string]int{}}
}

// Add records a link event stamped now.
func (m *Model) Add(kind, message string) {
	m.AddAt(time.Now(), kind, message)
}

// AddAt records a link event with its own timestamp. Errors are logged at
// error level, everything else at info.
func (m *Model) AddAt(at time.Time, kind, message string) {
	level := zapcore.InfoLevel
	if kind == KindError {
		level = zapcore.ErrorLevel
	}
	m.push(Entry{Time: at, Kind: kind, Level: level, Message: message})
}

// AddLog records a captured log line, keeping its level and logger.
func (m *Model) AddLog(e logging.Entry) {
	m.push(Entry{
		Time:    e.Time,
		Kind:    KindLog,
		Level:   e.Level,
		Source:  e.Logger,
		Message: e.Message,
	})
}

func (m *Model) push(e Entry) {
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[e.Kind]++
	m.Entries = append(m.Entries, e)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	// A scrolled view stays on the lines it was showing.
	if m.Offset > 0 && m.shows(e) {
		m.Offset++
		m.clamp()
	}
}

// Count returns how many entries of kind were recorded, including ones
// already evicted from the buffer.
func (m Model) Count(kind string) int { return m.counts[kind] }

func (m Model) shows(e Entry) bool { return e.Level >= m.MinLevel }

// Visible returns the entries passing the level filter, oldest first.
func (m Model) Visible() []Entry {
	out := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if m.shows(e) {
			out = append(out, e)
		}
	}
	return out
}

// CycleLevel raises the filter one level, wrapping from error back to
// debug, and jumps to the newest entry.
func (m *Model) CycleLevel() {
	if m.MinLevel >= zapcore.ErrorLevel {
		m.MinLevel = zapcore.DebugLevel
	} else {
		m.MinLevel++
	}
	m.Offset = 0
}

// Following reports whether new entries scroll into view.
func (m Model) Following() bool { return m.Offset == 0 }

// ScrollUp moves the viewport towards older entries.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	m.clamp()
}

// ScrollDown moves the viewport towards newer entries.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

func (m *Model) clamp() {
	max := len(m.Visible()) - 1
	if max < 0 {
		max = 0
	}
	if m.Offset > max {
		m.Offset = max
	}
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 30 {
		innerW = 30
	}
	rows := height - 7
	if rows < 3 {
		rows = 3
	}

	title := theme.StyleHeader.Render(" ACTIVITY ")
	summary := theme.StyleDimmed.Render(fmt.Sprintf("level>=%s  scores %d  acks %d  errors %d",
		m.MinLevel.CapitalString(), m.Count(KindScore), m.Count(KindAck), m.Count(KindError)))
	footer := theme.StyleDimmed.Render("↑/↓:scroll  l:level  esc:close")

	visible := m.Visible()
	if len(visible) == 0 {
		body := theme.StyleDimmed.Render("  Nothing at this level yet.")
		return theme.Panel(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, summary, "", body, "", footer))
	}

	end := len(visible) - m.Offset
	if end < 0 {
		end = 0
	}
	start := end - rows
	if start < 0 {
		start = 0
	}

	lines := make([]string, 0, end-start)
	for _, e := range visible[start:end] {
		lines = append(lines, renderLine(e, innerW))
	}

	state := ""
	if !m.Following() {
		state = theme.StyleDimmed.Render(fmt.Sprintf(" paused, %d newer", m.Offset))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, title, summary, strings.Join(lines, "\n"), state, footer)
	return theme.Panel(innerW).Render(content)
}

func renderLine(e Entry, width int) string {
	ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
	lvl := lipgloss.NewStyle().Foreground(levelColor(e.Level)).Width(5).Render(e.Level.CapitalString())
	tag := e.Kind
	if e.Source != "" {
		tag = e.Source
	}
	tagStr := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(6).Render(tag)

	msg := e.Message
	room := width - 27
	if room > 3 && len(msg) > room {
		msg = msg[:room-3] + "..."
	}
	return fmt.Sprintf("%s %s %s %s", ts, lvl, tagStr, msg)
}

func levelColor(l zapcore.Level) lipgloss.Color {
	switch {
	case l >= zapcore.ErrorLevel:
		return theme.ColorDanger
	case l == zapcore.WarnLevel:
		return theme.ColorWarning
	case l == zapcore.DebugLevel:
		return theme.ColorDimmed
	default:
		return theme.ColorInfo
	}
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case KindError:
		return theme.ColorDanger
	case KindScore:
		return theme.ColorBright
	case KindAck:
		return theme.ColorAcked
	case KindConn:
		return theme.ColorInfo
	default:
		return theme.ColorDimmed
	}
}
