// Package scoreboard renders the red and blue scoring zones. A zone that
// just scored flashes its border; the flash decays on a spring.
package scoreboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/tkd-scorelink/referee/internal/protocol"
	"github.com/tkd-scorelink/referee/internal/settings"
	"github.com/tkd-scorelink/referee/internal/theme"
)

const (
	fps = 60
	// flashVisible is the spring position below which a zone is drawn at rest.
	flashVisible = 0.05
)

// Techniques in the order their keys are laid out.
var Techniques = []string{
	protocol.TechniquePunch,
	protocol.TechniqueBodyTap,
	protocol.TechniqueBodySwipe,
	protocol.TechniqueHeadTap,
	protocol.TechniqueHeadSwipe,
}

// FrameMsg advances the flash animation.
type FrameMsg struct{}

// Tally counts points for one side.
type Tally struct {
	Sent   int
	Acked  int
	Remote int // points other referees awarded, as broadcast by the server
}

type flash struct {
	pos, vel float64
}

// Model holds the scoreboard state.
type Model struct {
	Points settings.Points
	// Keys holds the key label per technique, per side.
	Keys  map[protocol.Target][]string
	Width int

	tallies   map[protocol.Target]*Tally
	flashes   map[protocol.Target]*flash
	spring    harmonica.Spring
	animating bool
}

// New creates a scoreboard using the given point values.
func New(points settings.Points, keys map[protocol.Target][]string) Model {
	return Model{
		Points: points,
		Keys:   keys,
		tallies: map[protocol.Target]*Tally{
			protocol.TargetRed:  {},
			protocol.TargetBlue: {},
		},
		flashes: map[protocol.Target]*flash{
			protocol.TargetRed:  {},
			protocol.TargetBlue: {},
		},
		spring: harmonica.NewSpring(harmonica.FPS(fps), 8.0, 0.6),
	}
}

// Tally returns the counts for a side.
func (m Model) Tally(side protocol.Target) Tally {
	if t, ok := m.tallies[side]; ok {
		return *t
	}
	return Tally{}
}

// Sent records a score the terminal transmitted and starts its flash.
func (m *Model) Sent(side protocol.Target, points int) tea.Cmd {
	t, ok := m.tallies[side]
	if !ok {
		return nil
	}
	t.Sent += points
	m.flashes[side].pos = 1
	m.flashes[side].vel = 0
	if m.animating {
		return nil
	}
	m.animating = true
	return frame()
}

// Acked records a server acknowledgement.
func (m *Model) Acked(side protocol.Target, points int) {
	if t, ok := m.tallies[side]; ok {
		t.Acked += points
	}
}

// Remote records another referee's score.
func (m *Model) Remote(side protocol.Target, points int) {
	if t, ok := m.tallies[side]; ok {
		t.Remote += points
	}
}

// Reset clears the tallies.
func (m *Model) Reset() {
	for _, t := range m.tallies {
		*t = Tally{}
	}
}

// Flashing reports whether side is drawn highlighted.
func (m Model) Flashing(side protocol.Target) bool {
	f, ok := m.flashes[side]
	return ok && f.pos > flashVisible
}

// Animate advances every flash one frame. It returns the next frame
// command while any flash is still visible.
func (m *Model) Animate(FrameMsg) tea.Cmd {
	if !m.animating {
		return nil
	}
	active := false
	for _, f := range m.flashes {
		f.pos, f.vel = m.spring.Update(f.pos, f.vel, 0)
		if f.pos > flashVisible || f.pos < -flashVisible {
			active = true
		}
	}
	if !active {
		for _, f := range m.flashes {
			f.pos, f.vel = 0, 0
		}
		m.animating = false
		return nil
	}
	return frame()
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{} })
}

// View renders both zones side by side.
func (m Model) View() string {
	width := m.Width
	if width < 60 {
		width = 60
	}
	zoneW := width/2 - 4
	return lipgloss.JoinHorizontal(lipgloss.Top,
		m.zone(protocol.TargetRed, zoneW),
		"  ",
		m.zone(protocol.TargetBlue, zoneW),
	)
}

func (m Model) zone(side protocol.Target, width int) string {
	color := theme.SideColor(string(side))
	border := theme.SideDimColor(string(side))
	if m.Flashing(side) {
		border = theme.ColorFlash
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(color).Render(strings.ToUpper(string(side)))

	keys := m.Keys[side]
	var rows []string
	for i, technique := range Techniques {
		label := "?"
		if i < len(keys) {
			label = keys[i]
		}
		pts, _ := m.Points.For(technique)
		rows = append(rows, fmt.Sprintf("[%s] %-11s %+d", label, strings.ReplaceAll(technique, "_", " "), pts))
	}

	t := m.Tally(side)
	tally := fmt.Sprintf("sent %d", t.Sent)
	tally += "  " + lipgloss.NewStyle().Foreground(theme.ColorAcked).Render(fmt.Sprintf("acked %d", t.Acked))
	if t.Remote > 0 {
		tally += "  " + theme.StyleDimmed.Render(fmt.Sprintf("others %d", t.Remote))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		strings.Join(rows, "\n"),
		"",
		tally,
	)
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Render(content)
}
