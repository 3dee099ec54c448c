// Package settingsform is the overlay that edits the server address and
// referee number.
package settingsform

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/settings"
	"github.com/tkd-scorelink/referee/internal/theme"
)

const (
	fieldHost = iota
	fieldPort
	fieldReferee
	fieldCount
)

var errPort = errors.New("port must be a number between 1 and 65535")

var labels = [fieldCount]string{"Server host", "Port", "Referee (1-3)"}

// SubmitMsg carries the validated changes.
type SubmitMsg struct {
	Patch settings.Patch
}

// Model is the form state.
type Model struct {
	inputs [fieldCount]textinput.Model
	focus  int
	secure bool
	err    string
}

// New creates a form prefilled from st.
func New(st *settings.Settings) Model {
	var m Model
	for i := range m.inputs {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 64
		ti.Width = 32
		m.inputs[i] = ti
	}
	m.inputs[fieldHost].Placeholder = "192.168.1.20"
	m.inputs[fieldPort].CharLimit = 5
	m.inputs[fieldReferee].CharLimit = 1

	if st != nil {
		m.inputs[fieldHost].SetValue(st.Server.Host)
		m.inputs[fieldPort].SetValue(strconv.Itoa(st.Server.Port))
		m.inputs[fieldReferee].SetValue(strconv.Itoa(st.RefereeID))
		m.secure = st.Server.Secure
	}
	m.inputs[fieldHost].Focus()
	return m
}

// Focused returns the index of the focused field.
func (m Model) Focused() int { return m.focus }

// Err returns the last validation error.
func (m Model) Err() string { return m.err }

// SetErr shows an error from saving.
func (m *Model) SetErr(err error) {
	if err == nil {
		m.err = ""
		return
	}
	m.err = err.Error()
}

// Update handles keys while the form is open. Esc is handled by the caller.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "tab", "down":
			return m.move(1), nil
		case "shift+tab", "up":
			return m.move(-1), nil
		case "ctrl+s":
			m.secure = !m.secure
			return m, nil
		case "enter":
			patch, err := m.patch()
			if err != nil {
				m.err = err.Error()
				return m, nil
			}
			m.err = ""
			return m, func() tea.Msg { return SubmitMsg{Patch: patch} }
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) move(delta int) Model {
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + fieldCount) % fieldCount
	m.inputs[m.focus].Focus()
	return m
}

func (m Model) patch() (settings.Patch, error) {
	host := strings.TrimSpace(m.inputs[fieldHost].Value())
	var p settings.Patch

	if host != "" {
		ep, err := endpoint.Parse(host)
		if err != nil {
			return p, err
		}
		// A port typed into the host field wins over the port field.
		bare := strings.TrimPrefix(strings.TrimPrefix(host, "wss://"), "ws://")
		if _, _, err := net.SplitHostPort(strings.TrimSuffix(bare, "/")); err == nil {
			p.Port = &ep.Port
		}
		host = ep.Host
	}
	p.Host = &host

	if p.Port == nil {
		port, err := strconv.Atoi(strings.TrimSpace(m.inputs[fieldPort].Value()))
		if err != nil || port < 1 || port > 65535 {
			return p, errPort
		}
		p.Port = &port
	}

	ref, err := strconv.Atoi(strings.TrimSpace(m.inputs[fieldReferee].Value()))
	if err != nil || ref < settings.MinRefereeID || ref > settings.MaxRefereeID {
		return p, fmt.Errorf("referee must be %d to %d", settings.MinRefereeID, settings.MaxRefereeID)
	}
	p.RefereeID = &ref

	secure := m.secure
	p.Secure = &secure
	return p, nil
}

// View renders the form panel.
func (m Model) View(width int) string {
	innerW := width - 4
	if innerW < 40 {
		innerW = 40
	}

	lines := []string{theme.StyleHeader.Render(" SETTINGS "), ""}
	for i, ti := range m.inputs {
		label := fmt.Sprintf("%-14s", labels[i])
		if i == m.focus {
			label = theme.StyleSelected.Render("> " + label)
		} else {
			label = theme.StyleDimmed.Render("  " + label)
		}
		lines = append(lines, label+" "+ti.View())
	}

	secure := theme.StyleDimmed.Render("off")
	if m.secure {
		secure = theme.StyleOK.Render("on")
	}
	lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  %-14s ", "Secure (wss)"))+secure)

	if m.err != "" {
		lines = append(lines, "", theme.StyleError.Render(m.err))
	}
	lines = append(lines, "", theme.StyleDimmed.Render("tab:next  ctrl+s:toggle wss  enter:save  esc:cancel"))

	return theme.Panel(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
