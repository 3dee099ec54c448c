package app

import (
	"github.com/charmbracelet/bubbles/key"

	"github.com/tkd-scorelink/referee/internal/protocol"
	"github.com/tkd-scorelink/referee/internal/views/help"
	"github.com/tkd-scorelink/referee/internal/views/scoreboard"
)

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	// Scoring keys, one per technique in scoreboard.Techniques order.
	Red  []key.Binding
	Blue []key.Binding

	Connect    key.Binding
	Disconnect key.Binding
	Reset      key.Binding
	Settings   key.Binding
	Help       key.Binding
	Debug      key.Binding
	Level      key.Binding
	Up         key.Binding
	Down       key.Binding
	Escape     key.Binding
	Quit       key.Binding
}

func scoring(keys []string) []key.Binding {
	out := make([]key.Binding, len(keys))
	for i, k := range keys {
		out[i] = key.NewBinding(
			key.WithKeys(k),
			key.WithHelp(k, scoreboard.Techniques[i]),
		)
	}
	return out
}

// DefaultKeyMap returns the default key bindings. Red scores on the left
// hand's home row, blue on the right's.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Red:  scoring([]string{"a", "s", "d", "f", "g"}),
		Blue: scoring([]string{"h", "j", "k", "l", ";"}),
		Connect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "connect"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "disconnect"),
		),
		Reset: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reset tallies"),
		),
		Settings: key.NewBinding(
			key.WithKeys(","),
			key.WithHelp(",", "settings"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Debug: key.NewBinding(
			key.WithKeys("`"),
			key.WithHelp("`", "debug log"),
		),
		Level: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "debug log level"),
		),
		Up: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "scroll down"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Labels returns the scoring key labels per side, for the scoreboard.
func (k KeyMap) Labels() map[protocol.Target][]string {
	labels := func(bs []key.Binding) []string {
		out := make([]string, len(bs))
		for i, b := range bs {
			out[i] = b.Help().Key
		}
		return out
	}
	return map[protocol.Target][]string{
		protocol.TargetRed:  labels(k.Red),
		protocol.TargetBlue: labels(k.Blue),
	}
}

// HelpSections groups the bindings for the help overlay.
func (k KeyMap) HelpSections() []help.Section {
	return []help.Section{
		{Title: "Red scores", Bindings: k.Red},
		{Title: "Blue scores", Bindings: k.Blue},
		{Title: "Connection", Bindings: []key.Binding{k.Connect, k.Disconnect}},
		{Title: "Screen", Bindings: []key.Binding{k.Reset, k.Settings, k.Help, k.Debug, k.Level, k.Up, k.Down, k.Escape, k.Quit}},
	}
}
