package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/tkd-scorelink/referee/internal/conn"
	"github.com/tkd-scorelink/referee/internal/endpoint"
	"github.com/tkd-scorelink/referee/internal/logging"
	"github.com/tkd-scorelink/referee/internal/protocol"
	"github.com/tkd-scorelink/referee/internal/settings"
	"github.com/tkd-scorelink/referee/internal/theme"
	"github.com/tkd-scorelink/referee/internal/views/debug"
	"github.com/tkd-scorelink/referee/internal/views/help"
	"github.com/tkd-scorelink/referee/internal/views/scoreboard"
	"github.com/tkd-scorelink/referee/internal/views/settingsform"
	"github.com/tkd-scorelink/referee/internal/views/status"
)

const (
	eventBuffer   = 256
	toastTTL      = 3 * time.Second
	retryTickRate = 250 * time.Millisecond
)

// Link is the connection the UI drives. *conn.Manager implements it.
// Every method but Subscribe may block on the manager's loop, so the model
// only calls them from commands.
type Link interface {
	Connect(ep endpoint.Endpoint) error
	Disconnect()
	SendScore(ev protocol.ScoreEvent) bool
	SetIdentity(id int) error
	SetSecure(secure bool)
	Subscribe(fn func(conn.Event)) (cancel func())
}

// Store persists settings changes. *settings.Store implements it.
type Store interface {
	Update(p settings.Patch) (*settings.Settings, error)
}

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlaySettings
	OverlayHelp
	OverlayDebug
)

// Options configures the root model.
type Options struct {
	Link     Link
	Store    Store // nil keeps changes in memory only
	Settings *settings.Settings
	// Logs feeds the debug overlay, typically a logging.Tap.
	Logs                 <-chan logging.Entry
	Logger               *zap.Logger
	MaxReconnectAttempts int
	// AutoConnect connects on start when a server is configured.
	AutoConnect bool
}

// EventMsg delivers a connection event to the model.
type EventMsg struct{ Event conn.Event }

// LogMsg delivers a captured log line.
type LogMsg struct{ Entry logging.Entry }

type (
	scoreSentMsg struct {
		ev protocol.ScoreEvent
		ok bool
	}
	settingsSavedMsg struct {
		prev, next *settings.Settings
		err        error
	}
	retryTickMsg    struct{}
	toastExpiredMsg struct{ id int }
)

// Model is the root Bubble Tea model.
type Model struct {
	link        Link
	store       Store
	settings    *settings.Settings
	log         *zap.Logger
	autoConnect bool

	events      chan conn.Event
	unsubscribe func()
	logs        <-chan logging.Entry

	keys    KeyMap
	width   int
	height  int
	overlay Overlay

	// Sub-views.
	statusBar status.Model
	board     scoreboard.Model
	debugLog  debug.Model
	help      help.Model
	form      settingsform.Model

	toast        string
	toastErr     bool
	toastID      int
	retryTicking bool
}

// New creates the root model and subscribes to the link. Events that
// arrive before Init are buffered.
func New(opts Options) Model {
	st := opts.Settings
	if st == nil {
		st = settings.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	keys := DefaultKeyMap()
	m := Model{
		link:        opts.Link,
		store:       opts.Store,
		settings:    st,
		log:         logger.Named("ui"),
		autoConnect: opts.AutoConnect,
		events:      make(chan conn.Event, eventBuffer),
		logs:        opts.Logs,
		keys:        keys,
		statusBar:   status.New(),
		board:       scoreboard.New(st.Points, keys.Labels()),
		debugLog:    debug.New(),
		help:        help.New(keys.HelpSections()...),
	}
	if opts.MaxReconnectAttempts > 0 {
		m.statusBar.MaxAttempts = opts.MaxReconnectAttempts
	}
	m.applySettings()

	events := m.events
	m.unsubscribe = m.link.Subscribe(func(ev conn.Event) {
		// Observers run on the manager's loop and must not block it.
		select {
		case events <- ev:
		default:
		}
	})

	if !st.Configured() {
		m.openSettings()
	}
	return m
}

// Init starts the event and log bridges.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitEvent(m.events), waitLog(m.logs)}
	if m.autoConnect && m.settings.Configured() {
		cmds = append(cmds, m.connectCmd())
	}
	return tea.Batch(cmds...)
}

func waitEvent(ch <-chan conn.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return EventMsg{Event: ev}
	}
}

func waitLog(ch <-chan logging.Entry) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return LogMsg{Entry: e}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.board.Width = msg.Width
		m.help.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, waitEvent(m.events))

	case LogMsg:
		m.debugLog.AddLog(msg.Entry)
		return m, waitLog(m.logs)

	case scoreSentMsg:
		return m, m.scoreSent(msg)

	case settingsform.SubmitMsg:
		return m, m.save(msg.Patch)

	case settingsSavedMsg:
		if msg.err != nil {
			m.log.Warn("settings not saved", zap.Error(msg.err))
			m.form.SetErr(msg.err)
			return m, nil
		}
		m.log.Info("settings saved",
			zap.Int("referee", msg.next.RefereeID),
			zap.String("host", msg.next.Server.Host),
			zap.Int("port", msg.next.Server.Port),
		)
		m.settings = msg.next
		m.applySettings()
		m.overlay = OverlayNone
		return m, tea.Batch(m.reconfigure(msg.prev, msg.next), m.setToast("Settings saved", false))

	case scoreboard.FrameMsg:
		return m, m.board.Animate(msg)

	case retryTickMsg:
		if m.statusBar.Attempt > 0 && m.statusBar.State == conn.Disconnected {
			return m, retryTick()
		}
		m.retryTicking = false
		return m, nil

	case toastExpiredMsg:
		if msg.id == m.toastID {
			m.toast = ""
		}
		return m, nil
	}

	// Cursor blink and other input messages belong to the form.
	if m.overlay == OverlaySettings {
		var cmd tea.Cmd
		m.form, cmd = m.form.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, m.quit()
	}

	switch m.overlay {
	case OverlaySettings:
		if key.Matches(msg, m.keys.Escape) {
			m.overlay = OverlayNone
			return m, nil
		}
		var cmd tea.Cmd
		m.form, cmd = m.form.Update(msg)
		return m, cmd

	case OverlayHelp:
		if key.Matches(msg, m.keys.Escape, m.keys.Help) {
			m.overlay = OverlayNone
		}
		return m, nil

	case OverlayDebug:
		switch {
		case key.Matches(msg, m.keys.Escape, m.keys.Debug):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.debugLog.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.debugLog.ScrollDown(1)
		case key.Matches(msg, m.keys.Level):
			m.debugLog.CycleLevel()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, m.quit()

	case key.Matches(msg, m.keys.Settings):
		m.openSettings()
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.Connect):
		if !m.settings.Configured() {
			m.openSettings()
			return m, m.setToast("Set the scoring server address first", true)
		}
		return m, m.connectCmd()

	case key.Matches(msg, m.keys.Disconnect):
		link := m.link
		return m, func() tea.Msg {
			link.Disconnect()
			return nil
		}

	case key.Matches(msg, m.keys.Reset):
		m.board.Reset()
		return m, nil
	}

	for i, b := range m.keys.Red {
		if key.Matches(msg, b) {
			return m, m.score(protocol.TargetRed, i)
		}
	}
	for i, b := range m.keys.Blue {
		if key.Matches(msg, b) {
			return m, m.score(protocol.TargetBlue, i)
		}
	}
	return m, nil
}

func (m *Model) handleEvent(ev conn.Event) tea.Cmd {
	switch ev.Kind {
	case conn.EventStateChanged:
		prev := m.statusBar.State
		m.statusBar.SetState(ev.State)
		m.debugLog.AddAt(ev.At, debug.KindConn, fmt.Sprintf("%s -> %s", prev, ev.State))
		switch {
		case ev.State == conn.Lagging:
			return m.setToast("Server not answering heartbeats", true)
		case ev.State == conn.Connected && prev == conn.Disconnected:
			return m.setToast("Connected to "+m.statusBar.Endpoint, false)
		}

	case conn.EventError:
		text := "connection error"
		if ev.Err != nil {
			text = ev.Err.Error()
		}
		m.statusBar.LastError = text
		m.debugLog.AddAt(ev.At, debug.KindError, text)
		return m.setToast(text, true)

	case conn.EventReconnectScheduled:
		m.statusBar.SetReconnect(ev.Attempt, ev.At.Add(ev.Delay))
		m.debugLog.AddAt(ev.At, debug.KindConn, fmt.Sprintf("reconnect %d in %s", ev.Attempt, ev.Delay))
		if !m.retryTicking {
			m.retryTicking = true
			return retryTick()
		}

	case conn.EventScoreAcked:
		msg := ev.Message
		if msg.Points != nil {
			m.board.Acked(msg.Target, *msg.Points)
		}
		m.debugLog.AddAt(ev.At, debug.KindAck, describe(msg))

	case conn.EventRemoteScore:
		msg := ev.Message
		if msg.Points != nil {
			m.board.Remote(msg.Target, *msg.Points)
		}
		m.debugLog.AddAt(ev.At, debug.KindScore, fmt.Sprintf("referee %d: %s", msg.RefereeID, describe(msg)))
	}
	return nil
}

func describe(msg protocol.ServerMessage) string {
	s := msg.Action
	if msg.Points != nil {
		s += fmt.Sprintf(" %+d", *msg.Points)
	}
	if msg.Target != "" {
		s += " " + string(msg.Target)
	}
	return s
}

func (m Model) score(side protocol.Target, idx int) tea.Cmd {
	technique := scoreboard.Techniques[idx]
	pts, _ := m.settings.Points.For(technique)
	ev := protocol.ScoreEvent{Target: side, Points: pts, Action: technique}
	m.log.Debug("score key", zap.String("target", string(side)), zap.String("technique", technique))

	link := m.link
	return func() tea.Msg {
		return scoreSentMsg{ev: ev, ok: link.SendScore(ev)}
	}
}

func (m *Model) scoreSent(msg scoreSentMsg) tea.Cmd {
	ev := msg.ev
	label := fmt.Sprintf("%s %s %+d", ev.Target, strings.ReplaceAll(ev.Action, "_", " "), ev.Points)
	if !msg.ok {
		m.debugLog.Add(debug.KindError, "not sent: "+label)
		return m.setToast("Not connected: "+label+" not sent", true)
	}
	m.debugLog.Add(debug.KindScore, "sent: "+label)
	return m.board.Sent(ev.Target, ev.Points)
}

func (m Model) connectCmd() tea.Cmd {
	ep, err := m.settings.Endpoint()
	if err != nil {
		m.log.Warn("configured server is invalid", zap.Error(err))
	}
	link := m.link
	// Connect errors are also emitted as events, which is where they are shown.
	return func() tea.Msg {
		_ = link.Connect(ep)
		return nil
	}
}

func (m Model) save(p settings.Patch) tea.Cmd {
	prev, store := m.settings, m.store
	return func() tea.Msg {
		var next *settings.Settings
		var err error
		if store != nil {
			next, err = store.Update(p)
		} else if next, err = prev.Apply(p); err == nil {
			err = next.Validate()
		}
		return settingsSavedMsg{prev: prev, next: next, err: err}
	}
}

// reconfigure pushes saved settings to the link. The server is only
// reconnected when its address or scheme changed.
func (m Model) reconfigure(prev, next *settings.Settings) tea.Cmd {
	link := m.link
	serverChanged := prev.Server != next.Server
	return func() tea.Msg {
		_ = link.SetIdentity(next.RefereeID)
		link.SetSecure(next.Server.Secure)
		if !serverChanged {
			return nil
		}
		if !next.Configured() {
			link.Disconnect()
			return nil
		}
		if ep, err := next.Endpoint(); err == nil {
			_ = link.Connect(ep)
		}
		return nil
	}
}

func (m *Model) applySettings() {
	m.statusBar.Identity = m.settings.RefereeID
	m.statusBar.Endpoint = ""
	if m.settings.Configured() {
		if ep, err := m.settings.Endpoint(); err == nil {
			m.statusBar.Endpoint = ep.Address()
		}
	}
	m.board.Points = m.settings.Points
}

func (m *Model) openSettings() {
	m.form = settingsform.New(m.settings)
	m.overlay = OverlaySettings
}

func (m *Model) setToast(text string, isErr bool) tea.Cmd {
	m.toastID++
	m.toast = text
	m.toastErr = isErr
	id := m.toastID
	return tea.Tick(toastTTL, func(time.Time) tea.Msg { return toastExpiredMsg{id: id} })
}

func retryTick() tea.Cmd {
	return tea.Tick(retryTickRate, func(time.Time) tea.Msg { return retryTickMsg{} })
}

func (m Model) quit() tea.Cmd {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return tea.Quit
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch m.overlay {
	case OverlaySettings:
		body = m.form.View(m.width)
	case OverlayHelp:
		body = m.help.View()
	case OverlayDebug:
		body = m.debugLog.View(m.width, m.height-4)
	default:
		body = m.board.View()
	}

	toast := ""
	if m.toast != "" {
		style := theme.StyleOK
		if m.toastErr {
			style = theme.StyleError
		}
		toast = style.Render("  " + m.toast)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar.View(),
		body,
		toast,
		theme.StyleDimmed.Render("  a-g:red  h-;:blue  c:connect  x:disconnect  r:reset  ,:settings  ?:help  `:debug  q:quit"),
	)
}
