// Package tui is the terminal front end. It lists profiles, shows the
// log of the selected one and drives connections through the Manager.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/ovpn-manager/vpn"
)

const listWidth = 28

// Controller is the part of the Manager the TUI drives.
type Controller interface {
	Connect(profileID, password string) error
	Disconnect(profileID string) error
}

// Profile is one row of the profile list.
type Profile struct {
	ID    string
	Name  string
	State vpn.ConnectionState
}

// stateMsg and logMsg carry hub events into the program.
type stateMsg struct{ event vpn.StateEvent }

type logMsg struct{ event vpn.LogEvent }

// errMsg reports a rejected request.
type errMsg struct{ err error }

// Model is the root Bubble Tea model.
type Model struct {
	ctrl     Controller
	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	password textinput.Model
	asking   bool

	profiles []Profile
	selected int
	logs     map[string]*vpn.LogBuffer
	capacity int
	status   string

	width  int
	height int
}

// New creates the root model. capacity bounds each profile's log.
func New(ctrl Controller, profiles []Profile, capacity int) Model {
	input := textinput.New()
	input.Placeholder = "password"
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'

	return Model{
		ctrl:     ctrl,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		viewport: viewport.New(80, 20),
		password: input,
		profiles: profiles,
		logs:     make(map[string]*vpn.LogBuffer),
		capacity: capacity,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(msg.Width-listWidth-3, 20)
		m.viewport.Height = max(msg.Height-4, 3)
		m.refreshLog()
		return m, nil

	case tea.KeyMsg:
		if m.asking {
			return m.handlePasswordKey(msg)
		}
		return m.handleKey(msg)

	case stateMsg:
		for i := range m.profiles {
			if m.profiles[i].ID == msg.event.ProfileID {
				m.profiles[i].State = msg.event.To
			}
		}
		// A new connection starts with an empty log.
		if id := msg.event.ProfileID; msg.event.To == vpn.StateInitializing {
			m.buffer(id).Clear()
			if id == m.selectedID() {
				m.refreshLog()
			}
		}
		return m, nil

	case logMsg:
		id := msg.event.ProfileID()
		m.buffer(id).Add(msg.event)
		if id == m.selectedID() {
			m.refreshLog()
		}
		return m, nil

	case errMsg:
		m.status = msg.err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.profiles) > 0 {
			m.selected = (m.selected + 1) % len(m.profiles)
			m.refreshLog()
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.profiles) > 0 {
			m.selected = (m.selected - 1 + len(m.profiles)) % len(m.profiles)
			m.refreshLog()
		}
		return m, nil

	case key.Matches(msg, m.keys.Connect):
		if id := m.selectedID(); id != "" {
			m.status = ""
			return m, connectCmd(m.ctrl, id, "")
		}
		return m, nil

	case key.Matches(msg, m.keys.Password):
		if m.selectedID() != "" {
			m.asking = true
			m.password.Reset()
			cmd := m.password.Focus()
			return m, cmd
		}
		return m, nil

	case key.Matches(msg, m.keys.Disconnect):
		if id := m.selectedID(); id != "" {
			m.status = ""
			return m, disconnectCmd(m.ctrl, id)
		}
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		if id := m.selectedID(); id != "" {
			m.buffer(id).Clear()
			m.refreshLog()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handlePasswordKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.asking = false
		m.password.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		m.asking = false
		m.password.Blur()
		pw := m.password.Value()
		m.password.Reset()
		m.status = ""
		return m, connectCmd(m.ctrl, m.selectedID(), pw)
	}

	var cmd tea.Cmd
	m.password, cmd = m.password.Update(msg)
	return m, cmd
}

func connectCmd(ctrl Controller, id, password string) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Connect(id, password); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func disconnectCmd(ctrl Controller, id string) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Disconnect(id); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) selectedID() string {
	if m.selected < 0 || m.selected >= len(m.profiles) {
		return ""
	}
	return m.profiles[m.selected].ID
}

// buffer returns the log of a profile, creating it on first use.
func (m Model) buffer(id string) *vpn.LogBuffer {
	b, ok := m.logs[id]
	if !ok {
		b = vpn.NewLogBuffer(m.capacity)
		m.logs[id] = b
	}
	return b
}

// refreshLog renders the selected profile's log into the viewport and
// keeps it pinned to the bottom while the user has not scrolled up.
func (m *Model) refreshLog() {
	follow := m.viewport.AtBottom()

	var b strings.Builder
	if id := m.selectedID(); id != "" {
		for i, e := range m.buffer(id).Entries() {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(renderLogLine(e))
		}
	}
	m.viewport.SetContent(b.String())

	if follow {
		m.viewport.GotoBottom()
	}
}

// View renders the profile list next to the log.
func (m Model) View() string {
	list := m.renderList()
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		listStyle.Height(m.viewport.Height).Render(list),
		logStyle.Render(m.viewport.View()),
	)

	footer := m.help.View(m.keys)
	if m.asking {
		footer = fmt.Sprintf("Password for %s: %s", m.profiles[m.selected].Name, m.password.View())
	} else if m.status != "" {
		footer = errorStyle.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("OpenVPN Manager"),
		body,
		footer,
	)
}

func (m Model) renderList() string {
	if len(m.profiles) == 0 {
		return dimStyle.Render("No profiles.\nAdd one with --add.")
	}

	var b strings.Builder
	for i, p := range m.profiles {
		cursor := "  "
		name := p.Name
		if i == m.selected {
			cursor = "> "
			name = selectedStyle.Render(name)
		}
		fmt.Fprintf(&b, "%s%s\n    %s\n", cursor, name, stateStyle(p.State).Render(p.State.Label()))
	}
	return strings.TrimRight(b.String(), "\n")
}
