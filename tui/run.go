package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/ovpn-manager/vpn"
)

// Bridge forwards hub events to a Bubble Tea program. The hub calls it
// on the subscription goroutine; send moves each event onto the
// program's own loop.
type Bridge struct {
	send func(tea.Msg)
}

var _ vpn.Observer = Bridge{}

// NewBridge returns an observer that delivers through send, usually
// (*tea.Program).Send.
func NewBridge(send func(tea.Msg)) Bridge {
	return Bridge{send: send}
}

// OnStateChanged implements vpn.Observer.
func (b Bridge) OnStateChanged(e vpn.StateEvent) {
	b.send(stateMsg{event: e})
}

// OnLog implements vpn.Observer.
func (b Bridge) OnLog(e vpn.LogEvent) {
	b.send(logMsg{event: e})
}

// ProfilesOf lists the manager's profiles with their current state.
func ProfilesOf(m *vpn.Manager) []Profile {
	var out []Profile
	for _, p := range m.ProfileManager().List() {
		state := vpn.StateStopped
		if sup, ok := m.Supervisor(p.ID); ok {
			state = sup.State()
		}
		out = append(out, Profile{ID: p.ID, Name: p.Name, State: state})
	}
	return out
}

// Run shows the TUI until the user quits or ctx is cancelled.
func Run(ctx context.Context, m *vpn.Manager, capacity int) error {
	model := New(m, ProfilesOf(m), capacity)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	sub := m.Subscribe(NewBridge(program.Send))
	defer sub.Close()

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
