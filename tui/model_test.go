package tui

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/ovpn-manager/vpn"
)

type call struct {
	op, id, password string
}

type fakeController struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeController) Connect(id, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"connect", id, password})
	return f.err
}

func (f *fakeController) Disconnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"disconnect", id, ""})
	return f.err
}

func newTestModel(ctrl Controller) Model {
	m := New(ctrl, []Profile{
		{ID: "p1", Name: "office"},
		{ID: "p2", Name: "home"},
	}, 3)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_StateEventsUpdateList(t *testing.T) {
	m := newTestModel(&fakeController{})

	m, _ = update(t, m, stateMsg{vpn.StateEvent{ProfileID: "p2", From: vpn.StateStopped, To: vpn.StateInitializing}})
	m, _ = update(t, m, stateMsg{vpn.StateEvent{ProfileID: "p2", From: vpn.StateInitializing, To: vpn.StateRunning}})

	if m.profiles[1].State != vpn.StateRunning {
		t.Errorf("profile state = %v, want %v", m.profiles[1].State, vpn.StateRunning)
	}
	if m.profiles[0].State != vpn.StateStopped {
		t.Errorf("other profile state = %v, want %v", m.profiles[0].State, vpn.StateStopped)
	}
	if !strings.Contains(m.View(), "Connected") {
		t.Error("View() should show the Connected label")
	}
}

func TestModel_LogBufferPerProfile(t *testing.T) {
	m := newTestModel(&fakeController{})

	for i := range 5 {
		m, _ = update(t, m, logMsg{vpn.NewLogEvent("p1", vpn.CategoryStdout, fmt.Sprintf("line %d", i))})
	}
	m, _ = update(t, m, logMsg{vpn.NewLogEvent("p2", vpn.CategoryStderr, "other")})

	if got := m.logs["p1"].Len(); got != 3 {
		t.Errorf("p1 buffer Len() = %d, want 3", got)
	}
	entries := m.logs["p1"].Entries()
	if entries[0].Message() != "line 2" || entries[2].Message() != "line 4" {
		t.Errorf("buffer kept %q..%q, want line 2..line 4", entries[0].Message(), entries[2].Message())
	}

	view := m.viewport.View()
	if !strings.Contains(view, "line 4") || strings.Contains(view, "other") {
		t.Errorf("viewport should show the selected profile only:\n%s", view)
	}

	m, _ = update(t, m, keyMsg("j"))
	if !strings.Contains(m.viewport.View(), "other") {
		t.Error("selecting p2 should show its log")
	}

	m, _ = update(t, m, keyMsg("x"))
	if m.logs["p2"].Len() != 0 {
		t.Error("clear should empty the selected buffer")
	}
}

func TestModel_NewConnectionClearsLog(t *testing.T) {
	m := newTestModel(&fakeController{})

	m, _ = update(t, m, logMsg{vpn.NewLogEvent("p1", vpn.CategoryStdout, "old session")})
	m, _ = update(t, m, logMsg{vpn.NewLogEvent("p2", vpn.CategoryStdout, "other profile")})
	m, _ = update(t, m, stateMsg{vpn.StateEvent{ProfileID: "p1", From: vpn.StateRunning, To: vpn.StateStopped}})
	if m.logs["p1"].Len() != 1 {
		t.Fatal("stopping should keep the log")
	}

	m, _ = update(t, m, stateMsg{vpn.StateEvent{ProfileID: "p1", From: vpn.StateStopped, To: vpn.StateInitializing}})

	if got := m.logs["p1"].Len(); got != 0 {
		t.Errorf("p1 buffer Len() = %d, want 0", got)
	}
	if strings.Contains(m.viewport.View(), "old session") {
		t.Error("viewport should drop the previous session's log")
	}
	if m.logs["p2"].Len() != 1 {
		t.Error("other profiles keep their log")
	}
}

func TestModel_ConnectAndDisconnect(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	m, cmd := update(t, m, keyMsg("c"))
	if cmd == nil {
		t.Fatal("connect key should return a command")
	}
	if msg := cmd(); msg != nil {
		t.Errorf("successful connect returned %v", msg)
	}

	m, _ = update(t, m, keyMsg("k"))
	_, cmd = update(t, m, keyMsg("d"))
	cmd()

	want := []call{{"connect", "p1", ""}, {"disconnect", "p2", ""}}
	if len(ctrl.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ctrl.calls, want)
	}
	for i := range want {
		if ctrl.calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, ctrl.calls[i], want[i])
		}
	}
}

func TestModel_PasswordPrompt(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	m, _ = update(t, m, keyMsg("p"))
	if !m.asking {
		t.Fatal("p should open the password prompt")
	}

	// Keys go to the input while it is open.
	for _, r := range "s3cret" {
		m, _ = update(t, m, keyMsg(string(r)))
	}
	if !strings.Contains(m.View(), "Password for office") {
		t.Error("View() should show the prompt")
	}
	if strings.Contains(m.View(), "s3cret") {
		t.Error("password must not be echoed")
	}

	m, cmd := update(t, m, keyMsg("enter"))
	if m.asking {
		t.Error("enter should close the prompt")
	}
	cmd()

	if len(ctrl.calls) != 1 || ctrl.calls[0] != (call{"connect", "p1", "s3cret"}) {
		t.Errorf("calls = %v", ctrl.calls)
	}
}

func TestModel_PasswordPromptCancel(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	m, _ = update(t, m, keyMsg("p"))
	m, _ = update(t, m, keyMsg("a"))
	m, cmd := update(t, m, keyMsg("esc"))

	if m.asking || cmd != nil {
		t.Error("esc should close the prompt without a command")
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("calls = %v, want none", ctrl.calls)
	}
}

func TestModel_RejectedRequestShowsError(t *testing.T) {
	ctrl := &fakeController{err: fmt.Errorf("office: %w", vpn.ErrAlreadyRunning)}
	m := newTestModel(ctrl)

	_, cmd := update(t, m, keyMsg("c"))
	msg := cmd()
	em, ok := msg.(errMsg)
	if !ok || !errors.Is(em.err, vpn.ErrAlreadyRunning) {
		t.Fatalf("cmd() = %v, want errMsg", msg)
	}

	m, _ = update(t, m, msg)
	if !strings.Contains(m.View(), "connection is not stopped") {
		t.Errorf("View() should show the error, got:\n%s", m.View())
	}
}

func TestModel_Quit(t *testing.T) {
	m := newTestModel(&fakeController{})

	_, cmd := update(t, m, keyMsg("q"))
	if cmd == nil {
		t.Fatal("q should return tea.Quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestBridge(t *testing.T) {
	var got []tea.Msg
	b := NewBridge(func(msg tea.Msg) { got = append(got, msg) })

	b.OnStateChanged(vpn.StateEvent{ProfileID: "p1", To: vpn.StateRunning})
	b.OnLog(vpn.NewLogEvent("p1", vpn.CategoryInternal, "tunnel established"))

	if len(got) != 2 {
		t.Fatalf("sent %d messages, want 2", len(got))
	}
	if _, ok := got[0].(stateMsg); !ok {
		t.Errorf("first message = %T, want stateMsg", got[0])
	}
	if _, ok := got[1].(logMsg); !ok {
		t.Errorf("second message = %T, want logMsg", got[1])
	}
}

func TestModel_EmptyProfileList(t *testing.T) {
	m := New(&fakeController{}, nil, 10)

	m, cmd := update(t, m, keyMsg("c"))
	if cmd != nil {
		t.Error("connect without profiles should do nothing")
	}
	if !strings.Contains(m.View(), "No profiles") {
		t.Error("View() should explain the empty list")
	}
}
