package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/ovpn-manager/vpn"
)

var (
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	stateStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))

	categoryStyles = map[vpn.LogCategory]lipgloss.Style{
		vpn.CategoryManagement: lipgloss.NewStyle().Foreground(lipgloss.Color("#00BFFF")),
		vpn.CategoryStderr:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")),
		vpn.CategoryStdout:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		vpn.CategoryInternal:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")),
	}
)

// formatLine renders one log line as "15:04:05 [PREFIX] message".
func formatLine(at time.Time, category vpn.LogCategory, message string) string {
	prefix := fmt.Sprintf("[%s]", category)
	if style, ok := categoryStyles[category]; ok {
		prefix = style.Render(prefix)
	}
	return fmt.Sprintf("%s %s %s", timeStyle.Render(at.Format("15:04:05")), prefix, message)
}

// syncWriter serializes writes from the CLI and its hub observer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// logPrinter writes the events of one profile to a terminal.
type logPrinter struct {
	out       io.Writer
	profileID string
}

func newLogPrinter(out io.Writer, profileID string) *logPrinter {
	return &logPrinter{out: out, profileID: profileID}
}

func (p *logPrinter) OnStateChanged(e vpn.StateEvent) {
	if e.ProfileID != p.profileID {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n",
		timeStyle.Render(e.Time.Format("15:04:05")),
		stateStyle.Render(fmt.Sprintf("%s -> %s", e.From, e.To)))
}

func (p *logPrinter) OnLog(e vpn.LogEvent) {
	if e.ProfileID() != p.profileID {
		return
	}
	fmt.Fprintln(p.out, formatLine(e.Time(), e.Category(), e.Message()))
}
