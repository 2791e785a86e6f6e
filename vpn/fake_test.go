package vpn

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// fakeProcess is a client whose output and exit are driven by the test.
type fakeProcess struct {
	pid int

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	mu           sync.Mutex
	signals      []os.Signal
	killed       bool
	refuseSignal bool
	exitOnSignal bool

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, exited: make(chan struct{})}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Pid() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	refuse, exit := p.refuseSignal, p.exitOnSignal
	p.mu.Unlock()

	if refuse {
		return errors.New("operation not permitted")
	}
	if exit {
		go p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	go p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

// exit closes the output streams and releases Wait.
func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
		p.exitErr = err
		close(p.exited)
	})
}

func (p *fakeProcess) writeStdout(line string) {
	_, _ = io.WriteString(p.stdoutW, line+"\n")
}

func (p *fakeProcess) writeStderr(line string) {
	_, _ = io.WriteString(p.stderrW, line+"\n")
}

func (p *fakeProcess) signalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals)
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeLauncher hands out prepared processes and counts launches.
type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	err      error
	launches int
	specs    []LaunchSpec
}

func (l *fakeLauncher) Launch(spec LaunchSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	if len(l.procs) == 0 {
		return nil, errors.New("no process prepared")
	}
	p := l.procs[0]
	l.procs = l.procs[1:]
	return p, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// pipeDialer connects the supervisor to an in-memory management server.
type pipeDialer struct {
	server *fakeManagement
}

func (d *pipeDialer) Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	client, server := net.Pipe()
	d.server.attach(server)
	return client, nil
}

// fakeManagement is the client side of the management interface as seen
// by the supervisor. It records the commands it receives.
type fakeManagement struct {
	mu       sync.Mutex
	conn     net.Conn
	commands []string
	ready    chan struct{}
	once     sync.Once
}

func newFakeManagement() *fakeManagement {
	return &fakeManagement{ready: make(chan struct{})}
}

func (m *fakeManagement) attach(conn net.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.once.Do(func() { close(m.ready) })

	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			m.mu.Lock()
			m.commands = append(m.commands, scanner.Text())
			m.mu.Unlock()
		}
	}()
}

// send writes a line to the supervisor once it has connected.
func (m *fakeManagement) send(line string) error {
	select {
	case <-m.ready:
	case <-time.After(2 * time.Second):
		return errors.New("management never connected")
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := io.WriteString(conn, line+"\n")
	return err
}

func (m *fakeManagement) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// recorder is an observer that keeps everything it receives.
type recorder struct {
	mu     sync.Mutex
	states []StateEvent
	logs   []LogEvent
	order  []string
}

func (r *recorder) OnStateChanged(e StateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, e)
	r.order = append(r.order, "state:"+e.To.String())
}

func (r *recorder) OnLog(e LogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, e)
	r.order = append(r.order, "log:"+e.Message())
}

func (r *recorder) stateSequence() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, 0, len(r.states))
	for _, e := range r.states {
		out = append(out, e.To)
	}
	return out
}

func (r *recorder) stateEvents() []StateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateEvent(nil), r.states...)
}

func (r *recorder) logEvents() []LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEvent(nil), r.logs...)
}

func (r *recorder) hasLog(category LogCategory, contains string) bool {
	for _, e := range r.logEvents() {
		if e.Category() == category && strings.Contains(e.Message(), contains) {
			return true
		}
	}
	return false
}

// nopLogger discards supervisor logging in tests.
type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
