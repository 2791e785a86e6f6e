// Package vpn provides VPN connection management functionality.
// This file contains the Supervisor which runs one client process and
// drives its connection state.
package vpn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/yllada/ovpn-manager/common"
)

// SupervisorConfig holds the collaborators of a Supervisor.
type SupervisorConfig struct {
	// ProfileID tags every event the supervisor publishes.
	ProfileID string
	// Name is used in log messages.
	Name string
	// Spec is the client to launch.
	Spec LaunchSpec
	// Launcher starts the client. Defaults to ExecLauncher.
	Launcher Launcher
	// Dialer connects to the management interface when
	// Spec.ManagementAddr is set. Defaults to a TCP dialer.
	Dialer ManagementDialer
	// Hub receives state and log events. A private hub is created when nil.
	Hub *Hub
	// StopTimeout is how long a stopping client may take before it is
	// killed. Defaults to common.StopTimeout.
	StopTimeout time.Duration
	// OnBeforeStart runs before each launch; an error aborts the launch.
	OnBeforeStart func() error
	// OnExit runs after the client has exited or failed to launch.
	OnExit func()
	// Logger defaults to the application logger.
	Logger common.Logger
}

// session is one run of the client process.
type session struct {
	proc   Process
	ctx    context.Context
	cancel context.CancelFunc

	outputs  sync.WaitGroup
	mgmtDone chan struct{}

	mgmtMu sync.Mutex
	mgmt   io.Writer

	killTimer  *time.Timer
	authFailed bool
}

// sendCommand writes a management command if the interface is connected.
func (s *session) sendCommand(cmd string) error {
	s.mgmtMu.Lock()
	defer s.mgmtMu.Unlock()
	if s.mgmt == nil {
		return fmt.Errorf("management interface not connected")
	}
	return writeCommand(s.mgmt, cmd)
}

// Supervisor launches one VPN client, reads its output and tracks its
// ConnectionState. All methods are safe for concurrent use.
type Supervisor struct {
	cfg SupervisorConfig
	log common.Logger

	mu      sync.Mutex
	machine *stateMachine
	sess    *session
	changed chan struct{}
}

// NewSupervisor creates a supervisor in the STOPPED state.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Launcher == nil {
		cfg.Launcher = ExecLauncher{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewTCPManagementDialer()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = common.StopTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ProfileID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = common.GetLogger().WithComponent("supervisor")
	}

	return &Supervisor{
		cfg:     cfg,
		log:     logger,
		machine: newStateMachine(cfg.ProfileID),
		changed: make(chan struct{}),
	}
}

// ProfileID returns the profile the supervisor runs.
func (s *Supervisor) ProfileID() string {
	return s.cfg.ProfileID
}

// Name returns the display name of the profile.
func (s *Supervisor) Name() string {
	return s.cfg.Name
}

// Hub returns the hub the supervisor publishes to.
func (s *Supervisor) Hub() *Hub {
	return s.cfg.Hub
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.state
}

// Pid returns the process id of the running client, or 0.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return 0
	}
	return s.sess.proc.Pid()
}

// Uptime returns how long the tunnel has been established.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.state != StateRunning {
		return 0
	}
	return time.Since(s.machine.since)
}

// Connect launches the client. It fails with ErrAlreadyRunning unless the
// supervisor is STOPPED, and with an error wrapping ErrSpawnFailure when
// the client cannot be started, in which case the state stays STOPPED.
func (s *Supervisor) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.state != StateStopped {
		s.diagf("connect ignored: %s is %s", s.cfg.Name, s.machine.state)
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrAlreadyRunning)
	}

	if s.cfg.OnBeforeStart != nil {
		if err := s.cfg.OnBeforeStart(); err != nil {
			s.diagf("failed to prepare %s: %v", s.cfg.Name, err)
			s.runOnExit()
			return fmt.Errorf("%w: %v", ErrSpawnFailure, err)
		}
	}

	s.log.Info("starting %s: %s", s.cfg.Name, s.cfg.Spec.CommandLine())
	proc, err := s.cfg.Launcher.Launch(s.cfg.Spec)
	if err != nil {
		s.diagf("failed to start %s: %v", s.cfg.Spec.Binary, err)
		s.runOnExit()
		return fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		proc:     proc,
		ctx:      ctx,
		cancel:   cancel,
		mgmtDone: make(chan struct{}),
	}
	s.sess = sess

	s.fireLocked(TriggerConnect)
	s.diagf("client started with pid %d", proc.Pid())

	sess.outputs.Add(2)
	go s.readOutput(sess, ChannelStdout, proc.Stdout())
	go s.readOutput(sess, ChannelStderr, proc.Stderr())

	if s.cfg.Spec.ManagementAddr != "" {
		go s.runManagement(sess)
	} else {
		close(sess.mgmtDone)
	}

	go s.waitExit(sess)

	return nil
}

// Disconnect asks the client to terminate. It fails with ErrNotRunning
// unless the supervisor is INITIALIZING or RUNNING. It does not wait for
// the client to exit; the state reaches STOPPED when the exit is
// observed, and the client is killed if it is still alive after
// StopTimeout.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.machine.state
	if state != StateInitializing && state != StateRunning {
		s.diagf("disconnect ignored: %s is %s", s.cfg.Name, state)
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrNotRunning)
	}

	sess := s.sess
	s.fireLocked(TriggerDisconnect)

	timeout := s.cfg.StopTimeout
	sess.killTimer = time.AfterFunc(timeout, func() {
		s.forceKill(sess, timeout)
	})

	if err := sess.proc.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug("SIGTERM to pid %d refused: %v", sess.proc.Pid(), err)
		if mErr := sess.sendCommand(cmdSigterm); mErr != nil {
			s.diagf("could not ask %s to stop (%v, %v); it will be killed in %s", s.cfg.Name, err, mErr, timeout)
		} else {
			s.diagf("stop requested through the management interface")
		}
	}

	return nil
}

// WaitState blocks until the supervisor reaches want or ctx is done.
func (s *Supervisor) WaitState(ctx context.Context, want ConnectionState) error {
	for {
		s.mu.Lock()
		state := s.machine.state
		changed := s.changed
		s.mu.Unlock()

		if state == want {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// WaitConnected blocks until the tunnel is established. It returns
// ErrUnexpectedExit when the client stops first and ErrNotRunning when a
// disconnect was requested meanwhile.
func (s *Supervisor) WaitConnected(ctx context.Context) error {
	for {
		s.mu.Lock()
		state := s.machine.state
		changed := s.changed
		s.mu.Unlock()

		switch state {
		case StateRunning:
			return nil
		case StateStopped:
			return fmt.Errorf("%s: %w", s.cfg.Name, ErrUnexpectedExit)
		case StateStopping:
			return fmt.Errorf("%s: %w", s.cfg.Name, ErrNotRunning)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-changed:
		}
	}
}

// fireLocked applies a trigger and publishes the resulting StateEvent
// while s.mu is held, so observers see transitions in commit order.
func (s *Supervisor) fireLocked(t Trigger) (StateEvent, bool) {
	ev, err := s.machine.fire(t)
	if err != nil {
		return StateEvent{}, false
	}

	s.log.Info("%s: %s -> %s (%s)", s.cfg.Name, ev.From, ev.To, ev.Trigger)
	s.cfg.Hub.PublishState(ev)

	close(s.changed)
	s.changed = make(chan struct{})
	return ev, true
}

// diagf publishes a supervisor diagnostic.
func (s *Supervisor) diagf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.log.Debug("%s", msg)
	s.cfg.Hub.PublishLog(NewLogEvent(s.cfg.ProfileID, Classify(ChannelSupervisor, msg), msg))
}

func (s *Supervisor) runOnExit() {
	if s.cfg.OnExit != nil {
		s.cfg.OnExit()
	}
}

// readOutput publishes every line of r until it is closed.
func (s *Supervisor) readOutput(sess *session, ch Channel, r io.Reader) {
	defer sess.outputs.Done()
	s.scanLines(sess, ch, r)
}

func (s *Supervisor) scanLines(sess *session, ch Channel, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), common.MaxLineLength)

	for scanner.Scan() {
		s.handleLine(sess, ch, scanner.Text())
	}

	if err := scanner.Err(); err != nil && sess.ctx.Err() == nil {
		s.diagf("error reading %s: %v", ch, err)
		if errors.Is(err, bufio.ErrTooLong) {
			// Keep draining so the client never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, r)
		}
	}
}

func (s *Supervisor) handleLine(sess *session, ch Channel, line string) {
	line = strings.TrimRight(line, "\r")
	s.cfg.Hub.PublishLog(NewLogEvent(s.cfg.ProfileID, Classify(ch, line), line))

	switch {
	case ch == ChannelManagement && isTunnelEstablished(line):
		s.established(sess)
	case ch == ChannelStdout && s.cfg.Spec.ManagementAddr == "" && strings.Contains(line, initSequenceCompleted):
		s.established(sess)
	}

	if isAuthFailure(line) {
		s.mu.Lock()
		first := !sess.authFailed
		sess.authFailed = true
		s.mu.Unlock()
		if first {
			s.diagf("authentication failed for %s, check username and password", s.cfg.Name)
		}
	}
}

func (s *Supervisor) established(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != sess {
		return
	}
	if _, ok := s.fireLocked(TriggerEstablished); ok {
		s.diagf("tunnel established")
	}
}

// runManagement connects to the management interface, enables state
// notifications, releases the hold and reads until the connection closes.
func (s *Supervisor) runManagement(sess *session) {
	defer close(sess.mgmtDone)

	conn, err := s.cfg.Dialer.Dial(sess.ctx, s.cfg.Spec.ManagementAddr)
	if err != nil {
		if sess.ctx.Err() == nil {
			s.diagf("management interface unavailable: %v", err)
		}
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sess.ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()

	sess.mgmtMu.Lock()
	sess.mgmt = conn
	sess.mgmtMu.Unlock()

	for _, cmd := range []string{cmdStateOn, cmdHoldRelease} {
		if err := sess.sendCommand(cmd); err != nil {
			if sess.ctx.Err() == nil {
				s.diagf("management command %q failed: %v", cmd, err)
			}
			return
		}
	}

	s.scanLines(sess, ChannelManagement, conn)

	sess.mgmtMu.Lock()
	sess.mgmt = nil
	sess.mgmtMu.Unlock()
}

// waitExit collects the exit of the client and moves the state to STOPPED.
func (s *Supervisor) waitExit(sess *session) {
	sess.outputs.Wait()
	err := sess.proc.Wait()

	sess.cancel()
	<-sess.mgmtDone

	s.diagf("%s", describeExit(err))
	s.runOnExit()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.killTimer != nil {
		sess.killTimer.Stop()
	}
	if s.sess == sess {
		s.sess = nil
	}

	from := s.machine.state
	if from == StateInitializing || from == StateRunning {
		msg := fmt.Sprintf("%s: %s while %s", s.cfg.Name, ErrUnexpectedExit, from)
		s.log.Warn("%s", msg)
		s.cfg.Hub.PublishLog(NewCrashEvent(s.cfg.ProfileID, msg))
	}
	s.fireLocked(TriggerExit)
}

// forceKill kills a client that ignored the termination request.
func (s *Supervisor) forceKill(sess *session, timeout time.Duration) {
	s.mu.Lock()
	alive := s.sess == sess
	s.mu.Unlock()
	if !alive {
		return
	}

	s.diagf("client did not stop within %s, killing process group %d", timeout, sess.proc.Pid())
	if err := sess.proc.Kill(); err != nil {
		s.diagf("kill failed: %v", err)
	}
}
