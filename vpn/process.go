// Package vpn provides VPN connection management functionality.
// This file contains the process launching abstraction used by the
// Supervisor.
package vpn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// LaunchSpec describes the client process to start.
type LaunchSpec struct {
	// Binary is the executable, looked up in PATH when not absolute.
	Binary string
	// Args are the command line arguments.
	Args []string
	// Dir is the working directory. Empty means the current one.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// ManagementAddr is the host:port of the management interface, or
	// empty when the client runs without one.
	ManagementAddr string
}

// CommandLine renders the command for logs.
func (s LaunchSpec) CommandLine() string {
	return strings.TrimSpace(s.Binary + " " + strings.Join(s.Args, " "))
}

// Process is a running client.
type Process interface {
	Pid() int
	// Stdout and Stderr yield the output streams. Both must be read to
	// EOF before Wait is called.
	Stdout() io.Reader
	Stderr() io.Reader
	Signal(sig os.Signal) error
	// Kill terminates the process together with the processes it
	// started, so no helper outlives the client.
	Kill() error
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
}

// Launcher starts client processes.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// ExecLauncher starts clients with os/exec.
type ExecLauncher struct{}

// Launch starts the process described by spec.
func (ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	if spec.Binary == "" {
		return nil, fmt.Errorf("no executable given")
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Kill() error       { return killProcessGroup(p.cmd.Process) }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// describeExit turns the result of Process.Wait into a log message.
func describeExit(err error) string {
	if err == nil {
		return "client exited with status 0"
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return fmt.Sprintf("client killed by signal %s", status.Signal())
		}
		return fmt.Sprintf("client exited with status %d", exitErr.ExitCode())
	}

	return fmt.Sprintf("client exited: %v", err)
}
