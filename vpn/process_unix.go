//go:build !windows

package vpn

import (
	"os"
	"os/exec"
	"syscall"
)

// configureProcAttr puts the client in its own process group so a
// Ctrl+C on the controlling terminal reaches the manager only, which
// then stops the client through the normal disconnect path.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the group led by p. pkexec and the
// scripts openvpn runs share that group.
func killProcessGroup(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}
