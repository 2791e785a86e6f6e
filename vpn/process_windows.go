//go:build windows

package vpn

import (
	"os"
	"os/exec"
)

func configureProcAttr(cmd *exec.Cmd) {}

func killProcessGroup(p *os.Process) error {
	return p.Kill()
}
