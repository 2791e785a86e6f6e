//go:build !windows

package vpn

import (
	"bufio"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecProcess_KillReachesChildren(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	// The background sleep holds stdout open; the pipe only closes once
	// every process of the group is gone.
	proc, err := ExecLauncher{}.Launch(LaunchSpec{
		Binary: "sh",
		Args:   []string{"-c", "sleep 30 & echo started; wait"},
	})
	require.NoError(t, err)

	stdout := bufio.NewReader(proc.Stdout())
	line, err := stdout.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "started\n", line)

	go io.Copy(io.Discard, proc.Stderr())
	closed := make(chan struct{})
	go func() {
		io.Copy(io.Discard, stdout)
		close(closed)
	}()

	require.NoError(t, proc.Kill())

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("child of the client survived Kill")
	}
	require.Error(t, proc.Wait())
}
