//go:build unix

package procsup

import (
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

// configureProcAttr puts the child in its own process group so the whole
// tree can be signalled at once.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}

// signalGroup sends SIGTERM or SIGKILL to the process group led by pid,
// falling back to the single process if the group is gone.
func signalGroup(pid int, graceful bool) error {
	sig := unix.SIGKILL
	if graceful {
		sig = unix.SIGTERM
	}
	err := unix.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if err2 := unix.Kill(pid, sig); err2 != nil {
		if errors.Is(err2, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal %v to group -%d: %w (process: %w)", sig, pid, err, err2)
	}
	return nil
}

// signalLeftovers signals what remains of the process group after its
// leader exited. A group that is already gone is not an error.
func signalLeftovers(pgid int, graceful bool) {
	sig := unix.SIGKILL
	if graceful {
		sig = unix.SIGTERM
	}
	_ = unix.Kill(-pgid, sig)
}
